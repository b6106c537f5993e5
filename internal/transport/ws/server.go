// Package ws pushes timeline change notifications to local UI clients and
// accepts a couple of commands back over the same socket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/room-client/internal/connectivity"
	"github.com/cwrk-planet/room-client/internal/outbox"
	"github.com/cwrk-planet/room-client/internal/syncer"
	"github.com/cwrk-planet/room-client/internal/timeline"
	"github.com/cwrk-planet/room-client/pkg/logger"
)

type Pager interface {
	State() syncer.State
	OnNearEnd(ctx context.Context) (syncer.PageResult, error)
}

type Sender interface {
	Send(ctx context.Context, text, replyTo string) (outbox.Result, error)
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	store    *timeline.Store
	pager    Pager
	sender   Sender
	net      connectivity.Signal
	log      *slog.Logger

	pingEvery time.Duration
}

func NewServer(hub *Hub, store *timeline.Store, pager Pager, sender Sender, net connectivity.Signal) *Server {
	return &Server{
		hub:    hub,
		store:  store,
		pager:  pager,
		sender: sender,
		net:    net,
		log:    logger.With("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// HandleWS: GET /ws
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		s.log.WarnContext(r.Context(), "ws_upgrade_failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newWsConn(conn)
	s.hub.Add(c)
	s.log.DebugContext(r.Context(), "ws_connected", "conn", c.id)

	if err := c.Send(s.timelineEvent()); err != nil {
		s.log.WarnContext(r.Context(), "ws_send_initial_failed", "conn", c.id, "err", err)
	}

	go s.writeLoop(ctx, c)
	s.readLoop(ctx, c)

	s.hub.Remove(c)
	if err := c.Close(); err != nil {
		s.log.Debug("ws_close_failed", "conn", c.id, "err", err)
	}
	s.log.Debug("ws_disconnected", "conn", c.id)
}

// Run рассылает событие timeline на каждое изменение стора.
func (s *Server) Run(ctx context.Context) error {
	ch, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			s.hub.Broadcast(s.timelineEvent())
		}
	}
}

func (s *Server) timelineEvent() Message {
	p := TimelinePayload{
		Revision: s.store.Revision(),
		Session:  s.store.ServerInfo().SessionUUID,
		Online:   s.net.Online(),
		Pending:  s.store.PendingLen(),
	}
	if s.pager != nil {
		p.State = s.pager.State().String()
	}
	return Message{Type: TypeTimeline, Payload: p}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case TypeNearEnd:
			s.handleNearEnd(ctx, c)
		case TypeChat:
			var p ChatPayload
			if err := decode(msg.Payload, &p); err != nil {
				continue
			}
			s.handleChat(ctx, c, p)
		default:
			// ignore
		}
	}
}

func (s *Server) handleNearEnd(ctx context.Context, c *wsConn) {
	if s.pager == nil {
		return
	}
	res, err := s.pager.OnNearEnd(ctx)
	switch {
	case errors.Is(err, syncer.ErrPaginationInFlight):
		// другой запрос уже грузит страницу, его результат придёт через timeline
		return
	case errors.Is(err, syncer.ErrHistoryExhausted):
		res = syncer.PageResult{HasMore: false}
	case err != nil:
		_ = c.Send(Message{Type: TypeError, Payload: ErrorPayload{Message: err.Error()}})
		return
	}
	_ = c.Send(Message{Type: TypePage, Payload: PagePayload{Added: res.Added, HasMore: res.HasMore}})
}

func (s *Server) handleChat(ctx context.Context, c *wsConn, p ChatPayload) {
	if s.sender == nil {
		return
	}
	res, err := s.sender.Send(ctx, p.Text, p.ReplyTo)
	if err != nil {
		_ = c.Send(Message{Type: TypeError, Payload: ErrorPayload{Message: err.Error()}})
		return
	}
	_ = c.Send(Message{Type: TypeChatAck, Payload: ChatAckPayload{UUID: res.Message.UUID, Sent: res.Sent}})
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				_ = c.Close()
				return
			}
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

// --- helpers ---

func decode(payload any, dst any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, dst)
}

type wsConn struct {
	conn   *websocket.Conn
	id     string
	sendMu chan struct{}
	closed chan struct{}
}

func newWsConn(c *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   c,
		id:     uuid.NewString(),
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) ping() error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()

	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (c *wsConn) Close() error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()

	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}

	return c.conn.Close()
}

func (c *wsConn) ID() string { return c.id }
