package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/room-client/internal/connectivity"
	"github.com/cwrk-planet/room-client/internal/domain"
	"github.com/cwrk-planet/room-client/internal/outbox"
	"github.com/cwrk-planet/room-client/internal/syncer"
	"github.com/cwrk-planet/room-client/internal/timeline"
	"github.com/cwrk-planet/room-client/pkg/errs"
	"github.com/cwrk-planet/room-client/pkg/httputil"
)

type Syncer interface {
	State() syncer.State
	HasMore() bool
	OnNearEnd(ctx context.Context) (syncer.PageResult, error)
	AddReaction(ctx context.Context, messageUUID, value string) (domain.Message, error)
}

type Outbox interface {
	Send(ctx context.Context, text, replyTo string) (outbox.Result, error)
	TrySend(ctx context.Context, localID string) (domain.Message, error)
}

type Handlers struct {
	Store  *timeline.Store
	Sync   Syncer
	Outbox Outbox
	Net    connectivity.Signal
}

// GET /status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, statusResponse{
		State:     h.Sync.State().String(),
		Online:    h.Net.Online(),
		HasMore:   h.Sync.HasMore(),
		Session:   h.Store.ServerInfo().SessionUUID,
		Watermark: h.Store.Watermark(),
		Messages:  h.Store.Len(),
		Pending:   h.Store.PendingLen(),
		Revision:  h.Store.Revision(),
	})
}

// GET /timeline
func (h *Handlers) Timeline(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, timelineResponse{
		Revision: h.Store.Revision(),
		HasMore:  h.Sync.HasMore(),
		Items:    toDisplayJSON(h.Store.Display()),
	})
}

// POST /history/older
func (h *Handlers) LoadOlder(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sync.OnNearEnd(r.Context())
	switch {
	case errors.Is(err, syncer.ErrHistoryExhausted):
		httputil.OK(w, syncer.PageResult{HasMore: false})
	case errors.Is(err, syncer.ErrPaginationInFlight):
		httputil.Error(w, http.StatusConflict, "page request already in flight", nil)
	case errors.Is(err, syncer.ErrNotReady):
		httputil.Error(w, http.StatusServiceUnavailable, "initial load not finished", nil)
	case err != nil:
		httputil.Fail(w, err)
	default:
		httputil.OK(w, res)
	}
}

// GET /participants
func (h *Handlers) Participants(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.Store.Participants())
}

// GET /participants/{uuid}
func (h *Handlers) Participant(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Store.Participant(chi.URLParam(r, "uuid"))
	if !ok {
		httputil.Fail(w, domain.ErrParticipantNotFound)
		return
	}
	httputil.OK(w, p)
}

// GET /messages/{uuid}
func (h *Handlers) Message(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	m, ok := h.Store.Message(id)
	if !ok {
		m, ok = h.Store.PendingMessage(id)
	}
	if !ok {
		httputil.Fail(w, domain.ErrMessageNotFound)
		return
	}
	httputil.OK(w, m)
}

// POST /messages
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var in sendMessageRequest
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Fail(w, err)
		return
	}

	res, err := h.Outbox.Send(r.Context(), in.Text, strings.TrimSpace(in.ReplyTo))
	if err != nil {
		httputil.Fail(w, err)
		return
	}
	if !res.Sent {
		httputil.Status(w, http.StatusAccepted, res)
		return
	}
	httputil.Status(w, http.StatusCreated, res)
}

// POST /messages/pending/{id}/retry
func (h *Handlers) RetryPending(w http.ResponseWriter, r *http.Request) {
	m, err := h.Outbox.TrySend(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Fail(w, err)
		return
	}
	httputil.OK(w, outbox.Result{Message: m, Sent: true})
}

// POST /messages/{uuid}/reactions
func (h *Handlers) AddReaction(w http.ResponseWriter, r *http.Request) {
	var in addReactionRequest
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Fail(w, err)
		return
	}
	if strings.TrimSpace(in.Value) == "" {
		httputil.Fail(w, errors.Join(errs.ErrInvalidInput, errors.New("value is required")))
		return
	}

	m, err := h.Sync.AddReaction(r.Context(), chi.URLParam(r, "uuid"), in.Value)
	if err != nil {
		httputil.Fail(w, err)
		return
	}
	httputil.OK(w, m)
}
