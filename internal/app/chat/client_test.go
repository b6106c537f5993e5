package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/room-client/internal/app/chat"
	"github.com/cwrk-planet/room-client/internal/connectivity"
	"github.com/cwrk-planet/room-client/internal/outbox"
	"github.com/cwrk-planet/room-client/internal/syncer"
	"github.com/cwrk-planet/room-client/pkg/errs"
	"github.com/cwrk-planet/room-client/pkg/httputil"
)

var (
	_ syncer.Transport    = (*chat.Client)(nil)
	_ outbox.Sender       = (*chat.Client)(nil)
	_ connectivity.Pinger = (*chat.Client)(nil)
)

type fakeServer struct {
	*httptest.Server
	lastReqID atomic.Value
	lastBody  atomic.Value
	hits      atomic.Int32
}

func writeJSON(w http.ResponseWriter, v string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(v))
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fs.hits.Add(1)
			fs.lastReqID.Store(r.Header.Get(httputil.HeaderRequestID))
			next.ServeHTTP(w, r)
		})
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/info", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `{"sessionUuid":"s-1","apiVersion":2}`)
		})
		r.Get("/messages/latest", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `[
				{"uuid":"m1","text":"hi","attachments":[],"reactions":[{"uuid":"r1","value":"","authorUuid":"u2","timestamp":1}],"authorUuid":"u1","sentAt":10,"updatedAt":10},
				{"uuid":"m2","text":"re","attachments":[{"uuid":"a1","type":"image","url":"https://x/1.png","width":4,"height":3}],"reactions":[],
				 "replyToMessage":{"uuid":"m1","text":"hi","attachments":[],"reactions":[],"authorUuid":"u1","sentAt":10,"updatedAt":10},
				 "authorUuid":"u2","sentAt":20,"updatedAt":20},
				{"uuid":"","text":"broken","authorUuid":"u2","sentAt":30,"updatedAt":30}
			]`)
		})
		r.Get("/messages/older/{uuid}", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "uuid") == "m1" {
				writeJSON(w, `[]`)
				return
			}
			http.Error(w, "unknown message", http.StatusNotFound)
		})
		r.Get("/messages/updates/{ts}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `[{"uuid":"m1","text":"edited","attachments":[],"reactions":[],"authorUuid":"u1","sentAt":10,"updatedAt":`+chi.URLParam(r, "ts")+`}]`)
		})
		r.Post("/messages/new", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			fs.lastBody.Store(body)
			writeJSON(w, `{"uuid":"srv-1","text":"hello","attachments":[],"reactions":[],"authorUuid":"you","sentAt":99,"updatedAt":99}`)
		})
		r.Post("/messages/{uuid}/reactions", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			fs.lastBody.Store(body)
			writeJSON(w, `{"uuid":"`+chi.URLParam(r, "uuid")+`","text":"hi","attachments":[],"reactions":[{"uuid":"r9","value":"👍","authorUuid":"you","timestamp":5}],"authorUuid":"u1","sentAt":10,"updatedAt":10}`)
		})
		r.Get("/participants/all", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `[{"uuid":"u1","name":"John","createdAt":1,"updatedAt":1},{"uuid":"","name":"ghost"}]`)
		})
		r.Get("/participants/updates/{ts}", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})
	})

	fs.Server = httptest.NewServer(r)
	t.Cleanup(fs.Close)
	return fs
}

func newClient(t *testing.T, fs *fakeServer) *chat.Client {
	t.Helper()
	c, err := chat.New(chat.Options{BaseURL: fs.URL + "/api", Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestClient_Info(t *testing.T) {
	fs := newFakeServer(t)
	c := newClient(t, fs)

	info, err := c.Info(httputil.WithRequestID(context.Background(), "req-42"))
	require.NoError(t, err)
	assert.Equal(t, "s-1", info.SessionUUID)
	assert.Equal(t, 2, info.APIVersion)
	assert.Equal(t, "req-42", fs.lastReqID.Load())

	require.NoError(t, c.Ping(context.Background()))
	assert.NotEmpty(t, fs.lastReqID.Load())
}

func TestClient_LatestMessages_SanitizesAndFlattens(t *testing.T) {
	c := newClient(t, newFakeServer(t))

	msgs, err := c.LatestMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Empty(t, msgs[0].Reactions)
	assert.Equal(t, "m1", msgs[1].ReplyToMessageUUID)
	require.Len(t, msgs[1].Attachments, 1)
}

func TestClient_OlderMessages(t *testing.T) {
	c := newClient(t, newFakeServer(t))

	msgs, err := c.OlderMessages(context.Background(), "m1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = c.OlderMessages(context.Background(), "zzz")
	assert.ErrorIs(t, err, errs.ErrUpstream)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_Updates(t *testing.T) {
	c := newClient(t, newFakeServer(t))

	msgs, err := c.MessageUpdates(context.Background(), 1234)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1234), msgs[0].UpdatedAt)

	_, err = c.ParticipantUpdates(context.Background(), 1234)
	assert.ErrorIs(t, err, errs.ErrUpstream)
}

func TestClient_AllParticipants(t *testing.T) {
	c := newClient(t, newFakeServer(t))

	parts, err := c.AllParticipants(context.Background())
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "John", parts[0].Name)
}

func TestClient_SendMessageAndReaction(t *testing.T) {
	fs := newFakeServer(t)
	c := newClient(t, fs)

	m, err := c.SendMessage(context.Background(), "hello", "m1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", m.UUID)
	assert.Equal(t, map[string]any{"text": "hello", "replyToMessage": "m1"}, fs.lastBody.Load())

	m, err = c.AddReaction(context.Background(), "m1", "👍")
	require.NoError(t, err)
	require.Len(t, m.Reactions, 1)
	assert.Equal(t, map[string]any{"value": "👍"}, fs.lastBody.Load())
}

func TestClient_Unreachable(t *testing.T) {
	fs := newFakeServer(t)
	base := fs.URL + "/api"
	fs.Close()

	c, err := chat.New(chat.Options{BaseURL: base, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Info(context.Background())
	assert.ErrorIs(t, err, errs.ErrUnavailable)
}

func TestClient_RateLimited(t *testing.T) {
	fs := newFakeServer(t)
	c, err := chat.New(chat.Options{BaseURL: fs.URL + "/api", Timeout: 50 * time.Millisecond, RPS: 0.1, Burst: 1})
	require.NoError(t, err)

	require.NoError(t, c.Ping(context.Background()))
	err = c.Ping(context.Background())
	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.Equal(t, int32(1), fs.hits.Load())
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := chat.New(chat.Options{BaseURL: "not a url"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
