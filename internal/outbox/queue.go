// Package outbox keeps user-authored messages until the server confirms
// them. A message is never dropped on a failed send; it stays in the
// store's pending overlay until a later attempt succeeds.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwrk-planet/room-client/internal/connectivity"
	"github.com/cwrk-planet/room-client/internal/domain"
	"github.com/cwrk-planet/room-client/internal/timeline"
	"github.com/cwrk-planet/room-client/pkg/errs"
	"github.com/cwrk-planet/room-client/pkg/logger"
)

var (
	ErrSendInFlight   = fmt.Errorf("%w: send already in flight", errs.ErrConflict)
	ErrUnknownPending = fmt.Errorf("pending message %w", errs.ErrNotFound)
	// ErrReplyTargetPending: the replied-to message is still queued locally.
	ErrReplyTargetPending = fmt.Errorf("%w: reply target not sent yet", errs.ErrConflict)
)

type Sender interface {
	SendMessage(ctx context.Context, text, replyTo string) (domain.Message, error)
}

type Queue struct {
	store  *timeline.Store
	sender Sender
	net    connectivity.Signal
	userID string
	now    func() time.Time
	log    *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	flushMu  sync.Mutex
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New builds a queue writing pending messages as userID (the local author).
func New(store *timeline.Store, sender Sender, net connectivity.Signal, userID string, opts ...Option) *Queue {
	if userID == "" {
		userID = "you"
	}
	if net == nil {
		net = connectivity.Static(true)
	}
	q := &Queue{
		store:    store,
		sender:   sender,
		net:      net,
		userID:   userID,
		now:      time.Now,
		log:      logger.With("outbox"),
		inflight: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue stores a pending message and returns it. It is visible in the
// display sequence right away.
func (q *Queue) Enqueue(text, replyTo string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, domain.ErrEmptyText
	}

	ts := domain.ToMillis(q.now())
	m := domain.Message{
		UUID:               domain.LocalIDPrefix + uuid.NewString(),
		Text:               text,
		Attachments:        []domain.Attachment{},
		ReplyToMessageUUID: strings.TrimSpace(replyTo),
		Reactions:          []domain.Reaction{},
		AuthorUUID:         q.userID,
		SentAt:             ts,
		UpdatedAt:          ts,
	}
	q.store.AddPending(m)
	return m, nil
}

// TrySend sends one pending message. On success the pending entry is
// swapped for the server message atomically; on failure it stays queued.
func (q *Queue) TrySend(ctx context.Context, localID string) (domain.Message, error) {
	pending, ok := q.store.PendingMessage(localID)
	if !ok {
		return domain.Message{}, ErrUnknownPending
	}
	if !q.net.Online() {
		return domain.Message{}, errs.ErrOffline
	}
	replyTo, err := q.replyTarget(pending)
	if err != nil {
		return domain.Message{}, err
	}

	q.mu.Lock()
	if _, busy := q.inflight[localID]; busy {
		q.mu.Unlock()
		return domain.Message{}, ErrSendInFlight
	}
	q.inflight[localID] = struct{}{}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.inflight, localID)
		q.mu.Unlock()
	}()

	confirmed, err := q.sender.SendMessage(ctx, pending.Text, replyTo)
	if err != nil {
		q.log.WarnContext(ctx, "send_failed", "local_id", localID, "err", err)
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}

	if !q.store.ConfirmPending(localID, confirmed) {
		// someone reset the store while we were sending; the server copy is kept
		q.log.InfoContext(ctx, "send_confirmed_after_reset", "local_id", localID, "uuid", confirmed.UUID)
	}
	q.log.DebugContext(ctx, "send_confirmed", "local_id", localID, "uuid", confirmed.UUID)
	return confirmed, nil
}

// replyTarget resolves the server uuid a pending message replies to. The
// server cannot resolve local ids, so a reply waits until its target is
// confirmed; ConfirmPending then rewrites the reference.
func (q *Queue) replyTarget(pending domain.Message) (string, error) {
	replyTo := pending.ReplyToMessageUUID
	if !domain.IsLocalID(replyTo) {
		return replyTo, nil
	}
	if _, waiting := q.store.PendingMessage(replyTo); waiting {
		return "", ErrReplyTargetPending
	}
	// target confirmed after pending was read, or dropped by a session reset
	if fresh, ok := q.store.PendingMessage(pending.UUID); ok && !domain.IsLocalID(fresh.ReplyToMessageUUID) {
		return fresh.ReplyToMessageUUID, nil
	}
	return "", nil
}

type Result struct {
	Message domain.Message `json:"message"`
	Sent    bool           `json:"sent"`
}

// Send enqueues text and makes one delivery attempt. A failed attempt is
// not an error: the message stays pending and Sent is false.
func (q *Queue) Send(ctx context.Context, text, replyTo string) (Result, error) {
	pending, err := q.Enqueue(text, replyTo)
	if err != nil {
		return Result{}, err
	}

	confirmed, err := q.TrySend(ctx, pending.UUID)
	if err != nil {
		return Result{Message: pending}, nil
	}
	return Result{Message: confirmed, Sent: true}, nil
}

// Flush retries every pending message in enqueue order. It stops at the
// first failure so later messages never overtake earlier ones, and returns
// how many were delivered.
func (q *Queue) Flush(ctx context.Context) (int, error) {
	if !q.flushMu.TryLock() {
		return 0, nil
	}
	defer q.flushMu.Unlock()

	sent := 0
	for _, m := range q.store.Pending() {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		_, err := q.TrySend(ctx, m.UUID)
		if errors.Is(err, ErrUnknownPending) {
			continue
		}
		if err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (q *Queue) Len() int { return q.store.PendingLen() }
