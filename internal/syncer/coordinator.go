// Package syncer drives the three sync lifecycles against the chat server:
// the initial load, incremental polling and backward pagination. It is the
// only writer of the watermark and the session bookkeeping in the store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cwrk-planet/room-client/internal/connectivity"
	"github.com/cwrk-planet/room-client/internal/domain"
	"github.com/cwrk-planet/room-client/internal/timeline"
	"github.com/cwrk-planet/room-client/pkg/errs"
	"github.com/cwrk-planet/room-client/pkg/logger"
)

var (
	ErrPaginationInFlight = errors.New("older page request already in flight")
	ErrHistoryExhausted   = errors.New("no more history in this session")
	ErrNotReady           = errors.New("initial load has not completed")
)

type Transport interface {
	Info(ctx context.Context) (domain.ServerInfo, error)
	LatestMessages(ctx context.Context) ([]domain.Message, error)
	OlderMessages(ctx context.Context, refUUID string) ([]domain.Message, error)
	MessageUpdates(ctx context.Context, since int64) ([]domain.Message, error)
	AllParticipants(ctx context.Context) ([]domain.Participant, error)
	ParticipantUpdates(ctx context.Context, since int64) ([]domain.Participant, error)
	AddReaction(ctx context.Context, messageUUID, value string) (domain.Message, error)
}

// Flusher replays queued local messages, see outbox.Queue.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

type State int32

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PollMode selects how incremental updates are applied.
type PollMode int

const (
	// PollUpsert patches known records and adds unknown ones newer than the
	// oldest loaded message, so messages posted by others after the initial
	// load show up. Older unknown messages are left to pagination.
	PollUpsert PollMode = iota
	// PollPatch only replaces records already in the store.
	PollPatch
)

type PageResult struct {
	Added   int  `json:"added"`
	HasMore bool `json:"hasMore"`
}

type Options struct {
	PollInterval time.Duration // 3s
	PollMode     PollMode
	Flusher      Flusher
	Metrics      *Metrics
	Now          func() time.Time
}

type Coordinator struct {
	store *timeline.Store
	tr    Transport
	net   connectivity.Signal

	opts Options
	log  *slog.Logger
	m    *Metrics

	state   atomic.Int32
	loads   singleflight.Group
	polling atomic.Bool
	paging  atomic.Bool

	// mu orders session changes against applying poll and page results.
	// Lock order: mu, then the store's own lock.
	mu        sync.Mutex
	gen       uint64
	exhausted bool
}

func New(store *timeline.Store, tr Transport, net connectivity.Signal, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil, store)
	}
	if net == nil {
		net = connectivity.Static(true)
	}
	return &Coordinator{
		store: store,
		tr:    tr,
		net:   net,
		opts:  opts,
		log:   logger.With("sync"),
		m:     opts.Metrics,
	}
}

func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) { c.state.Store(int32(s)) }

// HasMore reports whether older history may still exist in this session.
func (c *Coordinator) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.exhausted
}

func (c *Coordinator) Session() string { return c.store.ServerInfo().SessionUUID }

func (c *Coordinator) PollInterval() time.Duration { return c.opts.PollInterval }

// InitialLoad fetches server info, the latest page and the participant
// directory concurrently. On any failure the store is left untouched and
// the state becomes Failed. Concurrent callers share one load.
func (c *Coordinator) InitialLoad(ctx context.Context) error {
	_, err, _ := c.loads.Do("initial", func() (any, error) {
		return nil, c.initialLoad(ctx)
	})
	return err
}

func (c *Coordinator) initialLoad(ctx context.Context) error {
	c.setState(StateLoading)
	start := c.opts.Now()

	var (
		info  domain.ServerInfo
		msgs  []domain.Message
		parts []domain.Participant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info, err = c.tr.Info(gctx)
		return err
	})
	g.Go(func() (err error) {
		msgs, err = c.tr.LatestMessages(gctx)
		return err
	})
	g.Go(func() (err error) {
		parts, err = c.tr.AllParticipants(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		c.setState(StateFailed)
		c.m.loads.WithLabelValues("failed").Inc()
		c.log.WarnContext(ctx, "initial_load_failed", "err", err)
		return fmt.Errorf("initial load: %w", err)
	}
	if info.IsZero() {
		c.setState(StateFailed)
		c.m.loads.WithLabelValues("failed").Inc()
		return fmt.Errorf("initial load: %w: empty session uuid", errs.ErrUpstream)
	}

	c.apply(ctx, info, msgs, parts, domain.ToMillis(start))

	c.setState(StateReady)
	c.m.loads.WithLabelValues("ok").Inc()
	return nil
}

func (c *Coordinator) apply(ctx context.Context, info domain.ServerInfo, msgs []domain.Message, parts []domain.Participant, startMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.store.ServerInfo()
	if !prev.IsZero() && prev.SessionUUID != info.SessionUUID {
		c.store.Reseed(info, msgs, parts, startMs)
		c.gen++
		c.exhausted = false
		c.m.resets.Inc()
		c.log.InfoContext(ctx, "session_changed",
			"old_session", prev.SessionUUID,
			"new_session", info.SessionUUID,
			"messages", len(msgs),
			"participants", len(parts),
		)
		return
	}

	// Same session or first load: keep the cached state and the pending
	// overlay, fold the fresh pages over it.
	c.store.SetServerInfo(info)
	patchedM, addedM := c.store.UpsertMessages(msgs)
	patchedP, addedP := c.store.UpsertParticipants(parts)
	if c.store.Watermark() == 0 {
		c.store.SetWatermark(startMs)
	}
	c.log.InfoContext(ctx, "initial_load_done",
		"session", info.SessionUUID,
		"api_version", info.APIVersion,
		"messages_added", addedM,
		"messages_patched", patchedM,
		"participants_added", addedP,
		"participants_patched", patchedP,
	)
}

// OnPollTick fetches message and participant updates since the watermark.
// The watermark advances to the tick start only when both requests succeed.
// Ticks are skipped while offline, before Ready, or while a previous tick
// is still running.
func (c *Coordinator) OnPollTick(ctx context.Context) error {
	if !c.net.Online() || c.State() != StateReady {
		c.m.polls.WithLabelValues("skipped").Inc()
		return nil
	}
	if !c.polling.CompareAndSwap(false, true) {
		c.m.polls.WithLabelValues("skipped").Inc()
		return nil
	}
	defer c.polling.Store(false)

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	since := c.store.Watermark()
	start := c.opts.Now()
	began := time.Now()

	var (
		msgs  []domain.Message
		parts []domain.Participant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		msgs, err = c.tr.MessageUpdates(gctx, since)
		return err
	})
	g.Go(func() (err error) {
		parts, err = c.tr.ParticipantUpdates(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		c.m.polls.WithLabelValues("failed").Inc()
		c.log.WarnContext(ctx, "poll_failed", "since", since, "err", err)
		return fmt.Errorf("poll updates: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// session reseeded while the tick was in flight
		c.m.polls.WithLabelValues("skipped").Inc()
		return nil
	}

	switch c.opts.PollMode {
	case PollPatch:
		c.store.PatchMessages(msgs)
		c.store.PatchParticipants(parts)
	default:
		c.store.UpsertRecentMessages(msgs)
		c.store.UpsertParticipants(parts)
	}
	c.store.SetWatermark(domain.ToMillis(start))

	c.m.polls.WithLabelValues("ok").Inc()
	c.m.pollLatency.Observe(time.Since(began).Seconds())
	if len(msgs)+len(parts) > 0 {
		c.log.DebugContext(ctx, "poll_applied", "messages", len(msgs), "participants", len(parts))
	}
	return nil
}

// OnNearEnd loads the page older than the oldest canonical message. At most
// one request is in flight; an empty page ends history for the session.
func (c *Coordinator) OnNearEnd(ctx context.Context) (PageResult, error) {
	if c.State() != StateReady {
		return PageResult{HasMore: c.HasMore()}, ErrNotReady
	}
	if !c.net.Online() {
		return PageResult{HasMore: c.HasMore()}, errs.ErrOffline
	}
	if !c.paging.CompareAndSwap(false, true) {
		return PageResult{HasMore: c.HasMore()}, ErrPaginationInFlight
	}
	defer c.paging.Store(false)

	c.mu.Lock()
	gen, exhausted := c.gen, c.exhausted
	c.mu.Unlock()
	if exhausted {
		return PageResult{}, ErrHistoryExhausted
	}

	oldest, ok := c.store.Oldest()
	if !ok {
		return PageResult{HasMore: true}, nil
	}

	page, err := c.tr.OlderMessages(ctx, oldest.UUID)
	if err != nil {
		c.m.pages.WithLabelValues("failed").Inc()
		c.log.WarnContext(ctx, "older_page_failed", "ref", oldest.UUID, "err", err)
		return PageResult{HasMore: true}, fmt.Errorf("load older messages: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return PageResult{HasMore: !c.exhausted}, nil
	}
	if len(page) == 0 {
		c.exhausted = true
		c.m.pages.WithLabelValues("exhausted").Inc()
		c.log.InfoContext(ctx, "history_exhausted", "ref", oldest.UUID)
		return PageResult{HasMore: false}, nil
	}

	added := c.store.MergeMessages(page)
	c.m.pages.WithLabelValues("ok").Inc()
	return PageResult{Added: added, HasMore: true}, nil
}

// AddReaction posts a reaction and folds the returned message into the store.
func (c *Coordinator) AddReaction(ctx context.Context, messageUUID, value string) (domain.Message, error) {
	if messageUUID == "" || value == "" {
		return domain.Message{}, fmt.Errorf("%w: message uuid and value are required", errs.ErrInvalidInput)
	}
	if domain.IsLocalID(messageUUID) {
		return domain.Message{}, fmt.Errorf("%w: cannot react to a pending message", errs.ErrInvalidInput)
	}
	if _, ok := c.store.Message(messageUUID); !ok {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	if !c.net.Online() {
		return domain.Message{}, errs.ErrOffline
	}

	m, err := c.tr.AddReaction(ctx, messageUUID, value)
	if err != nil {
		return domain.Message{}, fmt.Errorf("add reaction: %w", err)
	}
	c.store.UpsertMessages([]domain.Message{m})
	return m, nil
}

// Run owns the poll timer. Until the first load succeeds every tick retries
// it; afterwards ticks poll. When the connectivity signal comes back online
// the flusher replays the offline queue.
func (c *Coordinator) Run(ctx context.Context) error {
	var changes <-chan bool
	if n, ok := c.net.(connectivity.Notifier); ok {
		ch, cancel := n.Subscribe()
		defer cancel()
		changes = ch
	}

	c.tick(ctx)

	t := time.NewTicker(c.opts.PollInterval)
	defer t.Stop()

	wasOnline := c.net.Online()
	for {
		select {
		case <-ctx.Done():
			return nil
		case online, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if online && !wasOnline {
				c.reconnected(ctx)
			}
			wasOnline = online
		case <-t.C:
			online := c.net.Online()
			if online && !wasOnline {
				c.reconnected(ctx)
			}
			wasOnline = online
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	switch c.State() {
	case StateReady:
		_ = c.OnPollTick(ctx)
	case StateLoading:
	default:
		if c.net.Online() {
			_ = c.InitialLoad(ctx)
		}
	}
}

func (c *Coordinator) reconnected(ctx context.Context) {
	c.log.InfoContext(ctx, "back_online", "pending", c.store.PendingLen())
	if c.State() != StateReady {
		_ = c.InitialLoad(ctx)
	}
	if c.opts.Flusher == nil {
		return
	}
	if n, err := c.opts.Flusher.Flush(ctx); err != nil {
		c.log.WarnContext(ctx, "flush_failed", "sent", n, "err", err)
	} else if n > 0 {
		c.log.InfoContext(ctx, "flush_done", "sent", n)
	}
}
