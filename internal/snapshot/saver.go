package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwrk-planet/room-client/internal/timeline"
	"github.com/cwrk-planet/room-client/pkg/logger"
)

// Saver writes a snapshot after the timeline settles for the debounce
// period, and once more on shutdown.
type Saver struct {
	backend  Store
	tl       *timeline.Store
	debounce time.Duration
	log      *slog.Logger
}

func NewSaver(backend Store, tl *timeline.Store, debounce time.Duration) *Saver {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Saver{
		backend:  backend,
		tl:       tl,
		debounce: debounce,
		log:      logger.With("snapshot"),
	}
}

func (s *Saver) SaveNow(ctx context.Context) error {
	snap := Take(s.tl)
	if err := s.backend.Save(ctx, snap); err != nil {
		s.log.WarnContext(ctx, "snapshot_save_failed", "err", err)
		return err
	}
	s.log.DebugContext(ctx, "snapshot_saved",
		"messages", len(snap.Messages),
		"pending", len(snap.Pending),
		"watermark", snap.Watermark,
	)
	return nil
}

// Run blocks until ctx is done.
func (s *Saver) Run(ctx context.Context) error {
	changes, cancel := s.tl.Subscribe()
	defer cancel()

	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	dirty := false
	saved := s.tl.Revision()

	for {
		select {
		case <-ctx.Done():
			if dirty || s.tl.Revision() != saved {
				shCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				err := s.SaveNow(shCtx)
				done()
				return err
			}
			return nil
		case <-changes:
			if !dirty {
				timer.Reset(s.debounce)
				dirty = true
			}
		case <-timer.C:
			saved = s.tl.Revision()
			dirty = false
			_ = s.SaveNow(ctx)
		}
	}
}
