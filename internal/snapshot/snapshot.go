// Package snapshot persists the timeline between runs. Backends store one
// JSON document per namespace; the sync core only sees Load and Save.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cwrk-planet/room-client/internal/domain"
	"github.com/cwrk-planet/room-client/internal/timeline"
)

const (
	Namespace = "chat-storage"
	Version   = 1
)

var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

type Snapshot struct {
	Version int   `json:"version"`
	SavedAt int64 `json:"savedAt"`
	timeline.State
}

type Store interface {
	Load(ctx context.Context) (Snapshot, bool, error)
	Save(ctx context.Context, s Snapshot) error
	Close() error
}

func Take(tl *timeline.Store) Snapshot {
	return Snapshot{
		Version: Version,
		SavedAt: domain.NowMillis(),
		State:   tl.State(),
	}
}

func Encode(s Snapshot) ([]byte, error) {
	if s.Version == 0 {
		s.Version = Version
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version > Version {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Version)
	}
	return s, nil
}

// Restore loads the saved snapshot into tl. It reports false when nothing
// was saved yet.
func Restore(ctx context.Context, backend Store, tl *timeline.Store) (bool, error) {
	s, ok, err := backend.Load(ctx)
	if err != nil || !ok {
		return false, err
	}
	tl.Restore(s.State)
	return true, nil
}
