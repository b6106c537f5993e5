// Package pebble is the embedded snapshot backend.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/cwrk-planet/room-client/internal/snapshot"
)

type Store struct {
	db  *pebble.DB
	key []byte
}

type Options struct {
	Path      string
	Namespace string // snapshot.Namespace
	FS        vfs.FS // nil = диск; vfs.NewMem() в тестах
}

func Open(opts Options) (*Store, error) {
	if opts.Namespace == "" {
		opts.Namespace = snapshot.Namespace
	}
	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	} else if err := os.MkdirAll(opts.Path, 0o700); err != nil {
		return nil, fmt.Errorf("pebble: create dir: %w", err)
	}

	db, err := pebble.Open(opts.Path, po)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", opts.Path, err)
	}
	return &Store{db: db, key: []byte("snapshot:" + opts.Namespace)}, nil
}

func (s *Store) Load(context.Context) (snapshot.Snapshot, bool, error) {
	v, closer, err := s.db.Get(s.key)
	if errors.Is(err, pebble.ErrNotFound) {
		return snapshot.Snapshot{}, false, nil
	}
	if err != nil {
		return snapshot.Snapshot{}, false, fmt.Errorf("pebble: get: %w", err)
	}
	defer closer.Close()

	// v is only valid until closer.Close
	snap, err := snapshot.Decode(v)
	if err != nil {
		return snapshot.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) Save(_ context.Context, snap snapshot.Snapshot) error {
	b, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	if err := s.db.Set(s.key, b, pebble.Sync); err != nil {
		return fmt.Errorf("pebble: set: %w", err)
	}
	return nil
}

// Clear drops the saved snapshot.
func (s *Store) Clear() error {
	if err := s.db.Delete(s.key, pebble.Sync); err != nil {
		return fmt.Errorf("pebble: delete: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
