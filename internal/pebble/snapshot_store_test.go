package pebble

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/room-client/internal/domain"
	"github.com/cwrk-planet/room-client/internal/snapshot"
	"github.com/cwrk-planet/room-client/internal/timeline"
)

func openMem(t *testing.T, fs vfs.FS) *Store {
	t.Helper()
	s, err := Open(Options{Path: "/data", FS: fs})
	require.NoError(t, err)
	return s
}

func TestStore_SaveLoadAcrossReopen(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()

	s := openMem(t, fs)
	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	tl := timeline.New()
	tl.SetServerInfo(domain.ServerInfo{SessionUUID: "A"})
	tl.MergeMessages([]domain.Message{{UUID: "m1", Text: "hi", AuthorUUID: "u1", SentAt: 10, UpdatedAt: 10}})
	tl.SetWatermark(77)
	require.NoError(t, s.Save(ctx, snapshot.Take(tl)))
	require.NoError(t, s.Close())

	s = openMem(t, fs)
	defer s.Close()

	restored := timeline.New()
	ok, err = snapshot.Restore(ctx, s, restored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tl.State(), restored.State())
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	require.NoError(t, s.Save(ctx, snapshot.Snapshot{Version: snapshot.Version}))
	require.NoError(t, s.Clear())

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
