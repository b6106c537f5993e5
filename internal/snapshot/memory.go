package snapshot

import (
	"context"
	"sync"
)

// Memory keeps the encoded snapshot in process. Used in tests and when
// persistence is disabled.
type Memory struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(context.Context) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return Snapshot{}, false, nil
	}
	s, err := Decode(m.data)
	if err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

func (m *Memory) Save(_ context.Context, s Snapshot) error {
	b, err := Encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = b
	m.saves++
	return nil
}

func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
