// Package connectivity tracks whether the chat server is reachable. The sync
// core only samples Online() at decision points; it never owns the signal.
package connectivity

import (
	"sync"
	"sync/atomic"
)

type Signal interface {
	Online() bool
}

// Notifier is implemented by signals that can push changes.
type Notifier interface {
	Signal
	Subscribe() (<-chan bool, func())
}

type Monitor struct {
	online atomic.Bool

	mu   sync.Mutex
	subs map[int]chan bool
	next int
}

func NewMonitor(initial bool) *Monitor {
	m := &Monitor{subs: make(map[int]chan bool)}
	m.online.Store(initial)
	return m
}

func (m *Monitor) Online() bool { return m.online.Load() }

// Set updates the signal and reports whether it changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online.Swap(online) == online {
		return false
	}
	for _, ch := range m.subs {
		// latest value wins for slow readers
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
	return true
}

func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Static is a fixed signal, handy when connectivity checks are disabled.
type Static bool

func (s Static) Online() bool { return bool(s) }
