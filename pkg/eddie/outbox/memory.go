package outbox

import (
	"context"
	"sync"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

// MemoryLog is an in-memory Log for tests and development.
// Events vanish when the process exits.
type MemoryLog struct {
	mu     sync.Mutex
	events []entry
	index  map[string]int // event id -> position in events
	closed bool
}

type entry struct {
	evt       permission.Event
	delivered bool
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{index: make(map[string]int)}
}

// Commit implements Log.
func (m *MemoryLog) Commit(_ context.Context, evt permission.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrLogClosed
	}
	if _, ok := m.index[evt.ID]; ok {
		return ErrDuplicate
	}

	m.index[evt.ID] = len(m.events)
	m.events = append(m.events, entry{evt: evt})
	return nil
}

// ReplayAll implements Log.
func (m *MemoryLog) ReplayAll(_ context.Context) ([]permission.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrLogClosed
	}

	out := make([]permission.Event, len(m.events))
	for i, e := range m.events {
		out[i] = e.evt
	}
	return out, nil
}

// ReplayUndelivered implements Log.
func (m *MemoryLog) ReplayUndelivered(_ context.Context) ([]permission.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrLogClosed
	}

	var out []permission.Event
	for _, e := range m.events {
		if !e.delivered {
			out = append(out, e.evt)
		}
	}
	return out, nil
}

// Acknowledge implements Log.
func (m *MemoryLog) Acknowledge(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrLogClosed
	}
	i, ok := m.index[eventID]
	if !ok {
		return ErrNotFound
	}
	m.events[i].delivered = true
	return nil
}

// Close implements Log.
func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the total number of committed events. Test helper.
func (m *MemoryLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
