package audit

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity is the number of events a MemoryLogger keeps
const DefaultMemoryCapacity = 10000

// MemoryLogger keeps the most recent events in memory. Older events are
// dropped once capacity is reached.
type MemoryLogger struct {
	mu       sync.RWMutex
	events   []*Event
	capacity int
	nextID   int64
}

// NewMemoryLogger creates an in-memory audit log holding up to capacity events
func NewMemoryLogger(capacity int) *MemoryLogger {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryLogger{capacity: capacity}
}

// Log appends event and assigns its id
func (m *MemoryLogger) Log(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	event.ID = m.nextID
	stored := *event
	m.events = append(m.events, &stored)
	if over := len(m.events) - m.capacity; over > 0 {
		m.events = append(m.events[:0:0], m.events[over:]...)
	}
	return nil
}

// Search returns matching events newest first
func (m *MemoryLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	if filter.TenantID == "" {
		return nil, ErrTenantRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.limit()
	skipped := 0
	out := make([]*Event, 0)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.events[i]
		if !filter.matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// Close is a no-op
func (m *MemoryLogger) Close() error {
	return nil
}
