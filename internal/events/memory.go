package events

import (
	"context"
	"sync"
)

// MemoryLog keeps every event in emission order.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		events: make([]Event, 0, 64),
	}
}

func (l *MemoryLog) Emit(_ context.Context, e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, e)
}

// Events returns a copy of the log, filtered by name when one is given.
func (l *MemoryLog) Events(name ...string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(name) == 0 {
		out := make([]Event, len(l.events))
		copy(out, l.events)
		return out
	}

	var out []Event
	for _, e := range l.events {
		for _, n := range name {
			if e.Name == n {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Len returns the number of events recorded.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.events)
}
