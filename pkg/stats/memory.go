package stats

import (
	"context"
	"sync"
)

// Counters is a success/failure pair.
type Counters struct {
	OK     int64
	Failed int64
}

// MemoryRecorder keeps counters in process. Nothing expires.
type MemoryRecorder struct {
	mu     sync.Mutex
	total  Counters
	byVerb map[string]Counters
	byKind map[string]int64
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		byVerb: make(map[string]Counters),
		byKind: make(map[string]int64),
	}
}

func (m *MemoryRecorder) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.byVerb[ev.Verb]
	if ev.OK {
		m.total.OK++
		c.OK++
	} else {
		m.total.Failed++
		c.Failed++
		if ev.Kind != "" {
			m.byKind[ev.Kind]++
		}
	}
	m.byVerb[ev.Verb] = c
	return nil
}

func (m *MemoryRecorder) Total() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *MemoryRecorder) ByVerb() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Counters, len(m.byVerb))
	for k, v := range m.byVerb {
		out[k] = v
	}
	return out
}

func (m *MemoryRecorder) ByKind() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.byKind))
	for k, v := range m.byKind {
		out[k] = v
	}
	return out
}
