package messaging

import (
	"sync"
	"sync/atomic"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// Stats counts bus traffic since start.
type Stats struct {
	mu        sync.Mutex
	byType    map[shared.EventType]int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func newStats() *Stats {
	return &Stats{byType: make(map[shared.EventType]int64)}
}

func (s *Stats) published(t shared.EventType) {
	s.mu.Lock()
	s.byType[t]++
	s.mu.Unlock()
}

func (s *Stats) handled(ok bool) {
	if ok {
		s.succeeded.Add(1)
	} else {
		s.failed.Add(1)
	}
}

// Published is the number of events of type t published on this bus,
// including ones replayed from other instances.
func (s *Stats) Published(t shared.EventType) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byType[t]
}

func (s *Stats) Succeeded() int64 { return s.succeeded.Load() }

// Failures counts handler errors and panics.
func (s *Stats) Failures() int64 { return s.failed.Load() }
