// Package sched is the in-memory timer registry driving the engine. Keys
// are record ids, globally unique per process. Nothing here persists: boot
// recovery re-derives pending timers from the store.
package sched

import (
	"sync"
	"time"

	"github.com/Mutter0815/DripMailer/pkg/metrics"
)

// timerEntry tags each registration with a generation so a wrapper firing
// late, after its key was replaced, cannot evict the replacement.
type timerEntry struct {
	t   Timer
	gen uint64
}

type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	timers  map[string]timerEntry
	gen     uint64
	stopped bool
}

func New() *Scheduler {
	return NewWithClock(realClock{})
}

func NewWithClock(c Clock) *Scheduler {
	return &Scheduler{clock: c, timers: make(map[string]timerEntry)}
}

func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Schedule registers a one-shot callback under key. A past-due fireAt runs
// the callback right away (own goroutine) rather than dropping it.
// Scheduling an existing key replaces the pending timer.
func (s *Scheduler) Schedule(key string, fireAt time.Time, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old, ok := s.timers[key]; ok {
		old.t.Stop()
		delete(s.timers, key)
		metrics.TimersActive.Dec()
	}

	now := s.clock.Now()
	if !fireAt.After(now) {
		s.mu.Unlock()
		go fn()
		return
	}

	s.gen++
	gen := s.gen
	s.timers[key] = timerEntry{
		t: s.clock.AfterFunc(fireAt.Sub(now), func() {
			s.removeIf(key, gen)
			fn()
		}),
		gen: gen,
	}
	metrics.TimersActive.Inc()
	s.mu.Unlock()
}

// Cancel drops a pending registration. Unknown or already-fired keys are a
// no-op.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[key]; ok {
		e.t.Stop()
		delete(s.timers, key)
		metrics.TimersActive.Dec()
	}
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels everything and refuses new registrations.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, e := range s.timers {
		e.t.Stop()
		delete(s.timers, key)
		metrics.TimersActive.Dec()
	}
}

// removeIf drops the key only while it still belongs to this generation.
func (s *Scheduler) removeIf(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[key]; ok && e.gen == gen {
		delete(s.timers, key)
		metrics.TimersActive.Dec()
	}
}
