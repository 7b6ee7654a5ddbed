package calls

import (
	"sync"
	"time"

	"voicebridge/internal/metrics"
)

// Scheduler runs delayed tasks keyed by call id. Scheduling a key that is
// already pending replaces the earlier task, so a record that transitions
// again before its grace period ends only gets cleaned up once.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: map[string]*time.Timer{}}
}

func (s *Scheduler) Schedule(key string, after time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	} else {
		metrics.ScheduledCleanups.Inc()
	}

	var t *time.Timer
	t = time.AfterFunc(after, func() {
		s.mu.Lock()
		// A newer Schedule for the same key owns the slot now.
		if cur, ok := s.timers[key]; !ok || cur != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		metrics.ScheduledCleanups.Dec()
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = t
}

// Cancel drops a pending task. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, key)
	metrics.ScheduledCleanups.Dec()
	return true
}

func (s *Scheduler) Scheduled(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Stop cancels everything and rejects further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
		metrics.ScheduledCleanups.Dec()
	}
}
