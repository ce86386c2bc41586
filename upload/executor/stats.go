package executor

import (
	"sync"
	"time"
)

// Stats tracks call durations of successful operations for reporting.
type Stats struct {
	sum      time.Duration
	finished int64
	failed   int64
	mu       sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful call duration.
func (s *Stats) Update(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.finished++
}

// Failed records a failed call.
func (s *Stats) Failed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

// Average returns the average duration of successful calls.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finished)
}

// FinishedCount returns the number of successful calls.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// FailedCount returns the number of failed calls.
func (s *Stats) FailedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// TotalDuration returns the sum of all successful call durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}
