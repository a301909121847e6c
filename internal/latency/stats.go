package latency

import (
	"sync"
	"time"
)

// Summary is a snapshot of observed latencies.
type Summary struct {
	Count int
	Last  time.Duration
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
}

// Stats accumulates latency samples.
type Stats struct {
	mu    sync.Mutex
	count int
	last  time.Duration
	min   time.Duration
	max   time.Duration
	total time.Duration
}

// Add records one sample.
func (s *Stats) Add(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	s.count++
	s.last = d
	s.total += d
}

// Snapshot returns the current summary.
func (s *Stats) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{Count: s.count, Last: s.last, Min: s.min, Max: s.max}
	if s.count > 0 {
		sum.Mean = s.total / time.Duration(s.count)
	}
	return sum
}

// Reset clears all samples.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.count, s.last, s.min, s.max, s.total = 0, 0, 0, 0, 0
	s.mu.Unlock()
}
