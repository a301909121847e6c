package ice

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Buffer holds remote candidates that arrive before the description exchange completes.
// Candidates come back out in arrival order, each exactly once.
type Buffer struct {
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

// Push appends a candidate to the end of the queue.
func (b *Buffer) Push(c webrtc.ICECandidateInit) {
	b.mu.Lock()
	b.pending = append(b.pending, c)
	b.mu.Unlock()
}

// Len returns the number of buffered candidates.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Drain empties the buffer and returns its contents in arrival order.
func (b *Buffer) Drain() []webrtc.ICECandidateInit {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// Flush drains the buffer through apply in arrival order. It stops at the first error and
// returns it together with the number of candidates applied. Candidates after the failure
// are discarded.
func (b *Buffer) Flush(apply func(webrtc.ICECandidateInit) error) (int, error) {
	drained := b.Drain()
	for i, c := range drained {
		if err := apply(c); err != nil {
			return i, err
		}
	}
	return len(drained), nil
}

// Reset discards every buffered candidate.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}
