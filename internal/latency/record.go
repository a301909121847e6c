package latency

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	rtpTS uint32
	sent  time.Time
	added time.Time
}

// Record maps RTP timestamps to send times for frames still awaiting display.
// Entries leave on match, once older than maxAge, or oldest first past maxEntries.
type Record struct {
	mu         sync.Mutex
	entries    map[uint32]*list.Element
	order      *list.List
	maxAge     time.Duration
	maxEntries int
	now        func() time.Time
}

// NewRecord creates a bounded table. Non-positive limits disable that bound.
func NewRecord(maxAge time.Duration, maxEntries int) *Record {
	return &Record{
		entries:    make(map[uint32]*list.Element),
		order:      list.New(),
		maxAge:     maxAge,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Put stores the send time for rtpTS, replacing an earlier value.
func (r *Record) Put(rtpTS uint32, sent time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.entries[rtpTS]; ok {
		r.order.Remove(el)
	}
	r.entries[rtpTS] = r.order.PushBack(&entry{rtpTS: rtpTS, sent: sent, added: r.now()})

	r.sweepLocked()
	for r.maxEntries > 0 && r.order.Len() > r.maxEntries {
		r.removeLocked(r.order.Front())
	}
}

// Match returns and evicts the send time recorded for rtpTS.
func (r *Record) Match(rtpTS uint32) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	el, ok := r.entries[rtpTS]
	if !ok {
		return time.Time{}, false
	}
	sent := el.Value.(*entry).sent
	r.removeLocked(el)
	return sent, true
}

// Sweep drops expired entries and returns how many were removed.
func (r *Record) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

// Len returns the number of pending entries.
func (r *Record) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Reset empties the table.
func (r *Record) Reset() {
	r.mu.Lock()
	r.entries = make(map[uint32]*list.Element)
	r.order.Init()
	r.mu.Unlock()
}

func (r *Record) sweepLocked() int {
	if r.maxAge <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.maxAge)
	removed := 0
	for el := r.order.Front(); el != nil; el = r.order.Front() {
		if !el.Value.(*entry).added.Before(cutoff) {
			break
		}
		r.removeLocked(el)
		removed++
	}
	return removed
}

func (r *Record) removeLocked(el *list.Element) {
	delete(r.entries, el.Value.(*entry).rtpTS)
	r.order.Remove(el)
}
