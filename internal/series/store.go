package series

import (
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the number of samples kept per key when none is configured.
const DefaultCapacity = 500

// Store keeps a bounded, ordered history of samples per signal key.
//
// Each key's history is a ring buffer sized at construction; when full the
// oldest sample is evicted. A single mutex guards the whole key map and is
// held only while copying or mutating.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Store struct {
	capacity int

	mu      sync.Mutex
	streams map[string]*ring
}

// StoreStats summarises the store contents.
type StoreStats struct {
	Keys     int `json:"keys"`
	Samples  int `json:"samples"`
	Capacity int `json:"capacity"`
}

// NewStore creates a store keeping at most capacity samples per key.
// A capacity below 1 selects DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		streams:  make(map[string]*ring),
	}
}

// Capacity returns the per-key history bound.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append adds a sample to key's history, creating it on first use and
// evicting the oldest sample when at capacity.
func (s *Store) Append(key string, at time.Time, v Value) {
	s.mu.Lock()
	r, ok := s.streams[key]
	if !ok {
		r = newRing(s.capacity)
		s.streams[key] = r
	}
	r.push(Sample{Time: at, Value: v})
	s.mu.Unlock()
}

// Snapshot returns an independent copy of the history of each requested key,
// oldest first. Keys that were never appended to map to an empty slice.
func (s *Store) Snapshot(keys []string) map[string][]Sample {
	out := make(map[string][]Sample, len(keys))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		if r, ok := s.streams[key]; ok {
			out[key] = r.copyOut()
		} else {
			out[key] = []Sample{}
		}
	}
	return out
}

// Keys returns every key with history, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.streams))
	for k := range s.streams {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Stats returns key and sample counts.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := StoreStats{Keys: len(s.streams), Capacity: s.capacity}
	for _, r := range s.streams {
		stats.Samples += r.size
	}
	return stats
}

// ring is a fixed-capacity FIFO of samples. Not safe for concurrent use.
type ring struct {
	buf  []Sample
	head int // index of the oldest sample
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) push(s Sample) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	// Full: overwrite the oldest and advance.
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) copyOut() []Sample {
	out := make([]Sample, r.size)
	n := copy(out, r.buf[r.head:min(r.head+r.size, len(r.buf))])
	copy(out[n:], r.buf[:r.size-n])
	return out
}
