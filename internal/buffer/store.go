package buffer

import (
	"sort"
	"sync"
)

// DefaultCapacitySeconds bounds each source buffer to this much audio.
const DefaultCapacitySeconds = 30

// Store maps source ids to sample FIFOs.
// Each key has one producer (the capture stream) and one consumer
// (the chunk scheduler). Locking is per key so producers for different
// sources never contend.
type Store struct {
	mu       sync.RWMutex
	buffers  map[string]*ring
	capacity int
}

// SourceStats is a point-in-time view of one source buffer
type SourceStats struct {
	SourceID string `json:"source_id"`
	Buffered int    `json:"buffered_samples"`
	Appended uint64 `json:"appended_samples"`
	Drained  uint64 `json:"drained_samples"`
	Dropped  uint64 `json:"dropped_samples"`
}

// NewStore creates a store whose buffers hold at most capacity samples each.
func NewStore(capacity int) *Store {
	return &Store{
		buffers:  make(map[string]*ring),
		capacity: capacity,
	}
}

// NewStoreForRate sizes buffers to seconds of audio at sampleRate.
func NewStoreForRate(sampleRate, seconds int) *Store {
	if seconds <= 0 {
		seconds = DefaultCapacitySeconds
	}
	return NewStore(sampleRate * seconds)
}

// Register creates an empty buffer for id. Registering an existing id
// keeps its contents.
func (s *Store) Register(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buffers[id]; !ok {
		s.buffers[id] = newRing(s.capacity)
	}
}

// Remove discards the buffer for id.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, id)
}

// Reset discards every buffer.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = make(map[string]*ring)
}

func (s *Store) get(id string) *ring {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffers[id]
}

// Append adds samples to the end of id's buffer, registering it if needed.
// It returns the number of oldest samples dropped to stay under the cap.
func (s *Store) Append(id string, samples []float32) int {
	if len(samples) == 0 {
		return 0
	}
	r := s.get(id)
	if r == nil {
		s.Register(id)
		r = s.get(id)
	}
	return r.write(samples)
}

// Drain removes and returns up to max samples from the front of id's
// buffer. max <= 0 drains everything. Asking for more than is buffered
// returns what is there.
func (s *Store) Drain(id string, max int) []float32 {
	r := s.get(id)
	if r == nil {
		return nil
	}
	return r.read(max, true)
}

// Peek returns a copy of up to n samples from the front without removing them.
func (s *Store) Peek(id string, n int) []float32 {
	r := s.get(id)
	if r == nil {
		return nil
	}
	return r.read(n, false)
}

// Len returns the number of samples buffered for id.
func (s *Store) Len(id string) int {
	r := s.get(id)
	if r == nil {
		return 0
	}
	return r.len()
}

// PeekLengths returns the buffered length of every registered source.
func (s *Store) PeekLengths() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lengths := make(map[string]int, len(s.buffers))
	for id, r := range s.buffers {
		lengths[id] = r.len()
	}
	return lengths
}

// Stats returns counters for every registered source, sorted by id.
func (s *Store) Stats() []SourceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]SourceStats, 0, len(s.buffers))
	for id, r := range s.buffers {
		appended, drained, dropped, size := r.stats()
		stats = append(stats, SourceStats{
			SourceID: id,
			Buffered: size,
			Appended: appended,
			Drained:  drained,
			Dropped:  dropped,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].SourceID < stats[j].SourceID })
	return stats
}

// Capacity returns the per-source sample cap.
func (s *Store) Capacity() int {
	return s.capacity
}
