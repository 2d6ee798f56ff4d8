package buffer

import "sync"

// ring is a FIFO of float32 samples with a fixed capacity.
// When a write would overflow, the oldest samples are dropped.
type ring struct {
	mu   sync.Mutex
	buf  []float32
	head int // index of the oldest sample
	size int // number of valid samples

	appended uint64
	drained  uint64
	dropped  uint64
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]float32, capacity)}
}

// write appends samples and returns how many old samples were dropped.
func (r *ring) write(samples []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.buf)
	dropped := 0
	r.appended += uint64(len(samples))

	// Only the newest capacity samples can survive this write
	if len(samples) > capacity {
		dropped += len(samples) - capacity
		samples = samples[len(samples)-capacity:]
	}

	if overflow := r.size + len(samples) - capacity; overflow > 0 {
		r.head = (r.head + overflow) % capacity
		r.size -= overflow
		dropped += overflow
	}

	tail := (r.head + r.size) % capacity
	n := copy(r.buf[tail:], samples)
	copy(r.buf, samples[n:])
	r.size += len(samples)

	r.dropped += uint64(dropped)
	return dropped
}

// read copies up to n samples from the front. When consume is true the
// samples are removed.
func (r *ring) read(n int, consume bool) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.size {
		n = r.size
	}
	if n == 0 {
		return nil
	}

	out := make([]float32, n)
	capacity := len(r.buf)
	first := copy(out, r.buf[r.head:min(r.head+n, capacity)])
	copy(out[first:], r.buf[:n-first])

	if consume {
		r.head = (r.head + n) % capacity
		r.size -= n
		r.drained += uint64(n)
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring) stats() (appended, drained, dropped uint64, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appended, r.drained, r.dropped, r.size
}
