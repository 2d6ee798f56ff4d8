package mixer

// Source is the part of the buffer store the mixer reads from
type Source interface {
	Len(id string) int
	Peek(id string, n int) []float32
	Drain(id string, max int) []float32
}

// Mixer averages the buffers of several sources into one stream
type Mixer struct {
	src Source
}

// New creates a mixer over src.
func New(src Source) *Mixer {
	return &Mixer{src: src}
}

// Available returns how many samples Mix or Take would yield for ids
// without a limit: the shortest buffer, or the only buffer.
func (m *Mixer) Available(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	n := m.src.Len(ids[0])
	for _, id := range ids[1:] {
		n = min(n, m.src.Len(id))
	}
	return n
}

func (m *Mixer) count(ids []string, max int) int {
	n := m.Available(ids)
	if max > 0 {
		n = min(n, max)
	}
	return n
}

// Mix returns the mean of the first N samples of every source without
// consuming them, where N is the shortest buffer capped at max.
// max <= 0 means no cap.
func (m *Mixer) Mix(ids []string, max int) []float32 {
	n := m.count(ids, max)
	if n == 0 {
		return nil
	}
	if len(ids) == 1 {
		return m.src.Peek(ids[0], n)
	}

	parts := make([][]float32, len(ids))
	for i, id := range ids {
		parts[i] = m.src.Peek(id, n)
	}
	return Average(parts)
}

// Take is Mix followed by draining the consumed samples from every
// source. It also returns the per-source windows that went into the mix,
// keyed by source id.
func (m *Mixer) Take(ids []string, max int) ([]float32, map[string][]float32) {
	n := m.count(ids, max)
	if n == 0 {
		return nil, nil
	}

	// A buffer removed after the length check drains short. Its window
	// is left out so the others still yield n samples.
	parts := make(map[string][]float32, len(ids))
	windows := make([][]float32, 0, len(ids))
	for _, id := range ids {
		w := m.src.Drain(id, n)
		if len(w) != n {
			continue
		}
		parts[id] = w
		windows = append(windows, w)
	}

	switch len(windows) {
	case 0:
		return nil, nil
	case 1:
		return windows[0], parts
	}
	return Average(windows), parts
}

// Average returns the per-index arithmetic mean of bufs over the length
// of the shortest one.
func Average(bufs [][]float32) []float32 {
	if len(bufs) == 0 {
		return nil
	}
	n := len(bufs[0])
	for _, b := range bufs[1:] {
		n = min(n, len(b))
	}
	if n == 0 {
		return nil
	}
	if len(bufs) == 1 {
		return append([]float32(nil), bufs[0][:n]...)
	}

	out := make([]float32, n)
	scale := 1 / float32(len(bufs))
	for i := range out {
		var sum float32
		for _, b := range bufs {
			sum += b[i]
		}
		out[i] = sum * scale
	}
	return out
}
