package mixer

// Downmix averages interleaved frames of the given channel count into mono.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}

	frames := len(interleaved) / channels
	out := make([]float32, frames)
	scale := 1 / float32(channels)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[f*channels+c]
		}
		out[f] = sum * scale
	}
	return out
}

// ResampleLinear resamples a whole buffer from inRate to outRate using
// linear interpolation.
func ResampleLinear(samples []float32, inRate, outRate int) []float32 {
	r := NewResampler(inRate, outRate)
	out := r.Process(samples)
	return append(out, r.Flush()...)
}

// Resampler converts a mono stream between sample rates with linear
// interpolation. It keeps the fractional read position and the last input
// sample between calls so consecutive blocks join without clicks.
type Resampler struct {
	inRate  int
	outRate int
	step    float64 // input samples per output sample
	pos     float64 // read position, 0 is prev
	prev    float32
	primed  bool
}

// NewResampler returns a resampler from inRate to outRate.
func NewResampler(inRate, outRate int) *Resampler {
	r := &Resampler{inRate: inRate, outRate: outRate}
	if inRate > 0 && outRate > 0 {
		r.step = float64(inRate) / float64(outRate)
	}
	return r
}

// Passthrough reports whether the rates are equal (or unknown) and
// Process returns its input unchanged.
func (r *Resampler) Passthrough() bool {
	return r.step == 0 || r.inRate == r.outRate
}

// Process resamples the next block of input.
func (r *Resampler) Process(in []float32) []float32 {
	if r.Passthrough() || len(in) == 0 {
		return in
	}

	// The block is read as one sequence prev, in[0], in[1], ...
	// On the first call there is no prev and in[0] sits at 0.
	joined := in
	if r.primed {
		joined = make([]float32, 0, len(in)+1)
		joined = append(joined, r.prev)
		joined = append(joined, in...)
	}
	last := len(joined) - 1

	out := make([]float32, 0, int(float64(len(in))/r.step)+1)
	for r.pos < float64(last) {
		i0 := int(r.pos)
		frac := float32(r.pos - float64(i0))
		s0, s1 := joined[i0], joined[i0+1]
		out = append(out, s0+(s1-s0)*frac)
		r.pos += r.step
	}

	r.pos -= float64(last)
	r.prev = joined[last]
	r.primed = true
	return out
}

// Flush returns the final input sample when the stream ends exactly on
// an output position.
func (r *Resampler) Flush() []float32 {
	if r.primed && r.pos == 0 {
		r.pos = r.step
		return []float32{r.prev}
	}
	return nil
}

// Reset forgets stream history.
func (r *Resampler) Reset() {
	r.pos = 0
	r.prev = 0
	r.primed = false
}
