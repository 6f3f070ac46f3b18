package media

// Resampler converts 16-bit linear PCM between sample rates using
// linear interpolation.
//
// State (the previous input sample and the fractional read position)
// carries across Process calls, so successive chunks of one logical
// stream join without discontinuities. One Resampler must serve
// exactly one stream; sharing it across streams corrupts both.
type Resampler struct {
	from, to int
	step     float64
	pos      float64
	prev     int16
	primed   bool
}

// NewResampler returns a resampler for one stream converting from
// `from` Hz to `to` Hz. Equal rates make Process a no-op, as does a
// non-positive rate: a source misreporting its rate passes audio
// through unchanged instead of dividing by zero.
func NewResampler(from, to int) *Resampler {
	if from <= 0 || to <= 0 {
		from, to = 1, 1
	}
	return &Resampler{
		from: from,
		to:   to,
		step: float64(from) / float64(to),
	}
}

// Process converts one chunk. Empty input or equal rates return the
// input unchanged.
func (r *Resampler) Process(in []int16) []int16 {
	if r.from == r.to || len(in) == 0 {
		return in
	}
	if !r.primed {
		r.prev = in[0]
		r.pos = 1
		r.primed = true
	}

	// Input positions: prev at 0, in[i] at i+1.
	n := len(in)
	out := make([]int16, 0, int(float64(n)/r.step)+2)
	for r.pos <= float64(n) {
		i := int(r.pos)
		frac := r.pos - float64(i)
		var s0, s1 int16
		if i == 0 {
			s0 = r.prev
		} else {
			s0 = in[i-1]
		}
		if i >= n {
			s1 = in[n-1]
		} else {
			s1 = in[i]
		}
		out = append(out, int16(float64(s0)+(float64(s1)-float64(s0))*frac))
		r.pos += r.step
	}
	r.prev = in[n-1]
	r.pos -= float64(n)
	return out
}
