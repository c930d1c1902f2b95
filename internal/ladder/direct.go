package ladder

import "math"

const (
	thermalVoltage = 1.22070313
	capacitance    = 1.0
	// maxResonanceDirect is the self-oscillation edge of the direct cascade.
	maxResonanceDirect = 1.0
)

// DirectFilter runs the four tanh-saturated one-pole stages with resonance
// feedback from the last stage, iterated oversampling times per sample.
// The last-stage tanh is cached across samples, giving five tanh calls per
// iteration.
type DirectFilter struct {
	sampleRate   float64
	oversampling int

	wantCutoff float64
	cutoff     float64
	resonance  float64

	s float64
	v float64

	ya, yb, yc, yd float64
	wa, wb, wc, wd float64
}

// NewDirect returns a direct ladder at sampleRate with cutoff at 1 kHz, no
// resonance and no oversampling.
func NewDirect(sampleRate int) *DirectFilter {
	f := &DirectFilter{
		sampleRate:   float64(sampleRate),
		oversampling: 1,
		v:            thermalVoltage * 0.5,
	}
	f.SetCutoff(1000)
	return f
}

func (f *DirectFilter) SetCutoff(hz float64) {
	f.wantCutoff = hz
	f.update()
}

func (f *DirectFilter) SetResonance(r float64) {
	f.resonance = clampResonance(r, maxResonanceDirect)
}

func (f *DirectFilter) SetOversampling(n int) {
	if n < 1 {
		n = 1
	}
	f.oversampling = n
	f.update()
}

func (f *DirectFilter) Oversampling() int { return f.oversampling }

func (f *DirectFilter) Cutoff() float64 { return f.cutoff }

func (f *DirectFilter) Resonance() float64 { return f.resonance }

func (f *DirectFilter) update() {
	rate := f.sampleRate * float64(f.oversampling)
	f.cutoff = clampCutoff(f.wantCutoff, rate)
	f.s = f.cutoff / capacitance / rate
}

func (f *DirectFilter) Reset() {
	f.ya, f.yb, f.yc, f.yd = 0, 0, 0, 0
	f.wa, f.wb, f.wc, f.wd = 0, 0, 0, 0
}

func (f *DirectFilter) Process(buf []float32, frames, offset, stride int) {
	s, v := f.s, f.v
	k := 4 * f.resonance * v
	idx := offset
	for i := 0; i < frames; i++ {
		x := sanitizeInput(buf[idx])
		for j := 0; j < f.oversampling; j++ {
			f.ya += s * (math.Tanh(x-k*f.yd) - f.wa)
			f.wa = math.Tanh(f.ya * v)
			f.yb += s * (f.wa - f.wb)
			f.wb = math.Tanh(f.yb * v)
			f.yc += s * (f.wb - f.wc)
			f.wc = math.Tanh(f.yc * v)
			f.yd += s * (f.wc - f.wd)
			f.wd = math.Tanh(f.yd * v)
		}
		buf[idx] = float32(f.yd)
		idx += stride
	}
}
