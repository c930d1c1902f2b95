package ladder

import "math"

const (
	huovThermal      = 0.000025
	huovOversampling = 2
	maxResonanceHuov = 0.95
)

// HuovilainenFilter is the ladder with cutoff-dependent tuning (fcr) and
// resonance (acr) polynomial corrections. It always runs two iterations per
// sample and averages the last stage with its previous value, a half-sample
// delay that compensates the phase of the feedback path.
type HuovilainenFilter struct {
	sampleRate float64

	wantCutoff float64
	cutoff     float64
	resonance  float64

	tune    float64
	acr     float64
	resQuad float64

	stage     [4]float64
	stageTanh [3]float64
	delay     [6]float64
}

// NewHuovilainen returns a Huovilainen ladder at sampleRate with cutoff at
// 1 kHz and no resonance.
func NewHuovilainen(sampleRate int) *HuovilainenFilter {
	f := &HuovilainenFilter{sampleRate: float64(sampleRate)}
	f.SetCutoff(1000)
	return f
}

func (f *HuovilainenFilter) SetCutoff(hz float64) {
	f.wantCutoff = hz
	// The correction polynomials are fitted below the base-rate Nyquist.
	f.cutoff = clampCutoff(hz, f.sampleRate)

	fc := f.cutoff / f.sampleRate
	x := fc * 0.5
	fc2 := fc * fc
	fc3 := fc2 * fc

	fcr := 1.8730*fc3 + 0.4955*fc2 - 0.6490*fc + 0.9988
	f.acr = -3.9364*fc2 + 1.8409*fc + 0.9968
	f.tune = (1 - math.Exp(-2*math.Pi*x*fcr)) / huovThermal

	f.SetResonance(f.resonance)
}

func (f *HuovilainenFilter) SetResonance(r float64) {
	f.resonance = clampResonance(r, maxResonanceHuov)
	f.resQuad = 4 * f.resonance * f.acr
}

// SetOversampling is a no-op; the factor is fixed at 2.
func (f *HuovilainenFilter) SetOversampling(int) {}

func (f *HuovilainenFilter) Oversampling() int { return huovOversampling }

func (f *HuovilainenFilter) Cutoff() float64 { return f.cutoff }

func (f *HuovilainenFilter) Resonance() float64 { return f.resonance }

func (f *HuovilainenFilter) Reset() {
	f.stage = [4]float64{}
	f.stageTanh = [3]float64{}
	f.delay = [6]float64{}
}

func (f *HuovilainenFilter) Process(buf []float32, frames, offset, stride int) {
	tune, resQuad := f.tune, f.resQuad
	idx := offset
	for i := 0; i < frames; i++ {
		x := sanitizeInput(buf[idx])
		for j := 0; j < huovOversampling; j++ {
			in := x - resQuad*f.delay[5]
			f.stage[0] = f.delay[0] + tune*(math.Tanh(in*huovThermal)-f.stageTanh[0])
			f.delay[0] = f.stage[0]

			f.stageTanh[0] = math.Tanh(f.stage[0] * huovThermal)
			f.stage[1] = f.delay[1] + tune*(f.stageTanh[0]-f.stageTanh[1])
			f.delay[1] = f.stage[1]

			f.stageTanh[1] = math.Tanh(f.stage[1] * huovThermal)
			f.stage[2] = f.delay[2] + tune*(f.stageTanh[1]-f.stageTanh[2])
			f.delay[2] = f.stage[2]

			f.stageTanh[2] = math.Tanh(f.stage[2] * huovThermal)
			f.stage[3] = f.delay[3] + tune*(f.stageTanh[2]-math.Tanh(f.delay[3]*huovThermal))
			f.delay[3] = f.stage[3]

			f.delay[5] = (f.stage[3] + f.delay[4]) * 0.5
			f.delay[4] = f.stage[3]
		}
		buf[idx] = float32(f.delay[5])
		idx += stride
	}
}
