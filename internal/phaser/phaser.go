// Package phaser implements a 32-bit fixed-point phase accumulator used for
// oscillators, LFOs and one-shot ramps.
//
// A 16-bit accumulator is too coarse for slow LFOs: 0.3 Hz at 48 kHz is
// 0.41 phase units per sample and rounds to zero. With 32 bits the same LFO
// advances by 26843 units per sample.
package phaser

import "math"

const (
	phaseMax = 4294967296.0 // 2^32
	twoPi    = math.Pi * 2
)

// Phaser advances a wrapping uint32 phase by a fixed increment per sample.
type Phaser struct {
	phase  uint32
	inc    uint32
	amp    float64
	active bool
}

// New returns an active phaser with unit amplitude and zero frequency.
func New() *Phaser {
	return &Phaser{amp: 1, active: true}
}

// NewWithAmp returns an active phaser scaled by amp.
func NewWithAmp(amp float64) *Phaser {
	return &Phaser{amp: amp, active: true}
}

// Restart resets the phase to zero and reactivates a one-shot phaser.
func (p *Phaser) Restart() {
	p.phase = 0
	p.active = true
}

// Update advances the phase, wrapping modulo 2^32.
func (p *Phaser) Update() {
	p.phase += p.inc
}

// UpdateOneShot advances the phase and deactivates on wraparound, leaving the
// phase at zero. Used for envelope-like single passes.
func (p *Phaser) UpdateOneShot() {
	old := p.phase
	p.phase += p.inc
	if p.phase < old {
		p.active = false
		p.phase = 0
	}
}

// SetFreq recomputes the increment for freqHz at sampleRate. sampleRate must
// be positive. The increment saturates to the representable range.
func (p *Phaser) SetFreq(freqHz float64, sampleRate int) {
	p.inc = incrementFor(freqHz, sampleRate)
}

func incrementFor(freqHz float64, sampleRate int) uint32 {
	inc := math.Round(freqHz / float64(sampleRate) * phaseMax)
	switch {
	case !(inc > 0): // also catches NaN
		return 0
	case inc >= phaseMax:
		return math.MaxUint32
	}
	return uint32(inc)
}

// Increment returns the per-sample phase increment.
func (p *Phaser) Increment() uint32 { return p.inc }

// Phase returns the raw phase.
func (p *Phaser) Phase() uint32 { return p.phase }

// SetPhase overrides the raw phase without touching the active flag.
func (p *Phaser) SetPhase(phase uint32) { p.phase = phase }

// Active reports whether a one-shot pass is still running.
func (p *Phaser) Active() bool { return p.active }

func (p *Phaser) phase01() float64 {
	return float64(p.phase) / phaseMax
}

func (p *Phaser) inc01() float64 {
	return float64(p.inc) / phaseMax
}

// Sin returns amp*sin(2*pi*phase), or 0 when inactive.
func (p *Phaser) Sin() float64 {
	if !p.active {
		return 0
	}
	return math.Sin(p.phase01()*twoPi) * p.amp
}

// Square returns a naive pulse: +amp above pulseWidth, -amp otherwise.
func (p *Phaser) Square(pulseWidth float64) float64 {
	if p.phase01() > pulseWidth {
		return p.amp
	}
	return -p.amp
}

// SawBL returns a rising saw in [-amp, amp] with PolyBLEP correction at the
// wrap discontinuity.
func (p *Phaser) SawBL() float64 {
	if !p.active {
		return 0
	}
	t := p.phase01()
	dt := p.inc01()
	return (2*t - 1 - polyBLEP(t, dt)) * p.amp
}

// SquareBL returns a band-limited pulse that is high for phase < pulseWidth.
// Both edges are PolyBLEP corrected.
func (p *Phaser) SquareBL(pulseWidth float64) float64 {
	if !p.active {
		return 0
	}
	pulseWidth = clamp(pulseWidth, 0.01, 0.99)
	t := p.phase01()
	dt := p.inc01()
	v := -1.0
	if t < pulseWidth {
		v = 1
	}
	v += polyBLEP(t, dt)
	t2 := t + 1 - pulseWidth
	if t2 >= 1 {
		t2--
	}
	v -= polyBLEP(t2, dt)
	return v * p.amp
}

// QuadDown01 returns (1-phase)^2, a parabolic ramp from 1 to 0 over one
// period. Returns 0 when inactive.
func (p *Phaser) QuadDown01() float64 {
	if !p.active {
		return 0
	}
	x := 1 - p.phase01()
	return x * x
}

// polyBLEP is the two-sample polynomial residual of a unit step at t=0,
// for normalized phase t and increment dt.
func polyBLEP(t, dt float64) float64 {
	switch {
	case dt <= 0:
		return 0
	case t < dt:
		x := t / dt
		return x + x - x*x - 1
	case t > 1-dt:
		x := (t - 1) / dt
		return x*x + x + x + 1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
