// Package adsr implements an exponential attack/decay/sustain/release
// envelope generator after Nigel Redmon's EarLevel design.
package adsr

import "math"

// minTargetRatio keeps the log-domain coefficient finite (-180 dB).
const minTargetRatio = 1e-9

// State is the envelope stage.
type State int

const (
	Idle State = iota
	Attack
	Decay
	Sustain
	Release
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attack:
		return "attack"
	case Decay:
		return "decay"
	case Sustain:
		return "sustain"
	case Release:
		return "release"
	default:
		return "unknown"
	}
}

// Envelope is an exponential ADSR. Rates are in samples. Every setter
// recomputes the affected coefficient/base pair before returning.
type Envelope struct {
	state  State
	output float64

	attackRate  float64
	decayRate   float64
	releaseRate float64

	attackCoef  float64
	decayCoef   float64
	releaseCoef float64

	attackBase  float64
	decayBase   float64
	releaseBase float64

	sustainLevel  float64
	targetRatioA  float64
	targetRatioDR float64
}

// New returns an idle envelope with instantaneous stages, full sustain,
// attack ratio 0.3 and decay/release ratio 0.0001.
func New() *Envelope {
	e := &Envelope{}
	e.Reset()
	e.SetAttackRate(0)
	e.SetDecayRate(0)
	e.SetReleaseRate(0)
	e.SetSustainLevel(1)
	e.SetTargetRatioA(0.3)
	e.SetTargetRatioDR(0.0001)
	return e
}

func (e *Envelope) SetAttackRate(rate float64) {
	e.attackRate = rate
	e.attackCoef = calcCoef(rate, e.targetRatioA)
	e.attackBase = (1 + e.targetRatioA) * (1 - e.attackCoef)
}

func (e *Envelope) SetDecayRate(rate float64) {
	e.decayRate = rate
	e.decayCoef = calcCoef(rate, e.targetRatioDR)
	e.decayBase = (e.sustainLevel - e.targetRatioDR) * (1 - e.decayCoef)
}

func (e *Envelope) SetReleaseRate(rate float64) {
	e.releaseRate = rate
	e.releaseCoef = calcCoef(rate, e.targetRatioDR)
	e.releaseBase = -e.targetRatioDR * (1 - e.releaseCoef)
}

// SetSustainLevel sets the sustain level, clamped to [0, 1].
func (e *Envelope) SetSustainLevel(level float64) {
	e.sustainLevel = clamp01(level)
	e.decayBase = (e.sustainLevel - e.targetRatioDR) * (1 - e.decayCoef)
}

// SetTargetRatioA sets the attack curvature. Smaller is sharper.
func (e *Envelope) SetTargetRatioA(ratio float64) {
	if !(ratio >= minTargetRatio) {
		ratio = minTargetRatio
	}
	e.targetRatioA = ratio
	e.attackCoef = calcCoef(e.attackRate, e.targetRatioA)
	e.attackBase = (1 + e.targetRatioA) * (1 - e.attackCoef)
}

// SetTargetRatioDR sets the decay and release curvature.
func (e *Envelope) SetTargetRatioDR(ratio float64) {
	if !(ratio >= minTargetRatio) {
		ratio = minTargetRatio
	}
	e.targetRatioDR = ratio
	e.decayCoef = calcCoef(e.decayRate, e.targetRatioDR)
	e.releaseCoef = calcCoef(e.releaseRate, e.targetRatioDR)
	e.decayBase = (e.sustainLevel - e.targetRatioDR) * (1 - e.decayCoef)
	e.releaseBase = -e.targetRatioDR * (1 - e.releaseCoef)
}

// Reset forces the envelope to Idle with zero output.
func (e *Envelope) Reset() {
	e.state = Idle
	e.output = 0
}

// Gate starts the attack on true. On false, any active stage moves to
// Release; an idle envelope stays idle.
func (e *Envelope) Gate(on bool) {
	if on {
		e.state = Attack
	} else if e.state != Idle {
		e.state = Release
	}
}

// Process advances one sample and returns the new output.
func (e *Envelope) Process() float64 {
	switch e.state {
	case Attack:
		e.output = e.attackBase + e.output*e.attackCoef
		if e.output >= 1 {
			e.output = 1
			e.state = Decay
		}
	case Decay:
		e.output = e.decayBase + e.output*e.decayCoef
		if e.output <= e.sustainLevel {
			e.output = e.sustainLevel
			e.state = Sustain
		}
	case Release:
		e.output = e.releaseBase + e.output*e.releaseCoef
		if e.output <= 0 {
			e.output = 0
			e.state = Idle
		}
	}
	return e.output
}

func (e *Envelope) State() State { return e.state }

func (e *Envelope) Output() float64 { return e.output }

func (e *Envelope) SustainLevel() float64 { return e.sustainLevel }

// calcCoef returns exp(-ln((1+ratio)/ratio)/rate), or 0 for rate <= 0.
func calcCoef(rate, targetRatio float64) float64 {
	if !(rate > 0) {
		return 0
	}
	return math.Exp(-math.Log((1+targetRatio)/targetRatio) / rate)
}

func clamp01(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
