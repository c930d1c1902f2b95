package synth

import "strings"

// ParamID names one of the engine's user parameters.
type ParamID int

const (
	Cutoff ParamID = iota
	Resonance
	FilterEnvDecay
	FilterEnabled
	SquareAmp
	SawAmp
	SubAmp
	PWMStrength
	PWMFrequency
	AEnvAttack
	AEnvDecay
	AEnvSustain
	AEnvRelease

	numParams
)

var paramNames = [numParams]string{
	Cutoff:         "cutoff",
	Resonance:      "resonance",
	FilterEnvDecay: "filter-env-decay",
	FilterEnabled:  "filter-enabled",
	SquareAmp:      "square-amp",
	SawAmp:         "saw-amp",
	SubAmp:         "sub-amp",
	PWMStrength:    "pwm-strength",
	PWMFrequency:   "pwm-frequency",
	AEnvAttack:     "aenv-attack",
	AEnvDecay:      "aenv-decay",
	AEnvSustain:    "aenv-sustain",
	AEnvRelease:    "aenv-release",
}

func (id ParamID) Valid() bool { return id >= 0 && id < numParams }

func (id ParamID) String() string {
	if !id.Valid() {
		return "unknown"
	}
	return paramNames[id]
}

// ParseParamID looks up a parameter by its String name. Underscores are
// accepted in place of dashes.
func ParseParamID(name string) (ParamID, bool) {
	name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	for id, n := range paramNames {
		if n == name {
			return ParamID(id), true
		}
	}
	return -1, false
}

// ParamIDs returns every parameter in id order.
func ParamIDs() []ParamID {
	ids := make([]ParamID, numParams)
	for i := range ids {
		ids[i] = ParamID(i)
	}
	return ids
}

// Params is a full parameter set. Envelope times are in seconds, cutoff in
// Hz, amplitudes and levels in [0, 1]. FilterEnabled switches the ladder on
// at 0.5 and above.
type Params struct {
	Cutoff         float64
	Resonance      float64
	FilterEnvDecay float64
	FilterEnabled  float64
	SquareAmp      float64
	SawAmp         float64
	SubAmp         float64
	PWMStrength    float64
	PWMFrequency   float64
	AEnvAttack     float64
	AEnvDecay      float64
	AEnvSustain    float64
	AEnvRelease    float64
}

func DefaultParams() Params {
	return Params{
		Cutoff:         2400,
		Resonance:      0.4,
		FilterEnvDecay: 0.6,
		FilterEnabled:  1,
		SquareAmp:      0.4,
		SawAmp:         0.2,
		SubAmp:         0.4,
		PWMStrength:    0.5,
		PWMFrequency:   0.3,
		AEnvAttack:     0.004,
		AEnvDecay:      0.25,
		AEnvSustain:    0.6,
		AEnvRelease:    0.15,
	}
}

func (p Params) values() [numParams]float64 {
	return [numParams]float64{
		Cutoff:         p.Cutoff,
		Resonance:      p.Resonance,
		FilterEnvDecay: p.FilterEnvDecay,
		FilterEnabled:  p.FilterEnabled,
		SquareAmp:      p.SquareAmp,
		SawAmp:         p.SawAmp,
		SubAmp:         p.SubAmp,
		PWMStrength:    p.PWMStrength,
		PWMFrequency:   p.PWMFrequency,
		AEnvAttack:     p.AEnvAttack,
		AEnvDecay:      p.AEnvDecay,
		AEnvSustain:    p.AEnvSustain,
		AEnvRelease:    p.AEnvRelease,
	}
}

func paramsFromValues(v [numParams]float64) Params {
	return Params{
		Cutoff:         v[Cutoff],
		Resonance:      v[Resonance],
		FilterEnvDecay: v[FilterEnvDecay],
		FilterEnabled:  v[FilterEnabled],
		SquareAmp:      v[SquareAmp],
		SawAmp:         v[SawAmp],
		SubAmp:         v[SubAmp],
		PWMStrength:    v[PWMStrength],
		PWMFrequency:   v[PWMFrequency],
		AEnvAttack:     v[AEnvAttack],
		AEnvDecay:      v[AEnvDecay],
		AEnvSustain:    v[AEnvSustain],
		AEnvRelease:    v[AEnvRelease],
	}
}

// With returns a copy of p with id set to v. Unknown ids leave p unchanged.
func (p Params) With(id ParamID, v float64) Params {
	if !id.Valid() {
		return p
	}
	vals := p.values()
	vals[id] = v
	return paramsFromValues(vals)
}
