// Package ladder implements nonlinear four-pole Moog-style lowpass filters.
//
// Two variants share the Filter interface and are chosen when the filter is
// constructed. Each instance owns one channel of state; interleaved stereo
// uses two instances with offsets 0 and 1 and a stride of 2.
package ladder

import (
	"fmt"
	"math"
	"strings"
)

const (
	minCutoffHz = 1.0
	// maxCutoffRatio bounds cutoff relative to the internal processing rate,
	// keeping it below Nyquist.
	maxCutoffRatio = 0.45
)

// Filter is a single-channel ladder filter processed in place.
type Filter interface {
	SetCutoff(hz float64)
	SetResonance(r float64)
	// SetOversampling sets the number of internal iterations per sample.
	// Variants with a fixed factor ignore it.
	SetOversampling(n int)
	Cutoff() float64
	Resonance() float64
	// Process filters frames samples at buf[offset+i*stride]. buf must hold
	// offset+(frames-1)*stride+1 samples.
	Process(buf []float32, frames, offset, stride int)
	Reset()
}

// Variant selects the ladder algorithm.
type Variant int

const (
	// Direct is the cascade with a user-settable oversampling factor.
	Direct Variant = iota
	// Huovilainen adds polynomial tuning and resonance corrections, fixed 2x
	// oversampling and a half-sample output delay.
	Huovilainen
)

func (v Variant) String() string {
	switch v {
	case Direct:
		return "direct"
	case Huovilainen:
		return "huovilainen"
	default:
		return "unknown"
	}
}

// ParseVariant maps a variant name back to its Variant.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "direct", "a":
		return Direct, nil
	case "huovilainen", "b":
		return Huovilainen, nil
	}
	return 0, fmt.Errorf("ladder: unknown variant %q", name)
}

// New returns a filter of the given variant at sampleRate. An unknown variant
// falls back to Direct.
func New(v Variant, sampleRate int) Filter {
	if v == Huovilainen {
		return NewHuovilainen(sampleRate)
	}
	return NewDirect(sampleRate)
}

func clampCutoff(hz, internalRate float64) float64 {
	hi := internalRate * maxCutoffRatio
	if !(hz >= minCutoffHz) {
		return minCutoffHz
	}
	if hz > hi {
		return hi
	}
	return hz
}

func clampResonance(r, hi float64) float64 {
	if !(r > 0) {
		return 0
	}
	if r > hi {
		return hi
	}
	return r
}

func sanitizeInput(x float32) float64 {
	v := float64(x)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
