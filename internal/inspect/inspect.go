// Package inspect turns the synth's debug block into plot data: the
// filtered waveform, its magnitude spectrum and the sequencer's pitch grid.
// It pulls from the engine on demand and owns all of its scratch space.
package inspect

import (
	"fmt"
	"math"
	"math/bits"
	"sync"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-dsp/dsp/spectrum"
	"github.com/cwbudde/algo-dsp/dsp/window"
	"github.com/cwbudde/algo-vecmath"
)

const (
	// FloorDB is the lowest level Spectrum reports.
	FloorDB = -130.0

	DefaultFFTSize = 2048
	minFFTSize     = 64
	maxFFTSize     = 16384

	eps = 1e-12
)

// Source exposes the most recently rendered interleaved stereo block.
// synth.Engine implements it.
type Source interface {
	DebugBuffer(dst []float32) int
}

// Analyzer computes views of the source's last block. Methods are safe for
// concurrent use.
type Analyzer struct {
	mu         sync.Mutex
	src        Source
	sampleRate int
	size       int

	plan       *algofft.Plan[complex128]
	window     []float64
	windowGain float64

	raw  []float32
	mono []float64
	in   []complex128
	out  []complex128
	re   []float64
	im   []float64
	mag  []float64
}

// NewAnalyzer builds an analyzer with a Hann window of fftSize, which must
// be a power of two between 64 and 16384. Zero selects DefaultFFTSize.
func NewAnalyzer(src Source, sampleRate, fftSize int) (*Analyzer, error) {
	if fftSize == 0 {
		fftSize = DefaultFFTSize
	}
	if fftSize < minFFTSize || fftSize > maxFFTSize || bits.OnesCount(uint(fftSize)) != 1 {
		return nil, fmt.Errorf("inspect: fft size must be a power of two in [%d, %d]: %d", minFFTSize, maxFFTSize, fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("inspect: invalid sample rate: %d", sampleRate)
	}
	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("inspect: fft plan: %w", err)
	}

	win, err := window.Hann(fftSize, window.WithPeriodic())
	if err != nil {
		return nil, fmt.Errorf("inspect: window: %w", err)
	}
	sum := 0.0
	for _, w := range win {
		sum += w
	}
	bins := fftSize/2 + 1
	return &Analyzer{
		src:        src,
		sampleRate: sampleRate,
		size:       fftSize,
		plan:       plan,
		window:     win,
		windowGain: sum / float64(fftSize),
		raw:        make([]float32, fftSize*2),
		mono:       make([]float64, fftSize),
		in:         make([]complex128, fftSize),
		out:        make([]complex128, fftSize),
		re:         make([]float64, bins),
		im:         make([]float64, bins),
		mag:        make([]float64, bins),
	}, nil
}

func (a *Analyzer) FFTSize() int { return a.size }

// Bins is the number of values Spectrum writes.
func (a *Analyzer) Bins() int { return a.size/2 + 1 }

// BinFrequency returns the center frequency of bin k in Hz.
func (a *Analyzer) BinFrequency(k int) float64 {
	return float64(k) * float64(a.sampleRate) / float64(a.size)
}

// pull copies the left channel of the latest block into a.mono, zero padding
// to the FFT size, and returns the number of real frames.
func (a *Analyzer) pull() int {
	n := a.src.DebugBuffer(a.raw) / 2
	for i := 0; i < n; i++ {
		a.mono[i] = float64(a.raw[2*i])
	}
	clear(a.mono[n:])
	return n
}

// Waveform copies the left channel of the latest block into dst and returns
// the number of frames written.
func (a *Analyzer) Waveform(dst []float32) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.src.DebugBuffer(a.raw) / 2
	n = min(n, len(dst))
	for i := 0; i < n; i++ {
		dst[i] = a.raw[2*i]
	}
	return n
}

// Spectrum writes the single-sided magnitude spectrum of the latest block in
// dBFS into dst, which should hold Bins() values. A full-scale sine reads
// near 0 dB. Levels are floored at FloorDB.
func (a *Analyzer) Spectrum(dst []float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pull()
	vecmath.MulBlockInPlace(a.mono, a.window)
	for i, v := range a.mono {
		a.in[i] = complex(v, 0)
	}
	bins := a.Bins()
	n := min(bins, len(dst))
	if err := a.plan.Forward(a.out, a.in); err != nil {
		for i := 0; i < n; i++ {
			dst[i] = FloorDB
		}
		return n
	}
	for k := 0; k < bins; k++ {
		a.re[k] = real(a.out[k])
		a.im[k] = imag(a.out[k])
	}
	spectrum.MagnitudeFromParts(a.mag, a.re, a.im)

	norm := float64(a.size) * math.Max(a.windowGain, eps)
	last := bins - 1
	for k := 0; k < n; k++ {
		m := a.mag[k] / norm
		if k > 0 && k < last {
			m *= 2
		}
		db := 20 * math.Log10(math.Max(eps, m))
		if db < FloorDB {
			db = FloorDB
		}
		dst[k] = db
	}
	return n
}

// PeakFrequency returns the frequency of the strongest non-DC bin of the
// latest block, or 0 if the block is silent.
func (a *Analyzer) PeakFrequency() float64 {
	db := make([]float64, a.Bins())
	a.Spectrum(db)
	peak, at := FloorDB, 0
	for k := 1; k < len(db); k++ {
		if db[k] > peak {
			peak, at = db[k], k
		}
	}
	return a.BinFrequency(at)
}

// Cell is one step of a pitch grid.
type Cell struct {
	Step int
	Note int
	Freq float64
}

// NoteGrid maps a step pattern to absolute notes and their frequencies
// using tuning, for drawing the sequencer's pitch lane.
func NoteGrid(pattern []int, transpose int, tuning func(note int) float64) []Cell {
	cells := make([]Cell, len(pattern))
	for i, p := range pattern {
		note := min(max(p+transpose, 0), 127)
		cells[i] = Cell{Step: i, Note: note, Freq: tuning(note)}
	}
	return cells
}
