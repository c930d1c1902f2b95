// Package synth is the monophonic voice: a band-limited pulse/saw oscillator
// with a sine sub-oscillator, PWM LFO, ADSR amplitude envelope and a pair of
// ladder filters swept by a one-shot filter envelope. Note events are queued
// with absolute sample timestamps and applied at exactly that sample.
package synth

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/cbegin/moogsynth-go/internal/adsr"
	"github.com/cbegin/moogsynth-go/internal/eventqueue"
	"github.com/cbegin/moogsynth-go/internal/ladder"
	"github.com/cbegin/moogsynth-go/internal/phaser"
)

const (
	// Velocity is fixed; there is no MIDI input.
	defaultVelocity = 127
	velocityScale   = 0.0079

	pwmDepth       = 0.48
	pwmRateScale   = 2.3
	outputHeadroom = 0.5

	minFilterEnvDecay = 1e-3

	// Channels is the interleaved channel count Render writes.
	Channels = 2

	// DefaultDebugFrames bounds the block copied out for visualization.
	DefaultDebugFrames = 4096
)

// Engine renders interleaved stereo float32 blocks. Render must only be
// called from one goroutine. QueueEvent, SetParameter, Parameter,
// TimeSamples, ClearQueue, NoteOnNow, NoteOffNow and DebugBuffer are safe
// to call from others.
type Engine struct {
	sampleRate int
	cfg        config

	osc1 *phaser.Phaser
	osc2 *phaser.Phaser
	lfo  *phaser.Phaser
	fenv *phaser.Phaser
	aenv *adsr.Envelope

	filters [2]ladder.Filter
	queue   *eventqueue.Queue

	params       [numParams]uint64 // float64 bits
	oversampling int32
	noteOnReq    int32 // note+1, 0 when none
	noteOffReq   int32
	published    int64

	note      int
	velocity  int
	noteIsOn  bool
	clock     int64
	freqTable [128]float64
	pending   eventqueue.Event

	debugMu  sync.Mutex
	debug    []float32
	debugLen int
}

// Option configures an Engine at construction.
type Option func(*config)

type config struct {
	variant       ladder.Variant
	oversampling  int
	queueCapacity int
	debugFrames   int
	params        Params
}

func defaultConfig() config {
	return config{
		variant:       ladder.Direct,
		oversampling:  1,
		queueCapacity: eventqueue.DefaultCapacity,
		debugFrames:   DefaultDebugFrames,
		params:        DefaultParams(),
	}
}

// WithFilterVariant selects the ladder algorithm for both channels.
func WithFilterVariant(v ladder.Variant) Option {
	return func(c *config) { c.variant = v }
}

// WithOversampling sets the initial ladder oversampling factor.
func WithOversampling(n int) Option {
	return func(c *config) { c.oversampling = n }
}

// WithQueueCapacity sets the event queue size.
func WithQueueCapacity(n int) Option {
	return func(c *config) { c.queueCapacity = n }
}

// WithDebugFrames sets how many frames of each block DebugBuffer can return.
func WithDebugFrames(n int) Option {
	return func(c *config) { c.debugFrames = n }
}

// WithParams replaces the default parameter set.
func WithParams(p Params) Option {
	return func(c *config) { c.params = p }
}

// New builds and initializes an engine.
func New(sampleRate int, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.debugFrames < 0 {
		cfg.debugFrames = 0
	}
	e := &Engine{
		cfg:   cfg,
		queue: eventqueue.New(cfg.queueCapacity),
		debug: make([]float32, cfg.debugFrames*2),
	}
	e.SetParams(cfg.params)
	e.SetOversampling(cfg.oversampling)
	e.Init(sampleRate)
	return e
}

// Init rebuilds the voice for sampleRate and resets all playback state:
// oscillators, envelopes, filters, the sample clock and the event queue.
// Parameters are kept. It must not run concurrently with Render.
func (e *Engine) Init(sampleRate int) {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	e.sampleRate = sampleRate

	e.osc1 = phaser.New()
	e.osc2 = phaser.New()
	e.lfo = phaser.New()
	e.fenv = phaser.New()
	e.aenv = adsr.New()
	for i := range e.filters {
		e.filters[i] = ladder.New(e.cfg.variant, sampleRate)
	}

	for n := range e.freqTable {
		e.freqTable[n] = noteFrequency(n)
	}

	e.note = 0
	e.velocity = defaultVelocity
	e.noteIsOn = false
	e.clock = 0
	atomic.StoreInt64(&e.published, 0)
	atomic.StoreInt32(&e.noteOnReq, 0)
	atomic.StoreInt32(&e.noteOffReq, 0)
	e.queue.Clear()

	e.updateParams()
}

// noteFrequency maps a note number to Hz with C at 32.7 Hz two octaves below
// the table origin, so note 69 is 440 Hz.
func noteFrequency(n int) float64 {
	return 32.70319566257483 * math.Pow(2, float64(n%12)/12+float64(n/12-2))
}

// NoteFrequency returns the tuning used for note (masked to 0..127).
func (e *Engine) NoteFrequency(note int) float64 {
	return e.freqTable[note&0x7f]
}

func (e *Engine) SampleRate() int { return e.sampleRate }

func (e *Engine) FilterVariant() ladder.Variant { return e.cfg.variant }

// QueueEvent schedules an event at an absolute sample index. It reports false
// when the queue is full. Events must be queued in non-decreasing time order.
func (e *Engine) QueueEvent(typ eventqueue.Type, note int, timeSmp int64) bool {
	return e.queue.Enqueue(typ, note, timeSmp)
}

// ClearQueue drops every event not yet applied.
func (e *Engine) ClearQueue() {
	e.queue.Clear()
}

// QueueLen returns the number of pending events.
func (e *Engine) QueueLen() int { return e.queue.Size() }

// NoteOnNow starts note at the next rendered sample, bypassing the queue
// and anything already scheduled in it. A later call before that sample
// replaces the note.
func (e *Engine) NoteOnNow(note int) {
	atomic.StoreInt32(&e.noteOnReq, int32(note&0x7f)+1)
}

// NoteOffNow releases the current note at the next rendered sample,
// bypassing the queue.
func (e *Engine) NoteOffNow() {
	atomic.StoreInt32(&e.noteOffReq, 1)
}

// TimeSamples returns the sample clock as of the end of the last rendered
// block.
func (e *Engine) TimeSamples() int64 {
	return atomic.LoadInt64(&e.published)
}

// SetParameter stores v for id. Unknown ids are ignored. The value takes
// effect at the next block or note-on.
func (e *Engine) SetParameter(id ParamID, v float64) {
	if !id.Valid() {
		return
	}
	atomic.StoreUint64(&e.params[id], math.Float64bits(v))
}

// Parameter returns the value for id, or -1 for an unknown id.
func (e *Engine) Parameter(id ParamID) float64 {
	if !id.Valid() {
		return -1
	}
	return e.param(id)
}

func (e *Engine) param(id ParamID) float64 {
	return math.Float64frombits(atomic.LoadUint64(&e.params[id]))
}

// SetParams stores every parameter in p.
func (e *Engine) SetParams(p Params) {
	for id, v := range p.values() {
		e.SetParameter(ParamID(id), v)
	}
}

// Params returns a snapshot of all parameters.
func (e *Engine) Params() Params {
	var v [numParams]float64
	for id := range v {
		v[id] = e.param(ParamID(id))
	}
	return paramsFromValues(v)
}

// SetOversampling sets the ladder iteration count from the next block. The
// Huovilainen variant ignores it.
func (e *Engine) SetOversampling(n int) {
	if n < 1 {
		n = 1
	}
	atomic.StoreInt32(&e.oversampling, int32(n))
}

func (e *Engine) Oversampling() int {
	return int(atomic.LoadInt32(&e.oversampling))
}

// updateParams recomputes every derived value from the current note and
// parameters.
func (e *Engine) updateParams() {
	sr := e.sampleRate
	freq := e.freqTable[e.note&0x7f]
	e.osc1.SetFreq(freq, sr)
	e.osc2.SetFreq(freq*0.5, sr)

	decay := e.param(FilterEnvDecay)
	if !(decay >= minFilterEnvDecay) {
		decay = minFilterEnvDecay
	}
	e.fenv.SetFreq(1/decay, sr)
	e.lfo.SetFreq(e.param(PWMFrequency)*pwmRateScale, sr)

	cutoff := e.param(Cutoff) * e.fenv.QuadDown01()
	resonance := e.param(Resonance)
	oversampling := e.Oversampling()
	for _, f := range e.filters {
		f.SetResonance(resonance)
		f.SetOversampling(oversampling)
		f.SetCutoff(cutoff)
	}

	rate := float64(sr)
	e.aenv.SetAttackRate(e.param(AEnvAttack) * rate)
	e.aenv.SetDecayRate(e.param(AEnvDecay) * rate)
	e.aenv.SetReleaseRate(e.param(AEnvRelease) * rate)
	e.aenv.SetSustainLevel(e.param(AEnvSustain))
}

// HandleEventNow applies ev at the current sample. Note-on latches the note,
// restarts the oscillators and filter envelope and retriggers the amplitude
// envelope. Note-off moves the amplitude envelope to release; the
// oscillators keep running for the tail.
func (e *Engine) HandleEventNow(ev eventqueue.Event) {
	switch ev.Type {
	case eventqueue.NoteOn:
		e.note = ev.Data
		e.velocity = defaultVelocity
		e.osc1.SetPhase(0)
		e.osc2.SetPhase(0)
		e.fenv.Restart()
		e.updateParams()
		e.aenv.Gate(true)
		e.noteIsOn = true
	case eventqueue.NoteOff:
		e.aenv.Gate(false)
	}
}

func (e *Engine) dispatchDue() {
	for e.queue.DequeueDue(e.clock, &e.pending) {
		e.HandleEventNow(e.pending)
	}
	if atomic.LoadInt32(&e.noteOnReq) != 0 {
		if req := atomic.SwapInt32(&e.noteOnReq, 0); req != 0 {
			e.HandleEventNow(eventqueue.Event{Type: eventqueue.NoteOn, Data: int(req - 1), Time: e.clock})
		}
	}
	if atomic.LoadInt32(&e.noteOffReq) != 0 && atomic.SwapInt32(&e.noteOffReq, 0) != 0 {
		e.aenv.Gate(false)
	}
}

// Render overwrites buf[:2*frames] with interleaved stereo samples, applying
// due events at their exact sample. It does not allocate or wait on other
// goroutines beyond the queue's short critical sections.
func (e *Engine) Render(buf []float32, frames int) {
	e.updateParams()

	velGain := float64(e.velocity) * velocityScale
	squareAmp := e.param(SquareAmp)
	sawAmp := e.param(SawAmp)
	subAmp := e.param(SubAmp)
	pwmStrength := e.param(PWMStrength)

	idx := 0
	for i := 0; i < frames; i++ {
		e.dispatchDue()

		var s float32
		if e.noteIsOn {
			env := e.aenv.Process()
			pw := e.lfo.Sin()*pwmDepth*pwmStrength + 0.5
			osc := squareAmp*e.osc1.SquareBL(pw) + sawAmp*e.osc1.SawBL() + subAmp*e.osc2.Sin()
			s = float32(osc * env * outputHeadroom * velGain)

			e.osc1.Update()
			e.osc2.Update()
			e.lfo.Update()
			e.fenv.UpdateOneShot()
		}
		buf[idx] = s
		buf[idx+1] = s
		idx += 2
		e.clock++
	}

	if e.param(FilterEnabled) >= 0.5 {
		e.filters[0].Process(buf, frames, 0, 2)
		e.filters[1].Process(buf, frames, 1, 2)
	}

	atomic.StoreInt64(&e.published, e.clock)
	e.publishDebug(buf[:frames*2])
}

// Process renders len(dst)/2 frames, satisfying the host stream's sample
// source contract.
func (e *Engine) Process(dst []float32) {
	e.Render(dst, len(dst)/Channels)
}

// publishDebug copies the block for visualization unless a reader holds the
// lock, in which case this block is skipped.
func (e *Engine) publishDebug(block []float32) {
	if len(e.debug) == 0 || !e.debugMu.TryLock() {
		return
	}
	e.debugLen = copy(e.debug, block)
	e.debugMu.Unlock()
}

// DebugBuffer copies the most recently published block into dst and returns
// the number of samples copied. Samples are interleaved stereo.
func (e *Engine) DebugBuffer(dst []float32) int {
	e.debugMu.Lock()
	defer e.debugMu.Unlock()
	return copy(dst, e.debug[:e.debugLen])
}
