package moogsynth

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	intaudio "github.com/cbegin/moogsynth-go/internal/audio"
	"github.com/cbegin/moogsynth-go/internal/eventqueue"
	"github.com/cbegin/moogsynth-go/internal/inspect"
	"github.com/cbegin/moogsynth-go/internal/ladder"
	intseq "github.com/cbegin/moogsynth-go/internal/sequencer"
	"github.com/cbegin/moogsynth-go/internal/synth"
)

// DefaultUpdateInterval is how often Play advances the sequencer.
const DefaultUpdateInterval = 10 * time.Millisecond

// PlaybackEvent carries sequencer events from Watch().
type PlaybackEvent struct {
	Kind int // EventNoteScheduled, EventTempoChanged or EventQueueFull
	Step int
	Note int
	Time int64 // absolute sample index
}

const (
	EventNoteScheduled = int(intseq.EventNoteScheduled)
	EventTempoChanged  = int(intseq.EventTempoChanged)
	EventQueueFull     = int(intseq.EventQueueFull)
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	engineOpts     []synth.Option
	seqOpts        intseq.Options
	sampleTap      func([]float32)
	blockFrames    int
	bufferSize     time.Duration
	fftSize        int
	updateInterval time.Duration
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		seqOpts:        intseq.DefaultOptions(),
		blockFrames:    intaudio.DefaultBlockFrames,
		fftSize:        inspect.DefaultFFTSize,
		updateInterval: DefaultUpdateInterval,
	}
}

func WithFilterVariant(v ladder.Variant) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.engineOpts = append(cfg.engineOpts, synth.WithFilterVariant(v))
	}
}

func WithOversampling(n int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.engineOpts = append(cfg.engineOpts, synth.WithOversampling(n))
	}
}

func WithQueueCapacity(n int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.engineOpts = append(cfg.engineOpts, synth.WithQueueCapacity(n))
	}
}

// WithParameters replaces the engine's starting parameter set.
func WithParameters(p synth.Params) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.engineOpts = append(cfg.engineOpts, synth.WithParams(p))
	}
}

// WithSequencerOptions replaces the default pattern, tempo and scheduling.
// An OnEvent callback in opts still fires alongside Watch.
func WithSequencerOptions(opts intseq.Options) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.seqOpts = opts
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

// WithBlockFrames caps the frames rendered per engine call.
func WithBlockFrames(n int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.blockFrames = n
	}
}

// WithBufferSize sets the device buffer length. Zero keeps the driver default.
func WithBufferSize(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.bufferSize = d
	}
}

// WithFFTSize sets the analyzer transform length.
func WithFFTSize(n int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.fftSize = n
	}
}

// WithUpdateInterval sets how often Play calls the sequencer.
func WithUpdateInterval(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.updateInterval = d
	}
}

// Player wires the synth engine to the audio device and drives it with the
// step sequencer.
type Player struct {
	mu             sync.Mutex
	sampleRate     int
	engine         *synth.Engine
	seq            *intseq.Sequencer
	analyzer       *inspect.Analyzer
	audio          *intaudio.Player
	source         *engineSource
	blockFrames    int
	bufferSize     time.Duration
	updateInterval time.Duration
	done           chan struct{}
	eventCh        chan PlaybackEvent
	eventChMu      sync.Mutex
}

// engineSource renders the engine for the audio stream, applies the master
// volume and feeds the sample tap.
type engineSource struct {
	engine    *synth.Engine
	volume    atomic.Uint64 // float64 bits
	stopped   atomic.Bool
	sampleTap func([]float32)
}

func (s *engineSource) Process(dst []float32) {
	if s.stopped.Load() {
		clear(dst)
		return
	}
	s.engine.Process(dst)
	if vol := math.Float64frombits(s.volume.Load()); vol != 1 {
		g := float32(vol)
		for i := range dst {
			dst[i] *= g
		}
	}
	if s.sampleTap != nil {
		s.sampleTap(dst)
	}
}

func (s *engineSource) Finished() bool {
	return s.stopped.Load()
}

func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	engine := synth.New(sampleRate, cfg.engineOpts...)
	analyzer, err := inspect.NewAnalyzer(engine, sampleRate, cfg.fftSize)
	if err != nil {
		return nil, err
	}
	p := &Player{
		sampleRate:     sampleRate,
		engine:         engine,
		analyzer:       analyzer,
		blockFrames:    cfg.blockFrames,
		bufferSize:     cfg.bufferSize,
		updateInterval: cfg.updateInterval,
	}
	p.source = &engineSource{engine: engine, sampleTap: cfg.sampleTap}
	p.source.volume.Store(math.Float64bits(1))

	seqOpts := cfg.seqOpts
	userHook := seqOpts.OnEvent
	seqOpts.OnEvent = func(ev intseq.Event) {
		if userHook != nil {
			userHook(ev)
		}
		p.sendEvent(PlaybackEvent{Kind: int(ev.Kind), Step: ev.Step, Note: ev.Note, Time: ev.Time})
	}
	p.seq = intseq.New(engine, sampleRate, seqOpts)
	return p, nil
}

// Start opens the audio device and begins rendering. Notes are only
// scheduled while Play runs the sequencer, or by calling QueueEvent.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		return nil
	}
	p.source.stopped.Store(false)
	backend, err := intaudio.NewPlayer(p.sampleRate, p.source, p.blockFrames, p.bufferSize)
	if err != nil {
		return err
	}
	p.audio = backend
	p.done = make(chan struct{})
	p.audio.Play()
	return nil
}

// Play starts the audio stream and runs the sequencer until ctx is done,
// then stops playback. Cancellation is not an error.
func (p *Player) Play(ctx context.Context) error {
	if err := p.Start(); err != nil {
		return err
	}
	err := p.seq.Run(ctx, p.updateInterval)
	if stopErr := p.Stop(); err == nil {
		err = stopErr
	}
	return err
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Pause()
	}
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Play()
	}
}

// Stop releases the current note, closes the audio stream and drops any
// queued events.
func (p *Player) Stop() error {
	p.mu.Lock()
	if p.audio == nil {
		p.mu.Unlock()
		return nil
	}
	p.engine.NoteOffNow()
	p.source.stopped.Store(true)
	err := p.audio.Stop()
	p.audio = nil
	done := p.done
	p.done = nil
	p.mu.Unlock()
	p.engine.ClearQueue()
	if done != nil {
		close(done)
	}
	return err
}

// Wait blocks until playback is stopped. It returns immediately if nothing
// is playing.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Watch returns a channel that receives sequencer events. The channel is
// buffered (cap 64) and events are dropped when it is full. Only the most
// recent Watch() channel receives events.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 64)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SetMasterVolume sets the output gain applied after the engine. 1.0 is default.
func (p *Player) SetMasterVolume(volume float64) {
	if !(volume > 0) {
		volume = 0
	}
	p.source.volume.Store(math.Float64bits(volume))
}

func (p *Player) MasterVolume() float64 {
	return math.Float64frombits(p.source.volume.Load())
}

// SetParameter forwards to the engine; the value applies from the next block.
func (p *Player) SetParameter(id synth.ParamID, v float64) {
	p.engine.SetParameter(id, v)
}

// Parameter returns the engine value for id, or -1 for an unknown id.
func (p *Player) Parameter(id synth.ParamID) float64 {
	return p.engine.Parameter(id)
}

// SetParameterByName resolves name with synth.ParseParamID.
func (p *Player) SetParameterByName(name string, v float64) bool {
	id, ok := synth.ParseParamID(name)
	if !ok {
		return false
	}
	p.engine.SetParameter(id, v)
	return true
}

// QueueEvent schedules a note event at an absolute sample index.
func (p *Player) QueueEvent(typ eventqueue.Type, note int, timeSmp int64) bool {
	return p.engine.QueueEvent(typ, note, timeSmp)
}

// NoteOnNow plays note from the next rendered sample, ahead of anything
// the sequencer has queued.
func (p *Player) NoteOnNow(note int) {
	p.engine.NoteOnNow(note)
}

// NoteOffNow releases the current note at the next rendered sample.
func (p *Player) NoteOffNow() {
	p.engine.NoteOffNow()
}

func (p *Player) Engine() *synth.Engine { return p.engine }

func (p *Player) Sequencer() *intseq.Sequencer { return p.seq }

func (p *Player) Analyzer() *inspect.Analyzer { return p.analyzer }

func (p *Player) SampleRate() int { return p.sampleRate }

// PlaybackPosition returns the current output position of the audio driver,
// i.e. what the listener actually hears right now. Returns 0 if not playing.
func (p *Player) PlaybackPosition() int64 {
	p.mu.Lock()
	a := p.audio
	p.mu.Unlock()
	if a == nil {
		return 0
	}
	pos := a.Position()
	return int64(pos.Seconds() * float64(p.sampleRate))
}
