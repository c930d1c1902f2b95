// Package sequencer is a looping step sequencer that schedules note events a
// fixed number of samples ahead of the synth's playback clock.
package sequencer

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/cbegin/moogsynth-go/internal/eventqueue"
)

// ErrQueueFull is returned by Update when the sink rejects an event.
var ErrQueueFull = errors.New("sequencer: event queue full")

// DefaultQueueAhead is how far ahead of the playback clock notes are queued.
const DefaultQueueAhead = 4096

const (
	minTempo       = 1
	maxTempo       = 2000
	maxSubdivision = 32
	maxTranspose   = 120
)

// EventSink receives timestamped note events. synth.Engine implements it.
type EventSink interface {
	QueueEvent(typ eventqueue.Type, note int, timeSmp int64) bool
	TimeSamples() int64
	ClearQueue()
}

// EventKind identifies sequencer lifecycle events.
type EventKind int

const (
	EventNoteScheduled EventKind = iota
	EventTempoChanged
	EventQueueFull
)

// Event reports a scheduled step to OnEvent.
type Event struct {
	Kind EventKind
	Step int
	Note int
	Time int64
}

type Options struct {
	Tempo        float64 // beats per minute, 1..2000
	Subdivision  int     // steps per beat, 1..32
	Pattern      []int   // semitone offsets, looped
	Transpose    int     // added to every step, 0..120
	Randomize    int     // random pitch offset range, 0..120
	GateLength   float64 // note-off point as a fraction of a step
	QueueNoteOff bool    // queue a note-off per step; otherwise notes run into the next
	QueueAhead   int64   // samples of lookahead
	Seed         int64
	OnEvent      func(Event)
}

func DefaultOptions() Options {
	return Options{
		Tempo:       120,
		Subdivision: 4,
		Pattern:     []int{0, 12, 3, 15, 7, 19, 10, 22},
		Transpose:   36,
		GateLength:  0.75,
		QueueAhead:  DefaultQueueAhead,
		Seed:        1,
	}
}

type Sequencer struct {
	mu         sync.Mutex
	sink       EventSink
	sampleRate int
	opts       Options
	rng        *rand.Rand

	started      bool
	tempoOld     float64
	nextNoteTime int64
	step         int
}

func New(sink EventSink, sampleRate int, opts Options) *Sequencer {
	s := &Sequencer{
		sink:       sink,
		sampleRate: sampleRate,
		rng:        rand.New(rand.NewSource(opts.Seed)),
	}
	s.opts = normalize(opts)
	s.opts.Pattern = append([]int(nil), opts.Pattern...)
	s.tempoOld = s.opts.Tempo
	return s
}

func normalize(o Options) Options {
	o.Tempo = clampFloat(o.Tempo, minTempo, maxTempo)
	o.Subdivision = clampInt(o.Subdivision, 1, maxSubdivision)
	o.Transpose = clampInt(o.Transpose, 0, maxTranspose)
	o.Randomize = clampInt(o.Randomize, 0, maxTranspose)
	if !(o.GateLength > 0) || o.GateLength >= 1 {
		o.GateLength = 0.75
	}
	if o.QueueAhead <= 0 {
		o.QueueAhead = DefaultQueueAhead
	}
	return o
}

// SamplesPerStep is 60*sampleRate/tempo/subdivision, truncated.
func (s *Sequencer) SamplesPerStep() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samplesPerStep()
}

func (s *Sequencer) samplesPerStep() int64 {
	n := int64(60 * float64(s.sampleRate) / s.opts.Tempo / float64(s.opts.Subdivision))
	if n < 1 {
		n = 1
	}
	return n
}

// Update queues every step that falls inside the lookahead window. A tempo
// change since the last call drops queued events and restarts scheduling
// one window ahead of the clock. Scheduling stops at the first rejected
// event and ErrQueueFull is returned.
func (s *Sequencer) Update() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.sink.TimeSamples()
	if !s.started {
		s.started = true
		s.nextNoteTime = now + s.opts.QueueAhead
	}
	if s.opts.Tempo != s.tempoOld {
		s.tempoOld = s.opts.Tempo
		s.sink.ClearQueue()
		s.nextNoteTime = now + s.opts.QueueAhead
		s.emit(Event{Kind: EventTempoChanged, Step: s.step, Time: s.nextNoteTime})
	}
	if len(s.opts.Pattern) == 0 {
		return nil
	}

	perStep := s.samplesPerStep()
	for now+s.opts.QueueAhead >= s.nextNoteTime {
		if s.step >= len(s.opts.Pattern) {
			s.step = 0
		}
		note := s.noteFor(s.step)
		onTime := s.nextNoteTime

		if !s.sink.QueueEvent(eventqueue.NoteOn, note, onTime) {
			s.emit(Event{Kind: EventQueueFull, Step: s.step, Note: note, Time: onTime})
			return ErrQueueFull
		}
		s.emit(Event{Kind: EventNoteScheduled, Step: s.step, Note: note, Time: onTime})
		step := s.step
		s.advance(perStep)

		// Once the note-on is in, the step is done; a rejected note-off
		// is dropped and the note runs into the next one.
		if s.opts.QueueNoteOff {
			offTime := onTime + int64(float64(perStep)*s.opts.GateLength)
			if !s.sink.QueueEvent(eventqueue.NoteOff, note, offTime) {
				s.emit(Event{Kind: EventQueueFull, Step: step, Note: note, Time: offTime})
				return ErrQueueFull
			}
		}
	}
	return nil
}

func (s *Sequencer) advance(perStep int64) {
	s.step = (s.step + 1) % len(s.opts.Pattern)
	s.nextNoteTime += perStep
}

func (s *Sequencer) noteFor(step int) int {
	note := s.opts.Pattern[step] + s.opts.Transpose
	if r := s.opts.Randomize; r > 0 {
		note += s.rng.Intn(2*r) - r
	}
	return clampInt(note, 0, 127)
}

func (s *Sequencer) emit(ev Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}

// Run calls Update every interval until ctx is done. Queue-full errors are
// logged and scheduling resumes on the next tick.
func (s *Sequencer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Update(); err != nil {
			log.Printf("sequencer: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sequencer) SetTempo(bpm float64) {
	s.mu.Lock()
	s.opts.Tempo = clampFloat(bpm, minTempo, maxTempo)
	s.mu.Unlock()
}

func (s *Sequencer) SetSubdivision(n int) {
	s.mu.Lock()
	s.opts.Subdivision = clampInt(n, 1, maxSubdivision)
	s.mu.Unlock()
}

// SetPattern replaces the step pattern. The play position wraps if the new
// pattern is shorter.
func (s *Sequencer) SetPattern(pattern []int) {
	s.mu.Lock()
	s.opts.Pattern = append([]int(nil), pattern...)
	s.mu.Unlock()
}

func (s *Sequencer) SetTranspose(n int) {
	s.mu.Lock()
	s.opts.Transpose = clampInt(n, 0, maxTranspose)
	s.mu.Unlock()
}

func (s *Sequencer) SetRandomize(n int) {
	s.mu.Lock()
	s.opts.Randomize = clampInt(n, 0, maxTranspose)
	s.mu.Unlock()
}

// Options returns a copy of the current settings.
func (s *Sequencer) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.opts
	o.Pattern = append([]int(nil), s.opts.Pattern...)
	return o
}

// Step returns the index of the next step to be scheduled.
func (s *Sequencer) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if !(v >= lo) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
