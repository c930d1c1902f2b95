package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cbegin/moogsynth-go/internal/eventqueue"
	"github.com/cbegin/moogsynth-go/internal/synth"
)

type recordingSink struct {
	mu       sync.Mutex
	now      int64
	capacity int
	events   []eventqueue.Event
	clears   int
}

func (r *recordingSink) QueueEvent(typ eventqueue.Type, note int, timeSmp int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity > 0 && len(r.events) >= r.capacity {
		return false
	}
	r.events = append(r.events, eventqueue.Event{Type: typ, Data: note, Time: timeSmp})
	return true
}

func (r *recordingSink) TimeSamples() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now
}

func (r *recordingSink) ClearQueue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.clears++
}

func (r *recordingSink) advance(n int64) {
	r.mu.Lock()
	r.now += n
	r.mu.Unlock()
}

func testOptions() Options {
	o := DefaultOptions()
	o.Pattern = []int{0, 3, 7}
	o.Transpose = 48
	return o
}

func TestSamplesPerStep(t *testing.T) {
	tests := []struct {
		tempo  float64
		subdiv int
		want   int64
	}{
		{120, 4, 6000},
		{60, 1, 48000},
		{0, 1, 48000 * 60},
		{5000, 32, 45},
	}
	for _, tt := range tests {
		o := testOptions()
		o.Tempo = tt.tempo
		o.Subdivision = tt.subdiv
		s := New(&recordingSink{}, 48000, o)
		if got := s.SamplesPerStep(); got != tt.want {
			t.Errorf("tempo=%g subdiv=%d: %d samples per step, want %d", tt.tempo, tt.subdiv, got, tt.want)
		}
	}
}

func TestUpdateSchedulesOneWindowAhead(t *testing.T) {
	sink := &recordingSink{now: 1000}
	s := New(sink, 48000, testOptions())

	if err := s.Update(); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Time != 1000+DefaultQueueAhead {
		t.Fatalf("events = %+v, want one note at %d", sink.events, 1000+DefaultQueueAhead)
	}

	sink.advance(6000 * 4)
	if err := s.Update(); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	wantNotes := []int{48, 51, 55, 48, 51}
	if len(sink.events) != len(wantNotes) {
		t.Fatalf("scheduled %d events, want %d", len(sink.events), len(wantNotes))
	}
	for i, ev := range sink.events {
		if ev.Type != eventqueue.NoteOn || ev.Data != wantNotes[i] {
			t.Errorf("event %d = %+v, want note-on %d", i, ev, wantNotes[i])
		}
		if want := int64(1000 + DefaultQueueAhead + i*6000); ev.Time != want {
			t.Errorf("event %d at %d, want %d", i, ev.Time, want)
		}
	}
}

func TestQueuedNoteOffFollowsGate(t *testing.T) {
	o := testOptions()
	o.QueueNoteOff = true
	sink := &recordingSink{}
	s := New(sink, 48000, o)
	if err := s.Update(); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(sink.events) != 2 {
		t.Fatalf("events = %+v", sink.events)
	}
	on, off := sink.events[0], sink.events[1]
	if off.Type != eventqueue.NoteOff || off.Time-on.Time != 4500 {
		t.Fatalf("note-off %+v after note-on %+v, want +4500", off, on)
	}
}

func TestTempoChangeClearsAndReschedules(t *testing.T) {
	var kinds []EventKind
	o := testOptions()
	o.OnEvent = func(ev Event) { kinds = append(kinds, ev.Kind) }
	sink := &recordingSink{}
	s := New(sink, 48000, o)
	s.Update()
	sink.advance(20000)
	s.Update()

	s.SetTempo(240)
	if err := s.Update(); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if sink.clears != 1 {
		t.Fatalf("clears = %d, want 1", sink.clears)
	}
	if len(sink.events) != 1 || sink.events[0].Time != 20000+DefaultQueueAhead {
		t.Fatalf("events after tempo change = %+v", sink.events)
	}
	sawTempo := false
	for _, k := range kinds {
		sawTempo = sawTempo || k == EventTempoChanged
	}
	if !sawTempo {
		t.Fatal("no tempo change event reported")
	}

	if err := s.Update(); err != nil || sink.clears != 1 {
		t.Fatalf("second update cleared again: clears=%d err=%v", sink.clears, err)
	}
}

func TestUpdateStopsOnFullQueue(t *testing.T) {
	sink := &recordingSink{capacity: 2}
	s := New(sink, 48000, testOptions())
	if err := s.Update(); err != nil {
		t.Fatalf("first Update() error = %v", err)
	}
	sink.advance(6000 * 10)
	err := s.Update()
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Update() error = %v, want ErrQueueFull", err)
	}
	if len(sink.events) != 2 {
		t.Fatalf("queued %d events, want 2", len(sink.events))
	}
	step := s.Step()

	sink.ClearQueue()
	sink.capacity = 0
	if err := s.Update(); err != nil {
		t.Fatalf("Update() after space freed error = %v", err)
	}
	if sink.events[0].Data != testOptions().Pattern[step]+48 {
		t.Fatalf("rejected step was not retried: %+v", sink.events[0])
	}
}

func TestRejectedNoteOffDoesNotRepeatNoteOn(t *testing.T) {
	o := testOptions()
	o.QueueNoteOff = true
	o.Randomize = 12
	sink := &recordingSink{capacity: 1}
	s := New(sink, 48000, o)
	if err := s.Update(); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Update() error = %v, want ErrQueueFull", err)
	}
	if s.Step() != 1 {
		t.Fatalf("step = %d after its note-on was queued, want 1", s.Step())
	}

	sink.capacity = 3
	sink.advance(6000)
	if err := s.Update(); err != nil {
		t.Fatalf("second Update() error = %v", err)
	}
	onTimes := map[int64]int{}
	for _, ev := range sink.events {
		if ev.Type == eventqueue.NoteOn {
			onTimes[ev.Time]++
		}
	}
	for at, n := range onTimes {
		if n > 1 {
			t.Fatalf("%d note-ons queued at t=%d: %+v", n, at, sink.events)
		}
	}
	if len(sink.events) != 3 || sink.events[1].Time != 4096+6000 {
		t.Fatalf("events = %+v, want the next step after the first note", sink.events)
	}
}

func TestRandomizeStaysInRange(t *testing.T) {
	o := testOptions()
	o.Pattern = []int{0}
	o.Randomize = 5
	sink := &recordingSink{}
	s := New(sink, 48000, o)
	for i := 0; i < 200; i++ {
		s.Update()
		sink.advance(6000)
	}
	seen := map[int]bool{}
	for _, ev := range sink.events {
		if ev.Data < 43 || ev.Data >= 53 {
			t.Fatalf("note %d outside 48±5", ev.Data)
		}
		seen[ev.Data] = true
	}
	if len(seen) < 2 {
		t.Fatal("randomization produced a single pitch")
	}
}

func TestNotesAreClampedToMIDIRange(t *testing.T) {
	o := testOptions()
	o.Pattern = []int{100}
	o.Transpose = 120
	sink := &recordingSink{}
	New(sink, 48000, o).Update()
	if sink.events[0].Data != 127 {
		t.Fatalf("note = %d, want 127", sink.events[0].Data)
	}
}

func TestSetPatternShorterWraps(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink, 48000, testOptions())
	s.Update()
	sink.advance(6000)
	s.Update()
	s.SetPattern([]int{5})
	sink.advance(6000)
	s.Update()
	last := sink.events[len(sink.events)-1]
	if last.Data != 53 {
		t.Fatalf("note after pattern change = %d, want 53", last.Data)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink, 48000, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Millisecond) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if len(sink.events) == 0 {
		t.Fatal("Run scheduled nothing")
	}
}

func TestDrivesSynthEngine(t *testing.T) {
	e := synth.New(48000)
	s := New(e, 48000, testOptions())
	buf := make([]float32, 512*2)

	var energy float64
	for i := 0; i < 48000/512; i++ {
		if err := s.Update(); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		e.Render(buf, 512)
		for _, v := range buf {
			if v < 0 {
				energy -= float64(v)
			} else {
				energy += float64(v)
			}
		}
	}
	if energy == 0 {
		t.Fatalf("expected non-zero audio energy")
	}
}

func BenchmarkUpdate(b *testing.B) {
	sink := &recordingSink{}
	s := New(sink, 48000, testOptions())
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s.Update()
		sink.advance(512)
		if len(sink.events) > 1024 {
			sink.events = sink.events[:0]
		}
	}
}
