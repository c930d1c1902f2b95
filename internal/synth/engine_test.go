package synth

import (
	"math"
	"testing"

	"github.com/cbegin/moogsynth-go/internal/adsr"
	"github.com/cbegin/moogsynth-go/internal/eventqueue"
	"github.com/cbegin/moogsynth-go/internal/ladder"
)

const testRate = 48000

// sawOnly isolates the saw oscillator with an instant attack and decay so
// the note shape is easy to compare sample by sample.
func sawOnly() Params {
	return Params{
		Cutoff:         2000,
		FilterEnvDecay: 0.5,
		SawAmp:         1,
		AEnvSustain:    0.8,
		AEnvRelease:    0.01,
	}
}

func render(e *Engine, frames int) []float32 {
	buf := make([]float32, frames*2)
	e.Render(buf, frames)
	return buf
}

func TestNoteEventsApplyAtExactSample(t *testing.T) {
	e := New(testRate, WithParams(sawOnly()))
	if !e.QueueEvent(eventqueue.NoteOn, 57, 100) || !e.QueueEvent(eventqueue.NoteOff, 57, 250) {
		t.Fatal("queue rejected events")
	}
	got := render(e, 300)

	ref := New(testRate, WithParams(sawOnly()))
	ref.QueueEvent(eventqueue.NoteOn, 57, 0)
	want := render(ref, 300)

	for i := 0; i < 100; i++ {
		if got[2*i] != 0 || got[2*i+1] != 0 {
			t.Fatalf("frame %d before note-on = (%g, %g), want silence", i, got[2*i], got[2*i+1])
		}
	}
	for i := 100; i < 250; i++ {
		w := want[2*(i-100)]
		if got[2*i] != w || got[2*i+1] != w {
			t.Fatalf("frame %d = (%g, %g), want %g", i, got[2*i], got[2*i+1], w)
		}
	}
	held := want[2*150]
	released := got[2*250]
	if held == 0 {
		t.Fatal("reference note is silent at the comparison frame")
	}
	if !(math.Abs(float64(released)) < math.Abs(float64(held))) || released == 0 {
		t.Fatalf("frame 250 = %g, want release below held level %g", released, held)
	}
	if !e.noteIsOn {
		t.Fatal("note-on flag cleared by note-off")
	}
}

func TestEventsQueuedMidStreamMatchPrequeued(t *testing.T) {
	pre := New(testRate, WithParams(sawOnly()))
	pre.QueueEvent(eventqueue.NoteOn, 57, 100)
	pre.QueueEvent(eventqueue.NoteOff, 57, 250)
	want := render(pre, 300)

	late := New(testRate, WithParams(sawOnly()))
	got := make([]float32, 600)
	late.Render(got[:128], 64)
	late.QueueEvent(eventqueue.NoteOn, 57, 100)
	late.QueueEvent(eventqueue.NoteOff, 57, 250)
	for start := 64; start < 300; start += 64 {
		n := min(64, 300-start)
		late.Render(got[start*2:], n)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestClockAdvancesThroughSilence(t *testing.T) {
	e := New(testRate)
	for b := 0; b < 3; b++ {
		for i, v := range render(e, 128) {
			if v != 0 {
				t.Fatalf("block %d sample %d = %g, want silence", b, i, v)
			}
		}
	}
	if got := e.TimeSamples(); got != 384 {
		t.Fatalf("TimeSamples = %d, want 384", got)
	}

	e.QueueEvent(eventqueue.NoteOn, 60, 1000)
	var history []float32
	for b := 0; b < 8; b++ {
		history = append(history, render(e, 128)...)
	}
	start := 1000 - 384
	for i := 0; i < start; i++ {
		if history[2*i] != 0 {
			t.Fatalf("sound at clock %d before note-on", 384+i)
		}
	}
	nonzero := false
	for _, v := range history[2*start:] {
		if v != 0 {
			nonzero = true
			break
		}
	}
	if !nonzero {
		t.Fatal("note queued past several silent blocks never sounded")
	}
}

func TestQueueEventFailsWhenFull(t *testing.T) {
	e := New(testRate, WithQueueCapacity(4))
	for i := 0; i < 4; i++ {
		if !e.QueueEvent(eventqueue.NoteOn, 60, int64(i)) {
			t.Fatalf("event %d rejected below capacity", i)
		}
	}
	if e.QueueEvent(eventqueue.NoteOn, 60, 4) {
		t.Fatal("fifth event accepted by a queue of four")
	}
	render(e, 8)
	if e.QueueLen() != 0 {
		t.Fatalf("queue length = %d after render", e.QueueLen())
	}
	if !e.QueueEvent(eventqueue.NoteOff, 60, 9) {
		t.Fatal("queue still full after render drained it")
	}
}

func TestClearQueueDropsPendingNotes(t *testing.T) {
	e := New(testRate, WithParams(sawOnly()))
	e.QueueEvent(eventqueue.NoteOn, 60, 10)
	e.ClearQueue()
	for i, v := range render(e, 256) {
		if v != 0 {
			t.Fatalf("sample %d = %g after clear", i, v)
		}
	}
}

func TestNoteOffNowReleasesAtNextSample(t *testing.T) {
	e := New(testRate, WithParams(sawOnly()))
	e.QueueEvent(eventqueue.NoteOn, 57, 0)
	render(e, 100)
	if e.aenv.State() != adsr.Sustain {
		t.Fatalf("state = %v, want sustain", e.aenv.State())
	}
	e.NoteOffNow()
	render(e, 1)
	if e.aenv.State() != adsr.Release {
		t.Fatalf("state = %v, want release", e.aenv.State())
	}
}

func TestNoteOnNowSkipsAheadOfScheduledEvents(t *testing.T) {
	e := New(testRate, WithParams(sawOnly()))
	render(e, 512)
	// A sequencer keeps the queue filled a window ahead of the clock.
	for i := int64(0); i < 4; i++ {
		e.QueueEvent(eventqueue.NoteOn, 48, 4096+512+i*1000)
	}
	e.NoteOnNow(100)
	block := render(e, 64)
	sounded := false
	for _, v := range block[:16] {
		if v != 0 {
			sounded = true
			break
		}
	}
	if !sounded {
		t.Fatal("immediate note did not sound at the start of the next block")
	}
	if e.note != 100 {
		t.Fatalf("note = %d, want 100", e.note)
	}
	if e.QueueLen() != 4 {
		t.Fatalf("queue length = %d, want scheduled steps untouched", e.QueueLen())
	}
	if e.aenv.State() != adsr.Sustain {
		t.Fatalf("state = %v, want sustain after an instant attack", e.aenv.State())
	}
}

func TestParameters(t *testing.T) {
	e := New(testRate)
	for _, id := range ParamIDs() {
		v := float64(id) + 0.25
		e.SetParameter(id, v)
		if got := e.Parameter(id); got != v {
			t.Errorf("%v = %g, want %g", id, got, v)
		}
	}

	before := e.Params()
	for _, id := range []ParamID{-1, numParams, 99} {
		e.SetParameter(id, 123)
		if got := e.Parameter(id); got != -1 {
			t.Errorf("Parameter(%d) = %g, want -1", id, got)
		}
	}
	if e.Params() != before {
		t.Fatal("unknown id changed a known parameter")
	}
}

func TestParseParamID(t *testing.T) {
	for _, id := range ParamIDs() {
		got, ok := ParseParamID(id.String())
		if !ok || got != id {
			t.Fatalf("ParseParamID(%q) = %v, %v", id.String(), got, ok)
		}
	}
	if id, ok := ParseParamID("AENV_Attack"); !ok || id != AEnvAttack {
		t.Fatalf("underscore form = %v, %v", id, ok)
	}
	if _, ok := ParseParamID("volume"); ok {
		t.Fatal("unknown name parsed")
	}
}

func TestParamsWith(t *testing.T) {
	p := DefaultParams().With(SubAmp, 0.9)
	if p.SubAmp != 0.9 || p.Cutoff != DefaultParams().Cutoff {
		t.Fatalf("With changed the wrong field: %+v", p)
	}
	if q := p.With(numParams, 5); q != p {
		t.Fatal("unknown id changed the set")
	}
}

func TestFrequencyTable(t *testing.T) {
	e := New(testRate)
	tests := []struct {
		note int
		want float64
	}{
		{57, 220},
		{60, 261.6255653005986},
		{69, 440},
		{69 + 128, 440},
	}
	for _, tt := range tests {
		if got := e.NoteFrequency(tt.note); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("note %d = %g Hz, want %g", tt.note, got, tt.want)
		}
	}
}

func TestFilteredOutputStaysFinite(t *testing.T) {
	for _, v := range []ladder.Variant{ladder.Direct, ladder.Huovilainen} {
		t.Run(v.String(), func(t *testing.T) {
			p := DefaultParams()
			p.Resonance = 1
			e := New(testRate, WithFilterVariant(v), WithOversampling(2), WithParams(p))
			if e.FilterVariant() != v {
				t.Fatalf("variant = %v", e.FilterVariant())
			}
			for n := int64(0); n < 8; n++ {
				e.QueueEvent(eventqueue.NoteOn, 48+int(n)*3, n*6000)
				e.QueueEvent(eventqueue.NoteOff, 48+int(n)*3, n*6000+4000)
			}
			buf := make([]float32, 1024)
			for b := 0; b < 100; b++ {
				e.Render(buf, 512)
				for i, s := range buf {
					if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) || math.Abs(float64(s)) > 8 {
						t.Fatalf("block %d sample %d = %g", b, i, s)
					}
				}
			}
		})
	}
}

func TestDebugBufferHoldsLastBlock(t *testing.T) {
	e := New(testRate, WithParams(sawOnly()), WithDebugFrames(64))
	e.QueueEvent(eventqueue.NoteOn, 57, 0)
	block := render(e, 32)

	dst := make([]float32, 256)
	n := e.DebugBuffer(dst)
	if n != 64 {
		t.Fatalf("copied %d samples, want 64", n)
	}
	for i := 0; i < n; i++ {
		if dst[i] != block[i] {
			t.Fatalf("debug sample %d = %g, want %g", i, dst[i], block[i])
		}
	}

	// Longer blocks are truncated to the configured size.
	render(e, 100)
	if n := e.DebugBuffer(dst); n != 128 {
		t.Fatalf("copied %d samples, want 128", n)
	}
}

func TestRenderSkipsDebugCopyWhileReaderHoldsLock(t *testing.T) {
	e := New(testRate, WithParams(sawOnly()), WithDebugFrames(16))
	render(e, 16)

	e.debugMu.Lock()
	e.QueueEvent(eventqueue.NoteOn, 57, 0)
	render(e, 16)
	stale := append([]float32(nil), e.debug[:e.debugLen]...)
	e.debugMu.Unlock()

	for i, v := range stale {
		if v != 0 {
			t.Fatalf("debug sample %d changed to %g while locked", i, v)
		}
	}
}

func TestRenderDoesNotAllocate(t *testing.T) {
	e := New(testRate)
	buf := make([]float32, 512)
	var at int64
	allocs := testing.AllocsPerRun(100, func() {
		e.QueueEvent(eventqueue.NoteOn, 60, at+10)
		e.QueueEvent(eventqueue.NoteOff, 60, at+200)
		e.Render(buf, 256)
		at += 256
	})
	if allocs != 0 {
		t.Fatalf("Render allocated %.1f times per block", allocs)
	}
}

func BenchmarkRender(b *testing.B) {
	for _, v := range []ladder.Variant{ladder.Direct, ladder.Huovilainen} {
		b.Run(v.String(), func(b *testing.B) {
			e := New(testRate, WithFilterVariant(v))
			e.QueueEvent(eventqueue.NoteOn, 45, 0)
			buf := make([]float32, 1024)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				e.Render(buf, 512)
			}
		})
	}
}
