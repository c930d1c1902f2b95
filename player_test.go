package moogsynth

import (
	"testing"

	"github.com/cbegin/moogsynth-go/internal/eventqueue"
	intseq "github.com/cbegin/moogsynth-go/internal/sequencer"
	"github.com/cbegin/moogsynth-go/internal/synth"
)

func TestPlayerMasterVolumeRuntimeAPI(t *testing.T) {
	pl, err := NewPlayer(48000)
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	if got := pl.MasterVolume(); got != 1 {
		t.Fatalf("default master volume = %v, want 1", got)
	}
	pl.SetMasterVolume(0.35)
	if got := pl.MasterVolume(); got != 0.35 {
		t.Fatalf("master volume = %v, want 0.35", got)
	}
	pl.SetMasterVolume(-2)
	if got := pl.MasterVolume(); got != 0 {
		t.Fatalf("master volume should clamp to 0, got %v", got)
	}
}

func TestNewPlayerRejectsBadConfig(t *testing.T) {
	if _, err := NewPlayer(0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if _, err := NewPlayer(48000, WithFFTSize(1000)); err == nil {
		t.Fatal("expected error for non power-of-two FFT size")
	}
}

func TestPlayerParametersForwardToEngine(t *testing.T) {
	pl, err := NewPlayer(48000, WithParameters(synth.DefaultParams()))
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	pl.SetParameter(synth.Cutoff, 900)
	if got := pl.Engine().Parameter(synth.Cutoff); got != 900 {
		t.Fatalf("engine cutoff = %v, want 900", got)
	}
	if !pl.SetParameterByName("aenv_release", 0.5) {
		t.Fatal("SetParameterByName rejected a known name")
	}
	if got := pl.Parameter(synth.AEnvRelease); got != 0.5 {
		t.Fatalf("release = %v, want 0.5", got)
	}
	if pl.SetParameterByName("volume", 1) {
		t.Fatal("SetParameterByName accepted an unknown name")
	}
	if got := pl.Parameter(synth.ParamID(-1)); got != -1 {
		t.Fatalf("unknown parameter = %v, want -1", got)
	}
}

func TestSourceAppliesVolumeAndTap(t *testing.T) {
	newPlayer := func(tap func([]float32)) *Player {
		pl, err := NewPlayer(48000, WithSampleTap(tap))
		if err != nil {
			t.Fatalf("new player: %v", err)
		}
		pl.QueueEvent(eventqueue.NoteOn, 57, 0)
		return pl
	}
	full := newPlayer(nil)
	var tapped int
	half := newPlayer(func(buf []float32) { tapped += len(buf) })
	half.SetMasterVolume(0.5)

	a := make([]float32, 512)
	b := make([]float32, 512)
	full.source.Process(a)
	half.source.Process(b)
	if tapped != len(b) {
		t.Fatalf("tap saw %d samples, want %d", tapped, len(b))
	}
	energy := 0.0
	for i := range a {
		if b[i] != a[i]*0.5 {
			t.Fatalf("sample %d = %g, want %g", i, b[i], a[i]*0.5)
		}
		energy += float64(a[i] * a[i])
	}
	if energy == 0 {
		t.Fatal("queued note produced silence")
	}
}

func TestStoppedSourceIsSilentAndFinished(t *testing.T) {
	pl, err := NewPlayer(48000)
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	pl.QueueEvent(eventqueue.NoteOn, 57, 0)
	pl.source.stopped.Store(true)
	buf := make([]float32, 64)
	for i := range buf {
		buf[i] = 1
	}
	pl.source.Process(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("sample %d = %g after stop", i, v)
		}
	}
	if !pl.source.Finished() {
		t.Fatal("stopped source not finished")
	}
	if err := pl.Stop(); err != nil {
		t.Fatalf("Stop without Start: %v", err)
	}
	if pl.PlaybackPosition() != 0 {
		t.Fatal("position reported without an audio stream")
	}
}

func TestWatchReceivesSequencerEvents(t *testing.T) {
	opts := intseq.DefaultOptions()
	opts.Pattern = []int{0, 7}
	var hooked int
	opts.OnEvent = func(intseq.Event) { hooked++ }

	pl, err := NewPlayer(48000, WithSequencerOptions(opts))
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	ch := pl.Watch()
	if err := pl.Sequencer().Update(); err != nil {
		t.Fatalf("update: %v", err)
	}
	ev := <-ch
	if ev.Kind != EventNoteScheduled || ev.Step != 0 || ev.Note != 36 {
		t.Fatalf("first event = %+v", ev)
	}
	if ev.Time != intseq.DefaultQueueAhead {
		t.Fatalf("first note at %d, want %d", ev.Time, intseq.DefaultQueueAhead)
	}
	if hooked == 0 {
		t.Fatal("caller's OnEvent hook not invoked")
	}
}
