package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cbegin/moogsynth-go"
	"github.com/cbegin/moogsynth-go/internal/ladder"
	intseq "github.com/cbegin/moogsynth-go/internal/sequencer"
	"github.com/cbegin/moogsynth-go/internal/synth"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		sampleRate   = flag.Int("sample-rate", 48000, "output sample rate")
		tempo        = flag.Float64("tempo", 120, "sequencer tempo in BPM")
		subdiv       = flag.Int("subdiv", 4, "steps per beat")
		pattern      = flag.String("pattern", "0,12,3,15,7,19,10,22", "comma separated semitone offsets")
		transpose    = flag.Int("transpose", 36, "note added to every step")
		randomize    = flag.Int("randomize", 0, "random pitch offset range in semitones")
		seed         = flag.Int64("seed", 1, "random seed for -randomize")
		noteOff      = flag.Bool("note-off", false, "queue a note-off at the end of every step")
		variantName  = flag.String("variant", "direct", "ladder filter: direct|huovilainen")
		oversampling = flag.Int("oversampling", 1, "ladder oversampling factor (direct only)")
		cutoff       = flag.Float64("cutoff", 2400, "filter cutoff in Hz")
		resonance    = flag.Float64("resonance", 0.4, "filter resonance")
		volume       = flag.Float64("volume", 1.0, "master volume scalar")
		outPath      = flag.String("out", "", "render offline to this WAV file instead of playing")
		seconds      = flag.Float64("seconds", 8, "offline render length")
		report       = flag.Duration("report", 0, "print the spectrum peak at this interval while playing")
	)
	overrides := map[synth.ParamID]float64{}
	flag.Func("set", "parameter override name=value (repeatable)", func(s string) error {
		id, v, err := parseAssignment(s)
		if err != nil {
			return err
		}
		overrides[id] = v
		return nil
	})
	flag.Parse()
	log.SetFlags(log.Lshortfile)

	steps, err := parsePattern(*pattern)
	if err != nil {
		log.Fatal(err)
	}
	variant, err := ladder.ParseVariant(*variantName)
	if err != nil {
		log.Fatal(err)
	}

	params := synth.DefaultParams()
	params.Cutoff = *cutoff
	params.Resonance = *resonance

	seqOpts := intseq.DefaultOptions()
	seqOpts.Tempo = *tempo
	seqOpts.Subdivision = *subdiv
	seqOpts.Pattern = steps
	seqOpts.Transpose = *transpose
	seqOpts.Randomize = *randomize
	seqOpts.Seed = *seed
	seqOpts.QueueNoteOff = *noteOff

	if *outPath != "" {
		engineOpts := []synth.Option{
			synth.WithFilterVariant(variant),
			synth.WithOversampling(*oversampling),
			synth.WithParams(withOverrides(params, overrides)),
		}
		samples := moogsynth.RenderPattern(seqOpts, *sampleRate, *seconds, engineOpts...)
		if *volume != 1 {
			for i := range samples {
				samples[i] *= float32(*volume)
			}
		}
		if err := writeWAVFile(*outPath, samples, *sampleRate); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s (%.1fs)", *outPath, *seconds)
		return
	}

	pl, err := moogsynth.NewPlayer(*sampleRate,
		moogsynth.WithFilterVariant(variant),
		moogsynth.WithOversampling(*oversampling),
		moogsynth.WithParameters(withOverrides(params, overrides)),
		moogsynth.WithSequencerOptions(seqOpts),
	)
	if err != nil {
		log.Fatal(err)
	}
	pl.SetMasterVolume(*volume)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pl.Play(ctx)
	})
	g.Go(func() error {
		err := readCommands(ctx, os.Stdin, pl)
		if errors.Is(err, errQuit) {
			stop()
			return nil
		}
		return err
	})
	if *report > 0 {
		g.Go(func() error {
			return reportPeaks(ctx, pl, *report)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("error: %v", err)
	}
	log.Println("stopped")
}

func writeWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := moogsynth.WriteWAV(w, samples, sampleRate, synth.Channels); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func withOverrides(p synth.Params, overrides map[synth.ParamID]float64) synth.Params {
	for id, v := range overrides {
		p = p.With(id, v)
	}
	return p
}

func parseAssignment(s string) (synth.ParamID, float64, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok {
		return 0, 0, fmt.Errorf("expected name=value, got %q", s)
	}
	id, ok := synth.ParseParamID(strings.TrimSpace(name))
	if !ok {
		return 0, 0, fmt.Errorf("unknown parameter %q", name)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return id, v, nil
}

func parsePattern(s string) ([]int, error) {
	var steps []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid -pattern step %q", f)
		}
		steps = append(steps, n)
	}
	if len(steps) == 0 {
		return nil, errors.New("empty -pattern")
	}
	return steps, nil
}

func reportPeaks(ctx context.Context, pl *moogsynth.Player, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fmt.Printf("t=%d peak=%.1fHz step=%d\n", pl.Engine().TimeSamples(), pl.Analyzer().PeakFrequency(), pl.Sequencer().Step())
		}
	}
}
