// Package audio streams a rendering sample source to the platform audio
// device through ebiten's audio context.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// DefaultBlockFrames caps how many frames a source renders per call, so
// per-block parameter updates keep a steady rate however much the device
// asks for at once.
const DefaultBlockFrames = 1024

// SampleSource fills dst with interleaved stereo float32 samples.
type SampleSource interface {
	Process(dst []float32)
}

// FinishingSource is a SampleSource that can signal when playback has ended.
// When Finished returns true, the stream will return io.EOF on the next Read.
type FinishingSource interface {
	SampleSource
	Finished() bool
}

// StreamReader adapts a SampleSource to the little-endian float32 byte
// stream expected by NewPlayerF32.
type StreamReader struct {
	mu          sync.Mutex
	source      SampleSource
	blockFrames int
	buf         []float32
}

func NewStreamReader(source SampleSource, blockFrames int) *StreamReader {
	if blockFrames <= 0 {
		blockFrames = DefaultBlockFrames
	}
	return &StreamReader{
		source:      source,
		blockFrames: blockFrames,
		buf:         make([]float32, blockFrames*2),
	}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	out := p
	for left := frames; left > 0; {
		n := min(left, r.blockFrames)
		block := r.buf[:n*2]
		r.source.Process(block)
		for i, v := range block {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		out = out[n*8:]
		left -= n
	}
	n := frames * 8
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		return n, io.EOF
	}
	return n, nil
}

func (r *StreamReader) Close() error { return nil }

// Player plays one stream on the shared audio context.
type Player struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// sharedAudioContext returns the process-wide context. Ebiten allows only
// one, so every player must use the same sample rate.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// NewPlayer opens a player pulling from source in blocks of at most
// blockFrames. bufferSize sets the device buffer; zero keeps ebiten's
// default.
func NewPlayer(sampleRate int, source SampleSource, blockFrames int, bufferSize time.Duration) (*Player, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source, blockFrames)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, fmt.Errorf("audio: open player: %w", err)
	}
	if bufferSize > 0 {
		pl.SetBufferSize(bufferSize)
	}
	return &Player{
		player: pl,
		reader: reader,
	}, nil
}

func (p *Player) Play()  { p.player.Play() }
func (p *Player) Pause() { p.player.Pause() }
func (p *Player) IsPlaying() bool {
	return p.player.IsPlaying()
}

// Position returns the current playback position (what the listener actually hears).
func (p *Player) Position() time.Duration {
	return p.player.Position()
}

func (p *Player) Stop() error {
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		return err
	}
	return p.reader.Close()
}
