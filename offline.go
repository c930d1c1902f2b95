package moogsynth

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	intseq "github.com/cbegin/moogsynth-go/internal/sequencer"
	"github.com/cbegin/moogsynth-go/internal/synth"
)

// offlineBlockFrames matches the realtime stream so parameter and sequencer
// updates land on the same block grid.
const offlineBlockFrames = 512

// RenderPattern plays opts through a fresh engine for the given duration and
// returns interleaved stereo samples. The sequencer is updated before each
// block, as the realtime player would between device callbacks.
func RenderPattern(opts intseq.Options, sampleRate int, seconds float64, engineOpts ...synth.Option) []float32 {
	engine := synth.New(sampleRate, engineOpts...)
	seq := intseq.New(engine, sampleRate, opts)
	frames := int(float64(sampleRate) * seconds)
	if frames < 0 {
		frames = 0
	}
	out := make([]float32, frames*synth.Channels)
	for pos := 0; pos < frames; pos += offlineBlockFrames {
		n := min(offlineBlockFrames, frames-pos)
		// A full queue resolves once this block drains it.
		_ = seq.Update()
		engine.Render(out[pos*synth.Channels:], n)
	}
	return out
}

const (
	wavFormatIEEEFloat = 3
	wavHeaderSize      = 44
	wavBytesPerSample  = 4
)

// WriteWAV writes interleaved samples as a 32-bit IEEE float WAV stream.
// A trailing partial frame is dropped.
func WriteWAV(w io.Writer, samples []float32, sampleRate, channels int) error {
	if channels <= 0 || sampleRate <= 0 {
		return fmt.Errorf("wav: invalid format %d Hz x %d channels", sampleRate, channels)
	}
	frames := len(samples) / channels
	samples = samples[:frames*channels]
	frameBytes := channels * wavBytesPerSample
	dataSize := frames * frameBytes

	var hdr [wavHeaderSize]byte
	le := binary.LittleEndian
	copy(hdr[0:], "RIFF")
	le.PutUint32(hdr[4:], uint32(wavHeaderSize-8+dataSize))
	copy(hdr[8:], "WAVEfmt ")
	le.PutUint32(hdr[16:], 16)
	le.PutUint16(hdr[20:], wavFormatIEEEFloat)
	le.PutUint16(hdr[22:], uint16(channels))
	le.PutUint32(hdr[24:], uint32(sampleRate))
	le.PutUint32(hdr[28:], uint32(sampleRate*frameBytes))
	le.PutUint16(hdr[32:], uint16(frameBytes))
	le.PutUint16(hdr[34:], 8*wavBytesPerSample)
	copy(hdr[36:], "data")
	le.PutUint32(hdr[40:], uint32(dataSize))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wav: header: %w", err)
	}

	// Data goes out a block at a time so long renders need little scratch.
	buf := make([]byte, frameBytes*offlineBlockFrames)
	for len(samples) > 0 {
		n := min(len(samples), channels*offlineBlockFrames)
		for i, v := range samples[:n] {
			le.PutUint32(buf[i*wavBytesPerSample:], math.Float32bits(v))
		}
		if _, err := w.Write(buf[:n*wavBytesPerSample]); err != nil {
			return fmt.Errorf("wav: data: %w", err)
		}
		samples = samples[n:]
	}
	return nil
}

// EncodeWAVFloat32LE returns the WAV bytes for interleaved samples.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	var b bytes.Buffer
	b.Grow(wavHeaderSize + len(samples)*wavBytesPerSample)
	if err := WriteWAV(&b, samples, sampleRate, channels); err != nil {
		return nil
	}
	return b.Bytes()
}
