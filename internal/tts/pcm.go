package tts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/BoltzmannEntropy/Mayari/internal/audiomerge"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const pcmScale = 32768.0

var (
	// ErrPCMAlignment is returned when a PCM payload does not hold whole frames.
	ErrPCMAlignment = errors.New("pcm payload not aligned")
	// ErrInvalidWAV is returned when a payload is not a readable WAV file.
	ErrInvalidWAV = errors.New("invalid wav data")
)

// PCM16ToBuffer converts 16-bit little-endian PCM to float samples in
// [-1, 1). Single-channel audio is returned in the flat shape.
func PCM16ToBuffer(pcm []byte, channels int) (audiomerge.Buffer, error) {
	if channels <= 0 {
		return audiomerge.Buffer{}, fmt.Errorf("invalid channel count %d", channels)
	}
	if len(pcm)%(2*channels) != 0 {
		return audiomerge.Buffer{}, ErrPCMAlignment
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / pcmScale
	}
	return shaped(samples, channels), nil
}

// BufferToPCM16 converts float samples to 16-bit little-endian PCM, clipping
// values outside the representable range.
func BufferToPCM16(buf audiomerge.Buffer) []byte {
	out := make([]byte, len(buf.Samples)*2)
	for i, s := range buf.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

// EncodeWAV writes buf as a 16-bit PCM WAV stream.
func EncodeWAV(w io.WriteSeeker, buf audiomerge.Buffer, sampleRate int) error {
	channels := buf.NumChannels()
	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(toInt16(s))
	}
	intBuf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(intBuf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// DecodeWAV reads an integer PCM WAV stream.
func DecodeWAV(r io.ReadSeeker) (Audio, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Audio{}, ErrInvalidWAV
	}
	intBuf, err := dec.FullPCMBuffer()
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	channels := int(dec.NumChans)
	if channels <= 0 {
		return Audio{}, fmt.Errorf("%w: no channels", ErrInvalidWAV)
	}
	depth := int(dec.BitDepth)
	if depth <= 0 {
		depth = 16
	}
	scale := float32(math.Pow(2, float64(depth-1)))

	samples := make([]float32, len(intBuf.Data)-len(intBuf.Data)%channels)
	for i := range samples {
		samples[i] = float32(intBuf.Data[i]) / scale
	}
	return Audio{Buffer: shaped(samples, channels), SampleRate: int(dec.SampleRate)}, nil
}

// WAVDuration returns the playback length of a WAV stream in seconds,
// computed from the size of the PCM data chunk.
func WAVDuration(r io.ReadSeeker) (float64, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return 0, ErrInvalidWAV
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	frameBytes := int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if frameBytes <= 0 || dec.SampleRate == 0 {
		return 0, ErrInvalidWAV
	}
	frames := dec.PCMLen() / frameBytes
	return float64(frames) / float64(dec.SampleRate), nil
}

func shaped(samples []float32, channels int) audiomerge.Buffer {
	if channels == 1 {
		return audiomerge.Mono(samples)
	}
	return audiomerge.Buffer{Samples: samples, Channels: channels}
}

func toInt16(s float32) int16 {
	v := math.Round(float64(s) * pcmScale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
