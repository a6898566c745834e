// Package audiomerge joins independently synthesized audio segments into a
// single buffer, blending neighbouring segments with a linear crossfade.
package audiomerge

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSampleRate is returned when the merge sample rate is not positive.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidCrossfade is returned for a negative crossfade duration.
	ErrInvalidCrossfade = errors.New("crossfade must be non-negative")
)

// SampleRateError reports a segment whose sample rate differs from the rate
// of the merge.
type SampleRateError struct {
	Index int
	Want  int
	Got   int
}

func (e *SampleRateError) Error() string {
	return fmt.Sprintf("sample rate mismatch at segment %d: expected %d Hz, got %d Hz", e.Index, e.Want, e.Got)
}

// Buffer holds float samples. Samples are interleaved frame by frame.
// Channels == 0 marks flat single-channel audio; Channels >= 1 marks framed
// audio with that many samples per frame.
type Buffer struct {
	Samples  []float32
	Channels int
	// SampleRate is optional. When set it must match the merge rate.
	SampleRate int
}

// Mono returns a flat single-channel buffer.
func Mono(samples []float32) Buffer {
	return Buffer{Samples: samples}
}

// Framed returns a buffer built from frames of one sample per channel.
// All frames must have the same width.
func Framed(frames [][]float32) Buffer {
	if len(frames) == 0 {
		return Buffer{Channels: 1}
	}
	ch := len(frames[0])
	samples := make([]float32, 0, len(frames)*ch)
	for _, f := range frames {
		samples = append(samples, f...)
	}
	return Buffer{Samples: samples, Channels: ch}
}

// Flat reports whether the buffer uses the flat single-channel shape.
func (b Buffer) Flat() bool { return b.Channels == 0 }

// NumChannels returns the number of samples per frame.
func (b Buffer) NumChannels() int {
	if b.Channels <= 0 {
		return 1
	}
	return b.Channels
}

// Len returns the number of frames.
func (b Buffer) Len() int {
	return len(b.Samples) / b.NumChannels()
}

// Frame returns a copy of frame i.
func (b Buffer) Frame(i int) []float32 {
	ch := b.NumChannels()
	out := make([]float32, ch)
	copy(out, b.Samples[i*ch:(i+1)*ch])
	return out
}

// firstChannel returns the framed single-channel view of b.
func (b Buffer) firstChannel() []float32 {
	ch := b.NumChannels()
	if ch == 1 {
		return b.Samples[:b.Len()]
	}
	n := b.Len()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = b.Samples[i*ch]
	}
	return out
}

// OverlapSamples converts a crossfade duration to a whole number of frames,
// rounding down.
func OverlapSamples(sampleRate, crossfadeMS int) int {
	n := sampleRate * crossfadeMS / 1000
	if n < 0 {
		return 0
	}
	return n
}

// mergeState is the accumulator owned by one Merge call.
type mergeState struct {
	out      []float32
	channels int
	// flat stays true while every contributing buffer was flat.
	flat bool
	// downmixed is set after the first channel-count mismatch. From then on
	// every segment is folded to its first channel.
	downmixed bool
}

func (s *mergeState) frames() int { return len(s.out) / s.channels }

// collapse folds the accumulated output to its first channel.
func (s *mergeState) collapse() {
	if s.channels == 1 {
		return
	}
	n := s.frames()
	mono := make([]float32, n)
	for i := 0; i < n; i++ {
		mono[i] = s.out[i*s.channels]
	}
	s.out = mono
	s.channels = 1
}

// Merge concatenates buffers in order. Each boundary is crossfaded over
// floor(sampleRate*crossfadeMS/1000) frames, limited to the length of the
// shorter neighbour. If two neighbours disagree on channel count the merge
// drops to the first channel for the remainder of the call.
func Merge(buffers []Buffer, sampleRate, crossfadeMS int) (Buffer, error) {
	if sampleRate <= 0 {
		return Buffer{}, ErrInvalidSampleRate
	}
	if crossfadeMS < 0 {
		return Buffer{}, ErrInvalidCrossfade
	}
	if len(buffers) == 0 {
		return Buffer{}, nil
	}
	for i, b := range buffers {
		if b.SampleRate != 0 && b.SampleRate != sampleRate {
			return Buffer{}, &SampleRateError{Index: i, Want: sampleRate, Got: b.SampleRate}
		}
	}

	first := buffers[0]
	state := &mergeState{
		out:      append([]float32(nil), first.Samples[:first.Len()*first.NumChannels()]...),
		channels: first.NumChannels(),
		flat:     first.Flat(),
	}
	crossfade := OverlapSamples(sampleRate, crossfadeMS)

	for _, next := range buffers[1:] {
		state.append(next, crossfade)
	}

	result := Buffer{Samples: state.out, Channels: state.channels, SampleRate: first.SampleRate}
	if state.flat {
		result.Channels = 0
	}
	return result, nil
}

func (s *mergeState) append(next Buffer, crossfade int) {
	samples := next.Samples[:next.Len()*next.NumChannels()]
	channels := next.NumChannels()

	if s.downmixed || channels != s.channels {
		s.collapse()
		samples = next.firstChannel()
		channels = 1
		s.downmixed = true
	}
	s.flat = s.flat && next.Flat()

	nextFrames := len(samples) / channels
	overlap := min(crossfade, s.frames(), nextFrames)
	if overlap == 0 {
		s.out = append(s.out, samples...)
		return
	}

	tail := (s.frames() - overlap) * s.channels
	for i := 0; i < overlap; i++ {
		fadeIn := float32(i) / float32(overlap)
		fadeOut := 1 - fadeIn
		for c := 0; c < s.channels; c++ {
			j := i*s.channels + c
			s.out[tail+j] = s.out[tail+j]*fadeOut + samples[j]*fadeIn
		}
	}
	s.out = append(s.out, samples[overlap*channels:]...)
}
