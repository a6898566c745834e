package tts

import (
	"context"
	"math"
	"time"
	"unicode/utf8"
)

// mockMSPerChar is the length of mock audio per character of text.
const mockMSPerChar = 5

type mockSynth struct {
	sampleRate int
	channels   int
	delay      time.Duration
}

// NewMockSynth returns a synthesizer producing a quiet tone whose length is
// proportional to the text.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, delay: 10 * time.Millisecond}
}

func (m *mockSynth) Name() string { return "mock" }

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (Audio, error) {
	select {
	case <-ctx.Done():
		return Audio{}, ctx.Err()
	case <-time.After(m.delay):
	}

	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	frames := int(float64(utf8.RuneCountInString(req.Text)*mockMSPerChar*m.sampleRate) / 1000 / speed)
	channels := max(m.channels, 1)
	samples := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		v := float32(0.1 * math.Sin(2*math.Pi*440*float64(i)/float64(m.sampleRate)))
		for c := 0; c < channels; c++ {
			samples[i*channels+c] = v
		}
	}

	buf := shaped(samples, channels)
	buf.SampleRate = m.sampleRate
	return Audio{Buffer: buf, SampleRate: m.sampleRate}, nil
}
