package tts

import (
	"context"
	"time"

	"github.com/BoltzmannEntropy/Mayari/internal/audiomerge"
)

// Request contains parameters to synthesize one piece of text.
type Request struct {
	Text  string
	Voice string
	Speed float64
}

// Audio is the output of a single synthesis call.
type Audio struct {
	Buffer     audiomerge.Buffer
	SampleRate int
}

// Empty reports whether the synthesizer produced no frames.
func (a Audio) Empty() bool { return a.Buffer.Len() == 0 }

// Duration returns the playback length of the audio.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(a.Buffer.Len()) * time.Second / time.Duration(a.SampleRate)
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Audio, error)
	Name() string
}
