package tts

import (
	"fmt"
	"net/http"
	"time"

	"github.com/BoltzmannEntropy/Mayari/internal/config"
)

// FromConfig builds the synthesizer selected by cfg.Mode.
func FromConfig(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "http":
		client := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
		return NewHTTPSynth(cfg.Endpoint, client), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
