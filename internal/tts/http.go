package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxHTTPAudio bounds the size of one synthesized response body.
const maxHTTPAudio = 256 << 20

type httpSynth struct {
	endpoint string
	client   *http.Client
}

// speechRequest follows the OpenAI-style speech endpoint exposed by Kokoro
// servers.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

// NewHTTPSynth posts each request to endpoint and expects a WAV response.
// A nil client falls back to http.DefaultClient.
func NewHTTPSynth(endpoint string, client *http.Client) Synthesizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpSynth{endpoint: endpoint, client: client}
}

func (h *httpSynth) Name() string { return "http" }

func (h *httpSynth) Synthesize(ctx context.Context, req Request) (Audio, error) {
	body, err := json.Marshal(speechRequest{
		Model:          "kokoro",
		Input:          req.Text,
		Voice:          req.Voice,
		Speed:          req.Speed,
		ResponseFormat: "wav",
	})
	if err != nil {
		return Audio{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Audio{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Audio{}, fmt.Errorf("tts endpoint returned status %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPAudio))
	if err != nil {
		return Audio{}, fmt.Errorf("read tts response: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, nil
	}
	audio, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return Audio{}, err
	}
	audio.Buffer.SampleRate = audio.SampleRate
	return audio, nil
}
