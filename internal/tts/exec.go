package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// maxExecLine bounds a single NDJSON line emitted by the synthesis command.
const maxExecLine = 16 << 20

type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Final      bool   `json:"final,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewExecSynth runs an external command per synthesis call. The command reads
// one JSON request on stdin and writes NDJSON lines of base64 16-bit PCM.
func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Name() string { return "exec" }

func (e *execSynth) Synthesize(ctx context.Context, req Request) (Audio, error) {
	data, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Speed:      req.Speed,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return Audio{}, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Audio{}, err
	}
	if err := cmd.Start(); err != nil {
		return Audio{}, fmt.Errorf("start tts command: %w", err)
	}

	sampleRate, channels := e.sampleRate, e.channels
	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxExecLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			abort(cmd)
			return Audio{}, fmt.Errorf("decode tts exec response: %w", err)
		}
		if resp.Error != "" {
			abort(cmd)
			return Audio{}, fmt.Errorf("tts command reported: %s", resp.Error)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			abort(cmd)
			return Audio{}, fmt.Errorf("decode tts pcm: %w", err)
		}
		if resp.SampleRate > 0 {
			sampleRate = resp.SampleRate
		}
		if resp.Channels > 0 {
			channels = resp.Channels
		}
		pcm = append(pcm, chunk...)
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return Audio{}, ctx.Err()
		}
		return Audio{}, fmt.Errorf("tts exec command failed: %w: %s", err, stderr.String())
	}
	if scanErr != nil {
		return Audio{}, scanErr
	}

	buf, err := PCM16ToBuffer(pcm, channels)
	if err != nil {
		return Audio{}, err
	}
	buf.SampleRate = sampleRate
	return Audio{Buffer: buf, SampleRate: sampleRate}, nil
}

func abort(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
}
