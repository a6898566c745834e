package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BoltzmannEntropy/Mayari/internal/audiomerge"
	"github.com/BoltzmannEntropy/Mayari/internal/config"
)

func TestMockSynthLengthFollowsText(t *testing.T) {
	synth := NewMockSynth(1000, 1)
	audio, err := synth.Synthesize(context.Background(), Request{Text: "abcd", Voice: "bf_emma", Speed: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audio.SampleRate != 1000 || audio.Buffer.SampleRate != 1000 {
		t.Fatalf("expected sample rate 1000, got %d/%d", audio.SampleRate, audio.Buffer.SampleRate)
	}
	if got := audio.Buffer.Len(); got != 4*mockMSPerChar {
		t.Fatalf("expected %d frames, got %d", 4*mockMSPerChar, got)
	}
	if !audio.Buffer.Flat() {
		t.Fatalf("expected flat mono output")
	}

	fast, err := synth.Synthesize(context.Background(), Request{Text: "abcd", Speed: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fast.Buffer.Len() != audio.Buffer.Len()/2 {
		t.Fatalf("speed 2 should halve the output, got %d frames", fast.Buffer.Len())
	}
}

func TestMockSynthHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockSynth(24000, 1).Synthesize(ctx, Request{Text: "hello"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	pcm := []byte{0x00, 0x40, 0x00, 0xc0}
	buf, err := PCM16ToBuffer(pcm, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf.Samples) != 2 || buf.Samples[0] != 0.5 || buf.Samples[1] != -0.5 {
		t.Fatalf("unexpected samples %v", buf.Samples)
	}
	if got := BufferToPCM16(buf); !bytes.Equal(got, pcm) {
		t.Fatalf("round trip mismatch: %v", got)
	}
	if _, err := PCM16ToBuffer([]byte{0, 0, 0}, 1); !errors.Is(err, ErrPCMAlignment) {
		t.Fatalf("expected ErrPCMAlignment, got %v", err)
	}
	if _, err := PCM16ToBuffer(pcm, 0); err == nil {
		t.Fatal("expected error for zero channels")
	}
}

func TestBufferToPCM16Clips(t *testing.T) {
	out := BufferToPCM16(audiomerge.Mono([]float32{2, -2}))
	if !bytes.Equal(out, []byte{0xff, 0x7f, 0x00, 0x80}) {
		t.Fatalf("expected clipped samples, got %v", out)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	buf := audiomerge.Buffer{Samples: []float32{0.25, -0.25, 0.5, -0.5}, Channels: 2}
	if err := EncodeWAV(f, buf, 8000); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	audio, err := DecodeWAV(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if audio.SampleRate != 8000 || audio.Buffer.NumChannels() != 2 || audio.Buffer.Len() != 2 {
		t.Fatalf("unexpected decoded audio rate=%d ch=%d frames=%d", audio.SampleRate, audio.Buffer.NumChannels(), audio.Buffer.Len())
	}
	for i, want := range buf.Samples {
		if math.Abs(float64(audio.Buffer.Samples[i]-want)) > 1e-4 {
			t.Fatalf("sample %d = %v, want %v", i, audio.Buffer.Samples[i], want)
		}
	}
}

func TestWAVDurationMatchesFrameCount(t *testing.T) {
	tests := []struct {
		name string
		buf  audiomerge.Buffer
		rate int
		want float64
	}{
		{"mono", audiomerge.Mono(make([]float32, 2000)), 1000, 2.0},
		{"stereo", audiomerge.Buffer{Samples: make([]float32, 2*24000*3/2), Channels: 2}, 24000, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.name+".wav")
			f, err := os.Create(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := EncodeWAV(f, tt.buf, tt.rate); err != nil {
				t.Fatalf("encode: %v", err)
			}
			if err := f.Close(); err != nil {
				t.Fatal(err)
			}
			r, err := os.Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			got, err := WAVDuration(r)
			if err != nil {
				t.Fatalf("duration: %v", err)
			}
			if got != tt.want {
				t.Fatalf("WAVDuration = %v, want %v", got, tt.want)
			}
		})
	}
	if _, err := WAVDuration(bytes.NewReader([]byte("RIFF  not really"))); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("expected ErrInvalidWAV, got %v", err)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("not a wav file at all"))); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("expected ErrInvalidWAV, got %v", err)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synth.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecSynth(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
printf '{"pcm_base64":"AEAAwA==","sample_rate":16000}\n'
printf '{"pcm_base64":"AEA=","final":true}\n'`)
	synth, err := NewExecSynth("sh "+script, 24000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	audio, err := synth.Synthesize(ctx, Request{Text: "hello", Voice: "bf_emma", Speed: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audio.SampleRate != 16000 {
		t.Fatalf("expected reported sample rate 16000, got %d", audio.SampleRate)
	}
	want := []float32{0.5, -0.5, 0.5}
	if len(audio.Buffer.Samples) != len(want) {
		t.Fatalf("got %v, want %v", audio.Buffer.Samples, want)
	}
	for i := range want {
		if audio.Buffer.Samples[i] != want[i] {
			t.Fatalf("got %v, want %v", audio.Buffer.Samples, want)
		}
	}
}

func TestExecSynthRunsCallsConcurrently(t *testing.T) {
	const calls = 3
	barrier := t.TempDir()
	script := writeScript(t, `cat >/dev/null
touch "`+barrier+`/$$"
i=0
while [ "$(ls "`+barrier+`" | wc -l)" -lt `+strconv.Itoa(calls)+` ]; do
  i=$((i+1))
  if [ "$i" -gt 100 ]; then
    printf '{"error":"peers never started"}\n'
    exit 0
  fi
  sleep 0.05
done
printf '{"pcm_base64":"AEA=","final":true}\n'`)
	synth, err := NewExecSynth("sh "+script, 24000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			_, err := synth.Synthesize(ctx, Request{Text: "hello"})
			errs <- err
		}()
	}
	for i := 0; i < calls; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent synthesis failed: %v", err)
		}
	}
}

func TestExecSynthReportsErrors(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
printf '{"error":"voice not installed"}\n'`)
	synth, err := NewExecSynth("sh "+script, 24000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = synth.Synthesize(context.Background(), Request{Text: "hello"})
	if err == nil || !strings.Contains(err.Error(), "voice not installed") {
		t.Fatalf("expected reported error, got %v", err)
	}

	failing := writeScript(t, `cat >/dev/null
echo boom >&2
exit 3`)
	synth, err = NewExecSynth("sh "+failing, 24000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := synth.Synthesize(context.Background(), Request{Text: "hello"}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected command failure with stderr, got %v", err)
	}
}

func TestNewExecSynthRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSynth("   ", 24000, 1); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestHTTPSynth(t *testing.T) {
	var wav bytes.Buffer
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := EncodeWAV(f, audiomerge.Mono([]float32{0.5, 0.5, 0.5, 0.5}), 24000); err != nil {
		t.Fatal(err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	wav.Write(data)

	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav.Bytes())
	}))
	defer srv.Close()

	synth := NewHTTPSynth(srv.URL, srv.Client())
	audio, err := synth.Synthesize(context.Background(), Request{Text: "Hello.", Voice: "bm_george", Speed: 1.2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Input != "Hello." || got.Voice != "bm_george" || got.Speed != 1.2 || got.ResponseFormat != "wav" {
		t.Fatalf("unexpected request %+v", got)
	}
	if audio.SampleRate != 24000 || audio.Buffer.SampleRate != 24000 || audio.Buffer.Len() != 4 {
		t.Fatalf("unexpected audio rate=%d frames=%d", audio.SampleRate, audio.Buffer.Len())
	}
}

func TestHTTPSynthStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSynth(srv.URL, nil).Synthesize(context.Background(), Request{Text: "Hello."})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		cfg  config.TTSConfig
		name string
	}{
		{config.TTSConfig{Mode: "mock", SampleRate: 24000, Channels: 1}, "mock"},
		{config.TTSConfig{Mode: "exec", Command: "python3 worker.py"}, "exec"},
		{config.TTSConfig{Mode: "http", Endpoint: "http://localhost:8880/v1/audio/speech"}, "http"},
	}
	for _, tt := range tests {
		synth, err := FromConfig(tt.cfg)
		if err != nil {
			t.Fatalf("FromConfig(%s): %v", tt.cfg.Mode, err)
		}
		if synth.Name() != tt.name {
			t.Fatalf("expected %s synthesizer, got %s", tt.name, synth.Name())
		}
	}
	if _, err := FromConfig(config.TTSConfig{Mode: "cloud"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
