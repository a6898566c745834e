package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/BoltzmannEntropy/Mayari/internal/bus"
	"github.com/BoltzmannEntropy/Mayari/internal/config"
	"github.com/BoltzmannEntropy/Mayari/internal/library"
	"github.com/BoltzmannEntropy/Mayari/internal/natsserver"
	"github.com/BoltzmannEntropy/Mayari/internal/protocol"
	"github.com/BoltzmannEntropy/Mayari/internal/tts"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	logger := newTestPipeline(&fakeSynth{}, defaultChunking()).logger
	cfg := config.BusConfig{Embedded: true, Port: -1, ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), cfg, logger, srv.ClientURL())
	if err != nil {
		t.Fatalf("connect nats: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func openTestLibrary(t *testing.T) *library.Library {
	t.Helper()
	tmp := t.TempDir()
	logger := newTestPipeline(&fakeSynth{}, defaultChunking()).logger
	lib, err := library.Open(context.Background(), config.LibraryConfig{
		OutputDir: filepath.Join(tmp, "outputs"),
		IndexPath: filepath.Join(tmp, "audio.db"),
	}, logger)
	if err != nil {
		t.Fatalf("open library: %v", err)
	}
	t.Cleanup(func() { _ = lib.Close() })
	return lib
}

func TestRender(t *testing.T) {
	p := newTestPipeline(tts.NewMockSynth(24000, 1), defaultChunking())
	lib := openTestLibrary(t)

	res, entry, err := Render(context.Background(), p, lib, Request{Text: "Hello world. This is Mayari.", MaxChars: 15})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.Chunks != 2 || !strings.HasPrefix(entry.Filename, "kokoro-bf_emma-") {
		t.Fatalf("unexpected render result %+v %+v", res, entry)
	}
	if AudioURL(entry.Filename) != "/audio/"+entry.Filename {
		t.Fatalf("unexpected audio url %q", AudioURL(entry.Filename))
	}
}

func TestServiceRequestReply(t *testing.T) {
	client := startBus(t)
	p := newTestPipeline(tts.NewMockSynth(24000, 1), defaultChunking())
	lib := openTestLibrary(t)

	done, err := client.Conn().SubscribeSync(protocol.SubjectTTSDone)
	if err != nil {
		t.Fatalf("subscribe done: %v", err)
	}

	svc := NewService(context.Background(), client, p, lib, p.logger)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var status protocol.TTSStatus
	req := protocol.TTSRequest{RequestID: "req-1", Text: "Hello from the bus.", Voice: "bm_george"}
	if err := client.RequestJSON(ctx, protocol.SubjectTTSRequest, req, &status); err != nil {
		t.Fatalf("request: %v", err)
	}
	if !status.Completed || status.RequestID != "req-1" || status.Voice != "bm_george" || status.Chunks != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.AudioURL != "/audio/"+status.Filename || status.DurationSeconds <= 0 {
		t.Fatalf("unexpected audio descriptor %+v", status)
	}

	msg, err := done.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("expected tts.done broadcast: %v", err)
	}
	var broadcast protocol.TTSStatus
	if err := json.Unmarshal(msg.Data, &broadcast); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if broadcast.Filename != status.Filename {
		t.Fatalf("broadcast %+v does not match reply %+v", broadcast, status)
	}

	entries, err := lib.List(context.Background())
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one stored recording, got %d (%v)", len(entries), err)
	}
}

func TestServiceReportsFailures(t *testing.T) {
	client := startBus(t)
	p := newTestPipeline(tts.NewMockSynth(24000, 1), defaultChunking())
	svc := NewService(context.Background(), client, p, openTestLibrary(t), p.logger)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var status protocol.TTSStatus
	if err := client.RequestJSON(ctx, protocol.SubjectTTSRequest, protocol.TTSRequest{Text: "   "}, &status); err != nil {
		t.Fatalf("request: %v", err)
	}
	if status.Completed || status.Error == "" || status.RequestID == "" {
		t.Fatalf("expected failed status with generated id, got %+v", status)
	}
}

func TestServiceCloseCancelsInFlightRenders(t *testing.T) {
	client := startBus(t)
	synth := &fakeSynth{delays: map[string]time.Duration{"Slow request.": time.Minute}}
	p := newTestPipeline(synth, defaultChunking())
	lib := openTestLibrary(t)

	done, err := client.Conn().SubscribeSync(protocol.SubjectTTSDone)
	if err != nil {
		t.Fatalf("subscribe done: %v", err)
	}
	svc := NewService(context.Background(), client, p, lib, p.logger)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	if err := client.PublishJSON(protocol.SubjectTTSRequest, protocol.TTSRequest{RequestID: "slow", Text: "Slow request."}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		synth.mu.Lock()
		started := len(synth.calls) > 0
		synth.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("render never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	closed := make(chan struct{})
	go func() {
		svc.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close waited for the render instead of cancelling it")
	}

	msg, err := done.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("expected tts.done for cancelled request: %v", err)
	}
	var status protocol.TTSStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Completed || status.RequestID != "slow" || !strings.Contains(status.Error, "context canceled") {
		t.Fatalf("expected cancelled status, got %+v", status)
	}

	data, _ := json.Marshal(protocol.TTSRequest{Text: "Too late."})
	svc.handleRequest(&nats.Msg{Subject: protocol.SubjectTTSRequest, Data: data})
	svc.wg.Wait()
	entries, err := lib.List(context.Background())
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected no recordings after close, got %d (%v)", len(entries), err)
	}
}
