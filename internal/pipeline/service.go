package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/BoltzmannEntropy/Mayari/internal/bus"
	"github.com/BoltzmannEntropy/Mayari/internal/library"
	"github.com/BoltzmannEntropy/Mayari/internal/protocol"
)

const queueGroup = "mayari-tts"

// Recorder persists generated audio.
type Recorder interface {
	Save(ctx context.Context, rec library.Recording) (library.Entry, error)
}

// Render generates req and stores the merged audio.
func Render(ctx context.Context, p *Pipeline, rec Recorder, req Request) (Result, library.Entry, error) {
	res, err := p.Generate(ctx, req)
	if err != nil {
		return Result{}, library.Entry{}, err
	}
	entry, err := rec.Save(ctx, library.Recording{
		Voice:      res.Voice,
		Audio:      res.Audio,
		SampleRate: res.SampleRate,
		Chunks:     res.Chunks,
	})
	if err != nil {
		return Result{}, library.Entry{}, err
	}
	return res, entry, nil
}

// AudioURL is the path a stored file is served under.
func AudioURL(filename string) string { return "/audio/" + filename }

// Service answers synthesis requests arriving on the bus.
type Service struct {
	bus      *bus.Client
	pipeline *Pipeline
	recorder Recorder
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewService returns a Service bound to busClient. Call Start to subscribe.
func NewService(parent context.Context, busClient *bus.Client, p *Pipeline, rec Recorder, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:      busClient,
		pipeline: p,
		recorder: rec,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "tts-service")),
	}
}

// Start joins the tts.request queue group.
func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectTTSRequest, queueGroup, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// Close stops accepting requests, cancels in-flight renders and waits for
// their handlers to return.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

// track registers one in-flight request. It reports false once Close has
// started.
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) Healthy() bool { return s.sub != nil && s.sub.IsValid() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		s.reply(msg, protocol.TTSStatus{Error: "invalid request: " + err.Error(), Timestamp: time.Now().UTC()})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if !s.track() {
		s.reply(msg, protocol.TTSStatus{RequestID: req.RequestID, Error: "service shutting down", Timestamp: time.Now().UTC()})
		return
	}
	go func() {
		defer s.wg.Done()
		status := s.render(req)
		if err := s.bus.PublishJSON(protocol.SubjectTTSDone, status); err != nil {
			s.logger.Warn("failed to publish tts status", slogError(err))
		}
		s.reply(msg, status)
	}()
}

func (s *Service) render(req protocol.TTSRequest) protocol.TTSStatus {
	status := protocol.TTSStatus{RequestID: req.RequestID}
	res, entry, err := Render(s.ctx, s.pipeline, s.recorder, Request{
		Text:        req.Text,
		Voice:       req.Voice,
		Speed:       req.Speed,
		MaxChars:    req.MaxChars,
		CrossfadeMS: req.CrossfadeMS,
		Chunking:    req.Chunking,
	})
	status.Timestamp = time.Now().UTC()
	if err != nil {
		s.logger.Warn("tts request failed", slog.String("request_id", req.RequestID), slogError(err))
		status.Error = err.Error()
		return status
	}

	status.Completed = true
	status.Filename = entry.Filename
	status.AudioURL = AudioURL(entry.Filename)
	status.Voice = res.Voice
	status.DurationSeconds = entry.DurationSeconds
	status.Chunks = res.Chunks

	event := protocol.LibraryEvent{Action: "created", Filename: entry.Filename, Timestamp: status.Timestamp}
	if err := s.bus.PublishJSON(protocol.SubjectLibraryEvent, event); err != nil {
		s.logger.Warn("failed to publish library event", slogError(err))
	}
	return status
}

func (s *Service) reply(msg *nats.Msg, status protocol.TTSStatus) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("failed to marshal tts reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send tts reply", slogError(err))
	}
}
