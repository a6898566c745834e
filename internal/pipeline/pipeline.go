// Package pipeline turns a synthesis request into one merged audio buffer:
// the text is chunked, each chunk is synthesized, and the results are joined
// in their original order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/BoltzmannEntropy/Mayari/internal/audiomerge"
	"github.com/BoltzmannEntropy/Mayari/internal/config"
	"github.com/BoltzmannEntropy/Mayari/internal/textchunk"
	"github.com/BoltzmannEntropy/Mayari/internal/tts"
)

const (
	instrumentationName = "github.com/BoltzmannEntropy/Mayari/pipeline"
	maxSpeed            = 4.0
)

var (
	// ErrNothingToSynthesize is returned for blank input text.
	ErrNothingToSynthesize = errors.New("text is required")
	// ErrInvalidOptions is returned when chunking or speed options are out of range.
	ErrInvalidOptions = errors.New("invalid synthesis options")
	// ErrNoAudio is returned when every chunk synthesized to silence.
	ErrNoAudio = errors.New("no audio generated")
)

// Request describes one synthesis job. Zero values fall back to the
// pipeline defaults.
type Request struct {
	Text        string
	Voice       string
	Speed       float64
	MaxChars    int
	CrossfadeMS *int
	Chunking    *bool
}

// Result is the merged output of a request.
type Result struct {
	Audio      audiomerge.Buffer
	SampleRate int
	Chunks     int
	Voice      string
	Duration   time.Duration
}

// Seconds returns the playback length in seconds.
func (r Result) Seconds() float64 { return r.Duration.Seconds() }

// Pipeline turns a text request into one merged recording.
type Pipeline struct {
	synth    tts.Synthesizer
	defaults config.ChunkingConfig
	voice    string
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *instruments
}

type instruments struct {
	requests     metric.Int64Counter
	chunks       metric.Int64Counter
	duration     metric.Float64Histogram
	audioSeconds metric.Float64Histogram
}

// New returns a Pipeline that synthesizes with synth and falls back to the
// chunking and voice defaults from configuration.
func New(synth tts.Synthesizer, chunking config.ChunkingConfig, ttsCfg config.TTSConfig, log *slog.Logger) *Pipeline {
	p := &Pipeline{
		synth:    synth,
		defaults: chunking,
		voice:    ttsCfg.Voice,
		timeout:  time.Duration(ttsCfg.TimeoutMS) * time.Millisecond,
		logger:   log.With(slog.String("component", "pipeline")),
		tracer:   otel.Tracer(instrumentationName),
	}
	m, err := newInstruments(otel.Meter(instrumentationName))
	if err != nil {
		p.logger.Warn("failed to initialize metrics", slogError(err))
	}
	p.metrics = m
	return p
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		m   instruments
		err error
	)
	if m.requests, err = meter.Int64Counter("mayari.synthesis.requests",
		metric.WithDescription("Synthesis requests by outcome")); err != nil {
		return nil, err
	}
	if m.chunks, err = meter.Int64Counter("mayari.synthesis.chunks",
		metric.WithDescription("Text chunks sent to the engine")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("mayari.synthesis.duration",
		metric.WithDescription("Wall time per request"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.audioSeconds, err = meter.Float64Histogram("mayari.synthesis.audio_seconds",
		metric.WithDescription("Length of generated audio"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Engine returns the name of the underlying synthesizer.
func (p *Pipeline) Engine() string { return p.synth.Name() }

// DefaultVoice returns the voice used when a request names none.
func (p *Pipeline) DefaultVoice() string { return p.voice }

// Plan returns the chunks a request would be split into.
func (p *Pipeline) Plan(req Request) ([]string, error) {
	opts, err := p.resolve(req)
	if err != nil {
		return nil, err
	}
	return p.plan(req.Text, opts)
}

type options struct {
	voice     string
	speed     float64
	maxChars  int
	crossfade int
	chunking  bool
}

func (p *Pipeline) resolve(req Request) (options, error) {
	opts := options{
		voice:     req.Voice,
		speed:     req.Speed,
		maxChars:  req.MaxChars,
		crossfade: p.defaults.CrossfadeMS,
		chunking:  p.defaults.Enabled,
	}
	if strings.TrimSpace(req.Text) == "" {
		return opts, ErrNothingToSynthesize
	}
	if opts.voice == "" {
		opts.voice = p.voice
	}
	if opts.speed == 0 {
		opts.speed = 1
	}
	if opts.maxChars == 0 {
		opts.maxChars = p.defaults.MaxChars
	}
	if req.CrossfadeMS != nil {
		opts.crossfade = *req.CrossfadeMS
	}
	if req.Chunking != nil {
		opts.chunking = *req.Chunking
	}

	switch {
	case opts.maxChars <= 0:
		return opts, fmt.Errorf("%w: max_chars must be positive", ErrInvalidOptions)
	case opts.crossfade < 0:
		return opts, fmt.Errorf("%w: crossfade_ms must be non-negative", ErrInvalidOptions)
	case opts.speed <= 0 || opts.speed > maxSpeed:
		return opts, fmt.Errorf("%w: speed must be in (0, %g]", ErrInvalidOptions, maxSpeed)
	}
	return opts, nil
}

func (p *Pipeline) plan(text string, opts options) ([]string, error) {
	if !opts.chunking {
		return []string{textchunk.Normalize(text)}, nil
	}
	return textchunk.Split(text, opts.maxChars)
}

// Generate synthesizes req and merges the chunk audio.
func (p *Pipeline) Generate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.generate")
	defer span.End()

	res, err := p.generate(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if p.metrics != nil {
		p.metrics.requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("engine", p.synth.Name()),
		))
		p.metrics.duration.Record(ctx, time.Since(start).Seconds())
		if err == nil {
			p.metrics.chunks.Add(ctx, int64(res.Chunks))
			p.metrics.audioSeconds.Record(ctx, res.Seconds())
		}
	}
	return res, err
}

func (p *Pipeline) generate(ctx context.Context, req Request) (Result, error) {
	opts, err := p.resolve(req)
	if err != nil {
		return Result{}, err
	}
	chunks, err := p.plan(req.Text, opts)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("mayari.chunks", len(chunks)),
		attribute.String("mayari.voice", opts.voice),
	)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	outputs := make([]tts.Audio, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.defaults.Parallelism, 1))
	for i, chunk := range chunks {
		g.Go(func() error {
			audio, err := p.synthesizeChunk(gctx, i, chunk, opts)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			outputs[i] = audio
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	buffers := make([]audiomerge.Buffer, 0, len(outputs))
	sampleRate := 0
	for i, audio := range outputs {
		if audio.Empty() {
			p.logger.Debug("chunk produced no audio", slog.Int("chunk", i))
			continue
		}
		if sampleRate == 0 {
			sampleRate = audio.SampleRate
		}
		buf := audio.Buffer
		if buf.SampleRate == 0 {
			buf.SampleRate = audio.SampleRate
		}
		buffers = append(buffers, buf)
	}
	if len(buffers) == 0 {
		return Result{}, ErrNoAudio
	}

	merged, err := audiomerge.Merge(buffers, sampleRate, opts.crossfade)
	if err != nil {
		return Result{}, err
	}
	merged.SampleRate = sampleRate

	res := Result{
		Audio:      merged,
		SampleRate: sampleRate,
		Chunks:     len(chunks),
		Voice:      opts.voice,
		Duration:   time.Duration(merged.Len()) * time.Second / time.Duration(sampleRate),
	}
	p.logger.Info("synthesis complete",
		slog.String("voice", opts.voice),
		slog.Int("chunks", res.Chunks),
		slog.Float64("audio_seconds", res.Seconds()),
	)
	return res, nil
}

func (p *Pipeline) synthesizeChunk(ctx context.Context, index int, text string, opts options) (tts.Audio, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.chunk", trace.WithAttributes(
		attribute.Int("mayari.chunk.index", index),
		attribute.Int("mayari.chunk.chars", len([]rune(text))),
	))
	defer span.End()

	audio, err := p.synth.Synthesize(ctx, tts.Request{Text: text, Voice: opts.voice, Speed: opts.speed})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return tts.Audio{}, err
	}
	return audio, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
