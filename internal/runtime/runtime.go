package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BoltzmannEntropy/Mayari/internal/bus"
	"github.com/BoltzmannEntropy/Mayari/internal/config"
	"github.com/BoltzmannEntropy/Mayari/internal/library"
	"github.com/BoltzmannEntropy/Mayari/internal/pipeline"
	"github.com/BoltzmannEntropy/Mayari/internal/voices"
)

const pruneInterval = time.Hour

// Deps are the components served by the runtime. Bus and Service are
// optional.
type Deps struct {
	Version  string
	Pipeline *pipeline.Pipeline
	Library  *library.Library
	Voices   voices.Catalog
	Bus      *bus.Client
	Service  *pipeline.Service
}

type Runtime struct {
	cfg           config.Config
	deps          Deps
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "runtime")),
	}
}

// Handler returns the HTTP API.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealthz)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /health", r.handleHealth)
	mux.HandleFunc("GET /api/kokoro/voices", r.handleVoices)
	mux.HandleFunc("POST /api/kokoro/generate", r.handleGenerate)
	mux.HandleFunc("GET /api/kokoro/audio/list", r.handleList)
	mux.HandleFunc("DELETE /api/kokoro/audio/{filename}", r.handleDelete)
	mux.HandleFunc("GET /audio/{filename}", r.handleAudio)
	return withCORS(r.cfg.HTTP.CORSOrigins, mux)
}

// Start serves until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.deps.Version, r.logger, r.metricCollectors()...)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.Shutdown
	metricsHandler := tel.MetricsHandler()

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	if r.cfg.Library.RetentionDays > 0 || r.cfg.Library.MaxFiles > 0 {
		r.wg.Add(1)
		go r.runPrune(ctx)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}

	return nil
}

// metricCollectors returns Prometheus collectors for the runtime's dependencies.
func (r *Runtime) metricCollectors() []prometheus.Collector {
	if r.deps.Library == nil {
		return nil
	}
	return []prometheus.Collector{collectors.NewDBStatsCollector(r.deps.Library.DB(), "library")}
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("server failed", slog.String("server", name), slogError(err))
		}
	}()
}

func (r *Runtime) runPrune(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.deps.Library.Prune(ctx); err != nil {
				r.logger.Warn("library prune failed", slogError(err))
			}
		}
	}
}

func (r *Runtime) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	if r.cfg.Bus.Enabled {
		if !r.deps.Bus.Healthy() {
			return false
		}
		if r.deps.Service != nil && !r.deps.Service.Healthy() {
			return false
		}
	}
	return true
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
