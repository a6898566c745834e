package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BoltzmannEntropy/Mayari/internal/bus"
	"github.com/BoltzmannEntropy/Mayari/internal/config"
	"github.com/BoltzmannEntropy/Mayari/internal/library"
	"github.com/BoltzmannEntropy/Mayari/internal/natsserver"
	"github.com/BoltzmannEntropy/Mayari/internal/pipeline"
	"github.com/BoltzmannEntropy/Mayari/internal/runtime"
	"github.com/BoltzmannEntropy/Mayari/internal/tts"
	"github.com/BoltzmannEntropy/Mayari/internal/voices"
)

var version = "1.0.0"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(cfg.Telemetry.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	synth, err := tts.FromConfig(cfg.TTS)
	if err != nil {
		return err
	}
	catalog, err := voices.Load(cfg.Voices.CatalogPath)
	if err != nil {
		return fmt.Errorf("load voice catalog: %w", err)
	}
	if _, ok := catalog.Lookup(cfg.TTS.Voice); !ok {
		logger.Warn("configured voice not in catalog, using catalog default",
			slog.String("voice", cfg.TTS.Voice),
			slog.String("default", catalog.Default().Code))
		cfg.TTS.Voice = catalog.Default().Code
	}

	lib, err := library.Open(ctx, cfg.Library, logger)
	if err != nil {
		return fmt.Errorf("open audio library: %w", err)
	}
	defer lib.Close()

	p := pipeline.New(synth, cfg.Chunking, cfg.TTS, logger)
	deps := runtime.Deps{
		Version:  version,
		Pipeline: p,
		Library:  lib,
		Voices:   catalog,
	}

	if cfg.Bus.Enabled {
		embedded, err := natsserver.Start(cfg.Bus, logger)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()

		var urls []string
		if embedded != nil {
			urls = append(urls, embedded.ClientURL())
		}
		busClient, err := bus.Connect(ctx, cfg.Bus, logger, urls...)
		if err != nil {
			return err
		}
		defer busClient.Close()

		svc := pipeline.NewService(ctx, busClient, p, lib, logger)
		if err := svc.Start(); err != nil {
			return fmt.Errorf("start tts bus service: %w", err)
		}
		defer svc.Close()

		deps.Bus = busClient
		deps.Service = svc
	}

	logger.Info("starting mayari",
		slog.String("version", version),
		slog.String("engine", synth.Name()),
		slog.Int("max_chars", cfg.Chunking.MaxChars),
		slog.Int("crossfade_ms", cfg.Chunking.CrossfadeMS))

	return runtime.New(cfg, deps, logger).Start(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
