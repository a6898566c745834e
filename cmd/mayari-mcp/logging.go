package main

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/BoltzmannEntropy/Mayari/internal/config"
)

// newLogger writes JSON logs to stderr and, when cfg.LogFile is set, to a
// size-rotated file. stdout is never used: it carries the protocol in stdio
// mode.
func newLogger(cfg config.MCPConfig, level string, stderr io.Writer) (*slog.Logger, io.Closer) {
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(level))

	out := stderr
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		}
		out = io.MultiWriter(stderr, file)
		closer = file
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
