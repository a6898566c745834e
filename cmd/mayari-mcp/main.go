package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/BoltzmannEntropy/Mayari/internal/config"
	"github.com/BoltzmannEntropy/Mayari/internal/mcpserver"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		backendURL string
		host       string
		port       int
		serveHTTP  bool
	)
	cmd := &cobra.Command{
		Use:          "mayari-mcp",
		Short:        "Expose the Mayari backend as MCP tools",
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("backend") {
				cfg.MCP.BackendURL = backendURL
			}
			if cmd.Flags().Changed("host") {
				cfg.MCP.Bind = host
			}
			if cmd.Flags().Changed("port") {
				cfg.MCP.Port = port
			}

			logger, logFile := newLogger(cfg.MCP, cfg.Telemetry.LogLevel, os.Stderr)
			defer logFile.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := mcpserver.New(mcpserver.NewBackend(cfg.MCP.BackendURL, nil), version, logger)
			logger.Info("starting mayari-mcp", slog.String("backend_url", cfg.MCP.BackendURL), slog.Bool("http", serveHTTP))
			if serveHTTP {
				return runHTTP(ctx, server, fmt.Sprintf("%s:%d", cfg.MCP.Bind, cfg.MCP.Port), logger)
			}
			return server.Run(ctx, &mcp.StdioTransport{})
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&backendURL, "backend", "", "Mayari backend URL (overrides config and MAYARI_BACKEND_URL)")
	cmd.Flags().StringVar(&host, "host", "", "Bind address for --http")
	cmd.Flags().IntVar(&port, "port", 0, "Port for --http")
	cmd.Flags().BoolVar(&serveHTTP, "http", false, "Serve streamable HTTP instead of stdio")
	return cmd
}

func runHTTP(ctx context.Context, server *mcp.Server, addr string, logger *slog.Logger) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcp http listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
