package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/rpggio/shopbrain/internal/app"
	"github.com/rpggio/shopbrain/internal/config"
	"github.com/rpggio/shopbrain/internal/domain/orchestrator"
	"github.com/rpggio/shopbrain/internal/logfile"
	"github.com/rpggio/shopbrain/internal/planner"
	"github.com/rpggio/shopbrain/internal/sqlite"
	"github.com/rpggio/shopbrain/internal/telemetry"
	"github.com/rpggio/shopbrain/internal/trace"
)

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		logWriter = os.Stderr
	}
	if cfg.Log.Path != "" {
		file, err := logfile.Open(cfg.Log.Path, maxLogSizeBytes, keepLogSizeBytes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = file
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		// Spans go to stderr so stdout stays free for the stdio transport.
		shutdown, err := telemetry.InitTracer("shopbrain", os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		return fmt.Errorf("prepare database path: %w", err)
	}
	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.RunMigrations(); err != nil {
		return err
	}

	traceOpts := trace.Options{BufferSize: cfg.Trace.BufferSize}
	if cfg.Trace.Enabled {
		traceOpts.Path = cfg.Trace.Path
		traceOpts.MaxFileBytes = maxLogSizeBytes
	}

	opts := app.Options{
		DB: db,
		PlannerConfig: planner.Config{
			Model:            cfg.Planner.Model,
			Temperature:      cfg.Planner.Temperature,
			MaxHistoryTokens: cfg.Planner.MaxHistoryTokens,
		},
		ExecutorEnabled: cfg.Executor.Enabled,
		PendingTTL:      cfg.Session.PendingTTL,
		Trace:           traceOpts,
		Orchestrator:    orchestrator.Config{ConflictPhraseFallback: cfg.Orchestrator.ConflictPhraseFallback},
		AuthEnabled:     cfg.Auth.Enabled,
		DefaultUserID:   cfg.Auth.DefaultUserID,
		TransportMode:   cfg.Transport.Mode,
		Logger:          logger,
	}
	if cfg.Planner.APIKey != "" {
		opts.Planner = planner.NewClient(cfg.Planner.APIKey,
			planner.WithBaseURL(cfg.Planner.BaseURL),
			planner.WithHTTPClient(&http.Client{Timeout: cfg.Planner.Timeout}),
		)
	} else {
		logger.Warn("planner API key not set, chat will only answer with the unavailable reply")
	}
	if !cfg.Executor.Enabled {
		logger.Warn("executor disabled, confirmations will fail with agent_missing")
	}

	a, err := app.New(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Transport.Mode == "stdio" {
		return runStdioMode(ctx, logger, a.MCP)
	}
	return runHTTPMode(ctx, logger, a.Router, cfg.Server.Host, cfg.Server.Port)
}

func runStdioMode(ctx context.Context, logger *slog.Logger, mcpServer *sdkmcp.Server) error {
	logger.Info("starting stdio transport", "auth", "disabled")

	// Run blocks until stdin closes or ctx is canceled.
	if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

func runHTTPMode(ctx context.Context, logger *slog.Logger, handler http.Handler, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})
	return g.Wait()
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
