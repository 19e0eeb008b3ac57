package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/config"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/mcpserver"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/scheduler"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/store"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio (same as running with no subcommand)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Stdout carries the JSON-RPC stream, so every log line goes to stderr.
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLogLevel(cfg.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	zone, zerr := cfg.Zone()
	if zerr != nil {
		logger.Warn("configured timezone not resolvable, using UTC", "timezone", cfg.Timezone, "error", zerr)
	}
	logger.Info("starting schedule-task-mcp",
		"version", version,
		"config", cfgPath,
		"db", cfg.DBPath,
		"timezone", zone.String())

	st, err := store.Open(cfg.DBPath,
		store.WithLogger(logger),
		store.WithLegacyImport(cfg.LegacyPath()),
	)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer := initTracer(ctx, cfg, logger)

	sched := scheduler.New(st, scheduler.Config{
		Timezone:           zone,
		SamplingTimeout:    cfg.SamplingTimeout(),
		SamplingRatePerMin: cfg.SamplingRatePerMin,
	}, scheduler.WithLogger(logger), scheduler.WithTracer(tracer))
	if err := sched.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize scheduler: %w", err)
	}

	srv := mcpserver.New(sched, "schedule-task-mcp", version, logger)

	if watcher, werr := config.NewWatcher(cfgPath); werr != nil {
		logger.Warn("config watcher unavailable", "error", werr)
	} else {
		watcher.OnChange(func(next *config.Config) {
			sched.SetSamplingTimeout(next.SamplingTimeout())
			sched.SetSamplingRate(next.SamplingRatePerMin)
			levelVar.Set(parseLogLevel(next.LogLevel))
			if next.DBPath != cfg.DBPath || next.Timezone != cfg.Timezone {
				logger.Warn("db_path and timezone changes take effect after restart")
			}
			logger.Info("config reloaded",
				"sampling_timeout", next.SamplingTimeout(),
				"log_level", next.LogLevel)
		})
		if werr := watcher.Start(); werr != nil {
			logger.Debug("config watcher not started", "error", werr)
		} else {
			defer watcher.Stop()
		}
	}

	serveErr := srv.Serve(ctx)
	stop()

	sched.Shutdown()
	if tracer != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if terr := tracer.Shutdown(flushCtx); terr != nil {
			logger.Warn("trace exporter shutdown", "error", terr)
		}
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("server stopped")
	return nil
}

// initTracer builds the OTLP exporter when telemetry is configured. Export
// problems are logged, never fatal: tracing is best effort.
func initTracer(ctx context.Context, cfg *config.Config, logger *slog.Logger) *tracing.Tracer {
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint == "" {
		return nil
	}
	tracer, err := tracing.New(ctx, tracing.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		logger.Warn("could not enable trace export", "error", err)
		return nil
	}
	logger.Info("trace export enabled",
		"endpoint", cfg.Telemetry.Endpoint,
		"protocol", cfg.Telemetry.Protocol)
	return tracer
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
