// livefeed runs the synchronization engine as a service: it subscribes to
// the configured symbols and universes, serves health and metrics, and logs
// a summary of every emitted slice.
//
// Usage: livefeed --config configs/livefeed.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/livefeed/internal/config"
	"github.com/rickgao/livefeed/internal/model"
	"github.com/rickgao/livefeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/livefeed.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting livefeed", append(version.LogAttrs(), "config", *configPath, "instance_id", cfg.Instance.ID)...)

	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("livefeed stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("livefeed stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	svc, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.subscribe(cfg); err != nil {
		return err
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(svc, cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	if svc.stream != nil {
		g.Go(func() error {
			return svc.stream.Start(gctx)
		})
	}

	g.Go(func() error {
		return svc.runner.Run(gctx)
	})

	g.Go(func() error {
		consume(svc.runner.Slices(), logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		svc.runner.Exit()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if svc.stream != nil {
			svc.stream.Stop(shutdownCtx)
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// consume drains slices until the runner closes the channel.
func consume(slices <-chan model.TimeSlice, logger *slog.Logger) {
	for slice := range slices {
		for _, c := range slice.Changes {
			logger.Info("security changes", "time", c.Time, "added", c.Added, "removed", c.Removed)
		}
		if slice.HasData() {
			logger.Debug("slice",
				"time", slice.Time,
				"symbols", len(slice.Symbols()),
				"points", slice.DataCount(),
			)
		}
	}
}
