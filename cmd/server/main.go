// Package main provides the entry point for the audio splicer API server.
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

	"golang.org/x/sync/errgroup"

	"github.com/maauso/audiosplicer/internal/bootstrap"
	"github.com/maauso/audiosplicer/internal/config"
	"github.com/maauso/audiosplicer/internal/job"
	"github.com/maauso/audiosplicer/internal/library"
	"github.com/maauso/audiosplicer/internal/progress"
	"github.com/maauso/audiosplicer/internal/server"
)

const (
	shutdownTimeout = 30 * time.Second
	janitorInterval = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	logger.Info("starting audio splicer API", slog.String("config", cfg.String()))

	// Cancelled once the HTTP server has stopped, so running splices stop too.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	deps, err := bootstrap.NewDependencies(jobCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	handlers := server.NewHandlers(deps.SpliceService, logger, server.WithJobContext(jobCtx))
	routerCfg := server.DefaultConfig()
	routerCfg.Metrics = deps.MetricsHandler
	routerCfg.RequestMetrics = deps.Metrics

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.NewRouter(handlers, logger, routerCfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // spliced outputs can be hours of audio
		IdleTimeout:  60 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(ctx)

		cancelJobs()
		handlers.Wait()
		if saveErr := deps.SpliceService.SaveDurations(); saveErr != nil {
			logger.Error("failed to save duration cache", slog.String("error", saveErr.Error()))
		}
		if err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	})

	if cfg.JobRetention > 0 {
		g.Go(func() error {
			pruneJobs(gctx, deps.SpliceService, cfg.JobRetention, logger)
			return nil
		})
	}

	if cfg.LibraryDir != "" {
		go preload(jobCtx, deps.SpliceService, cfg.LibraryDir, logger)
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

// pruneJobs forgets finished jobs older than retention until ctx is done.
func pruneJobs(ctx context.Context, svc *job.SpliceService, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(min(janitorInterval, retention))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.PruneJobs(ctx, retention); err != nil {
				logger.Warn("failed to prune jobs", slog.String("error", err.Error()))
			}
		}
	}
}

// preload warms the audio and duration caches with the library.
func preload(ctx context.Context, svc *job.SpliceService, dir string, logger *slog.Logger) {
	files, err := library.Scan(dir, true)
	if err != nil {
		logger.Error("failed to scan library",
			slog.String("library_dir", dir),
			slog.String("error", err.Error()),
		)
		return
	}

	start := time.Now()
	res := svc.Preload(ctx, files, progress.Funcs{OnStatus: func(msg string) {
		logger.Debug("preload", slog.String("message", msg))
	}})
	logger.Info("library ready",
		slog.Int("files", len(files)),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
		slog.Duration("elapsed", time.Since(start)),
	)
}
