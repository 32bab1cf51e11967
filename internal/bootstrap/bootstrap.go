// Package bootstrap provides dependency initialization for the audio splicer.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/audiosplicer/internal/audio"
	"github.com/maauso/audiosplicer/internal/config"
	"github.com/maauso/audiosplicer/internal/duration"
	"github.com/maauso/audiosplicer/internal/durationcache"
	"github.com/maauso/audiosplicer/internal/job"
	"github.com/maauso/audiosplicer/internal/media"
	"github.com/maauso/audiosplicer/internal/merge"
	"github.com/maauso/audiosplicer/internal/metrics"
	"github.com/maauso/audiosplicer/internal/storage"
)

// Dependencies holds all initialized dependencies shared by the server and
// the command line tool.
type Dependencies struct {
	SpliceService *job.SpliceService
	Durations     *durationcache.Cache
	AudioCache    *audio.Cache
	Storage       storage.Storage
	Metrics       *metrics.Metrics
	// MetricsHandler serves the registry the collectors live in.
	MetricsHandler http.Handler
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Initialize storage
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize codec, prober and caches
	codec := audio.NewFFmpegCodec(cfg.FFmpegPath, audio.CodecOpts{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	})
	prober := media.NewFFprobe(cfg.FFprobePath)

	audioCache, err := audio.NewCache(cfg.AudioCacheCapacity, m)
	if err != nil {
		return nil, err
	}
	durations := durationcache.Open(cfg.DurationCachePath, cfg.DurationCacheTTL,
		durationcache.WithLogger(logger),
		durationcache.WithMetrics(m),
	)

	resolver := duration.NewResolver(durations, codec, prober,
		duration.WithWorkers(cfg.ResolveWorkers),
		duration.WithLogger(logger),
		duration.WithMetrics(m),
	)

	svc := job.NewSpliceService(
		job.NewMemoryRepository(),
		audio.NewLoader(codec, audioCache, cfg.Fade()),
		codec,
		resolver,
		store,
		job.WithServiceLogger(logger),
		job.WithServiceMetrics(m),
		job.WithScheduler(merge.Scheduler{
			Workers:     cfg.MergeWorkers,
			MinSegments: cfg.MergeMinSegments,
			Parallel:    cfg.MergeParallel,
		}),
		job.WithServiceConfig(job.ServiceConfig{
			LoadWorkers: cfg.ResolveWorkers,
			Format:      cfg.Format,
		}),
	)

	return &Dependencies{
		SpliceService:  svc,
		Durations:      durations,
		AudioCache:     audioCache,
		Storage:        store,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Prefix:          cfg.S3Prefix,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("output_dir", s3Store.OutputDir()),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("output_dir", localStore.OutputDir()),
	)
	return localStore, nil
}
