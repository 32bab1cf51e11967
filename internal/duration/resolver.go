// Package duration resolves track durations through the duration cache, a
// full decode, and an ffprobe fallback.
package duration

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/maauso/audiosplicer/internal/audio"
	"github.com/maauso/audiosplicer/internal/durationcache"
	"github.com/maauso/audiosplicer/internal/media"
	"github.com/maauso/audiosplicer/internal/metrics"
	"github.com/maauso/audiosplicer/internal/progress"
)

// DefaultWorkers bounds ResolveAll when no worker count is configured.
const DefaultWorkers = 4

// Resolver returns the playback length of audio files. It never fails: a file
// whose duration cannot be determined resolves to 0.
type Resolver struct {
	cache   *durationcache.Cache
	decoder audio.Decoder
	prober  media.Prober
	workers int
	logger  *slog.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithWorkers sets the ResolveAll concurrency.
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics records probe fallbacks on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a Resolver. prober may be nil to disable the fallback.
func NewResolver(cache *durationcache.Cache, decoder audio.Decoder, prober media.Prober, opts ...Option) *Resolver {
	r := &Resolver{
		cache:   cache,
		decoder: decoder,
		prober:  prober,
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Cache returns the backing duration cache.
func (r *Resolver) Cache() *durationcache.Cache {
	return r.cache
}

// Resolve returns the duration of path in seconds.
//
// A valid cache entry is returned as is. Otherwise the file is decoded and
// measured, then probed with ffprobe if decoding fails. A successful
// measurement is cached; a failure is logged and yields 0 without touching
// the cache. Concurrent calls for one file share a single measurement, which
// keeps running when ctx is cancelled; the cancelled caller gets 0.
func (r *Resolver) Resolve(ctx context.Context, path string) float64 {
	key := durationcache.Key(path)
	if d, ok := r.cache.Get(key); ok {
		return d
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	// The measurement is shared by every caller waiting on abs, so it must
	// outlive the caller that started it.
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(abs, func() (any, error) {
		if d, ok := r.cache.Get(key); ok {
			return d, nil
		}
		d, err := r.measure(flightCtx, abs)
		if err != nil {
			r.logger.Warn("failed to determine duration",
				slog.String("file", filepath.Base(abs)),
				slog.String("error", err.Error()),
			)
			return 0.0, nil
		}
		r.cache.Put(key, d)
		return d, nil
	})

	select {
	case res := <-ch:
		return res.Val.(float64)
	case <-ctx.Done():
		return 0
	}
}

func (r *Resolver) measure(ctx context.Context, path string) (float64, error) {
	buf, decodeErr := r.decoder.Decode(ctx, path)
	if decodeErr == nil {
		return buf.Seconds(), nil
	}

	r.logger.Debug("decode failed, falling back to ffprobe",
		slog.String("file", filepath.Base(path)),
		slog.String("error", decodeErr.Error()),
	)
	if r.prober == nil {
		return 0, decodeErr
	}

	d, err := r.prober.Duration(ctx, path)
	r.metrics.ProbeFallback(err == nil)
	if err != nil {
		return 0, fmt.Errorf("decode: %v; probe: %w", decodeErr, err)
	}
	return d, nil
}

// ResolveAll resolves every path on a bounded worker pool. Results keep the
// order of paths; progress is reported once per finished file.
func (r *Resolver) ResolveAll(ctx context.Context, paths []string, reporter progress.Reporter) []float64 {
	reporter = progress.OrNop(reporter)
	out := make([]float64, len(paths))
	if len(paths) == 0 {
		return out
	}

	d := progress.NewDispatcher(reporter, 0)
	defer d.Close()

	var (
		g        errgroup.Group
		mu       sync.Mutex
		finished int
	)
	g.SetLimit(r.workers)

	for i, p := range paths {
		g.Go(func() error {
			if ctx.Err() == nil {
				out[i] = r.Resolve(ctx, p)
			}
			mu.Lock()
			finished++
			d.Progress(progress.Percent(finished, len(paths)))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// EstimateTotal returns the combined length of files plus the countdown
// played between consecutive tracks. countdown may be empty.
func (r *Resolver) EstimateTotal(ctx context.Context, files []string, countdown string) float64 {
	var total float64
	for _, d := range r.ResolveAll(ctx, files, nil) {
		total += d
	}
	if countdown != "" && len(files) > 1 {
		total += r.Resolve(ctx, countdown) * float64(len(files)-1)
	}
	return total
}
