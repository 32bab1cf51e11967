package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/audiosplicer/internal/metrics"
	"github.com/maauso/audiosplicer/internal/progress"
)

// Defaults for Scheduler.
const (
	DefaultWorkers     = 8
	DefaultMinSegments = 50
)

// Merge modes recorded in metrics.
const (
	ModeSerial   = "serial"
	ModeParallel = "parallel"
	ModeFallback = "fallback"
)

// Scheduler decides between a serial and a parallel merge and runs it.
//
// Both paths build the same binary tree over the segments, so for an
// associative concat they produce identical output.
type Scheduler struct {
	// Workers bounds the goroutines merging concurrently.
	Workers int
	// MinSegments is the smallest input merged in parallel.
	MinSegments int
	// Parallel enables the parallel path.
	Parallel bool
	// Reporter receives status messages. May be nil.
	Reporter progress.Reporter

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewScheduler returns a Scheduler with the default settings.
func NewScheduler() *Scheduler {
	return &Scheduler{
		Workers:     DefaultWorkers,
		MinSegments: DefaultMinSegments,
		Parallel:    true,
	}
}

// UseParallel reports whether n segments would take the parallel path.
func (s *Scheduler) UseParallel(n int) bool {
	return s.Parallel && n >= s.minSegments()
}

func (s *Scheduler) workers() int {
	if s.Workers <= 0 {
		return DefaultWorkers
	}
	return s.Workers
}

func (s *Scheduler) minSegments() int {
	if s.MinSegments <= 0 {
		return DefaultMinSegments
	}
	return s.MinSegments
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Run merges items in order. Any concat failure is returned to the caller.
func Run[T any](ctx context.Context, s *Scheduler, items []T, concat ConcatFunc[T]) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, ErrNoSegments
	}
	reporter := progress.OrNop(s.Reporter)
	start := time.Now()

	if !s.UseParallel(len(items)) {
		if !s.Parallel {
			reporter.Status("Parallel merge disabled, merging serially")
		} else {
			reporter.Status(fmt.Sprintf("Fewer than %d segments, merging serially", s.minSegments()))
		}
		out, err := Merge(items, concat)
		if err == nil {
			s.Metrics.ObserveMerge(ModeSerial, time.Since(start))
		}
		return out, err
	}

	numChunks := ChunkCount(len(items))
	chunks := Partition(items, numChunks)
	reporter.Status(fmt.Sprintf("%d segments, merging %d chunks on %d workers", len(items), len(chunks), s.workers()))
	s.logger().Debug("parallel merge",
		slog.Int("segments", len(items)),
		slog.Int("chunks", len(chunks)),
		slog.Int("workers", s.workers()),
	)

	merged := make([]T, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := Merge(chunk, concat)
			if err != nil {
				return fmt.Errorf("merge chunk %d: %w", i, err)
			}
			merged[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, err
	}

	out, err := parallelMerge(ctx, merged, concat, newSlots(s.workers()-1))
	if err != nil {
		return zero, fmt.Errorf("combine chunks: %w", err)
	}
	s.Metrics.ObserveMerge(ModeParallel, time.Since(start))
	reporter.Status("Segments merged")
	return out, nil
}

// slots hands out spare goroutines without blocking.
type slots chan struct{}

func newSlots(n int) slots {
	if n < 0 {
		n = 0
	}
	return make(slots, n)
}

func (s slots) tryAcquire() bool {
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s slots) release() { <-s }

// parallelMerge builds the same tree as Merge, running the left half on a
// spare goroutine when one is free.
func parallelMerge[T any](ctx context.Context, items []T, concat ConcatFunc[T], sem slots) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if len(items) <= 2 || !sem.tryAcquire() {
		return Merge(items, concat)
	}

	mid := len(items) / 2
	var (
		left    T
		leftErr error
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		defer sem.release()
		left, leftErr = parallelMerge(ctx, items[:mid], concat, sem)
	}()

	right, rightErr := parallelMerge(ctx, items[mid:], concat, sem)
	<-done
	if leftErr != nil {
		return zero, leftErr
	}
	if rightErr != nil {
		return zero, rightErr
	}
	return concat(left, right)
}
