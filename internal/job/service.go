package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/audiosplicer/internal/audio"
	"github.com/maauso/audiosplicer/internal/duration"
	"github.com/maauso/audiosplicer/internal/durationcache"
	"github.com/maauso/audiosplicer/internal/library"
	"github.com/maauso/audiosplicer/internal/merge"
	"github.com/maauso/audiosplicer/internal/metrics"
	"github.com/maauso/audiosplicer/internal/progress"
	"github.com/maauso/audiosplicer/internal/storage"
)

var (
	// ErrNoFiles is returned when a splice is requested without input files.
	ErrNoFiles = errors.New("no input files")
	// ErrNothingSpliced is returned when none of the input files could be loaded.
	ErrNothingSpliced = errors.New("no audio file could be spliced")
)

// Defaults for ServiceConfig.
const (
	DefaultFormat       = "mp3"
	DefaultOutputName   = "spliced"
	DefaultPlaylistName = "playlist"
	DefaultLoadWorkers  = 4
)

// Progress bounds of the splice phases.
const (
	loadDone   = 60
	mergeDone  = 85
	exportDone = 95
)

// SpliceInput contains the parameters of one splice.
type SpliceInput struct {
	// Files are the input paths, in the order used for sequential mode.
	Files []string
	// Mode is library.OrderRandom or library.OrderSequential.
	Mode string
	// Countdown is an optional file played between consecutive tracks.
	Countdown string
	// Format is the export container format. Empty means DefaultFormat.
	Format string
	// OutputName is the base name of the output file. Empty means DefaultOutputName.
	OutputName string
	// PushToS3 uploads the output and the playlist after export.
	PushToS3 bool
}

// Result is the outcome of Run.
type Result struct {
	Success bool
	Message string
}

// PreloadResult counts the files handled by Preload.
type PreloadResult struct {
	Succeeded int
	Failed    int
}

// ServiceConfig holds the tunables of SpliceService.
type ServiceConfig struct {
	// LoadWorkers bounds concurrent decodes.
	LoadWorkers int
	// Format is the default export format.
	Format string
	// PlaylistName is the base name of playlist files.
	PlaylistName string
}

// mergeFunc merges decoded segments. Tests replace it to force failures.
type mergeFunc func(ctx context.Context, s *merge.Scheduler, segments []*audio.Buffer) (*audio.Buffer, error)

func parallelMerge(ctx context.Context, s *merge.Scheduler, segments []*audio.Buffer) (*audio.Buffer, error) {
	return merge.Run(ctx, s, segments, audio.Concat)
}

// SpliceService orchestrates a splice: ordering, loading through the audio
// cache, merging, exporting and writing the playlist.
//
// Dependencies:
//   - audio.Loader: decoded and faded tracks, cached by path
//   - audio.Encoder: export of the merged buffer
//   - duration.Resolver: duration lookups backed by the snapshot cache
//   - merge.Scheduler: serial or parallel merge
//   - storage.Storage: output placement and S3 publishing
//   - Repository: job persistence
type SpliceService struct {
	repo      Repository
	loader    *audio.Loader
	encoder   audio.Encoder
	resolver  *duration.Resolver
	storage   storage.Storage
	scheduler merge.Scheduler
	cfg       ServiceConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	merge     mergeFunc
}

// ServiceOption configures a SpliceService.
type ServiceOption func(*SpliceService)

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *SpliceService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceMetrics sets the metrics sink.
func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *SpliceService) {
		s.metrics = m
	}
}

// WithScheduler sets the merge settings. Reporter, Logger and Metrics are
// filled in per run.
func WithScheduler(sched merge.Scheduler) ServiceOption {
	return func(s *SpliceService) {
		s.scheduler = sched
	}
}

// WithServiceConfig sets the service tunables. Zero fields keep their defaults.
func WithServiceConfig(cfg ServiceConfig) ServiceOption {
	return func(s *SpliceService) {
		if cfg.LoadWorkers > 0 {
			s.cfg.LoadWorkers = cfg.LoadWorkers
		}
		if cfg.Format != "" {
			s.cfg.Format = cfg.Format
		}
		if cfg.PlaylistName != "" {
			s.cfg.PlaylistName = cfg.PlaylistName
		}
	}
}

// NewSpliceService creates a new SpliceService.
func NewSpliceService(
	repo Repository,
	loader *audio.Loader,
	encoder audio.Encoder,
	resolver *duration.Resolver,
	st storage.Storage,
	opts ...ServiceOption,
) *SpliceService {
	s := &SpliceService{
		repo:      repo,
		loader:    loader,
		encoder:   encoder,
		resolver:  resolver,
		storage:   st,
		scheduler: *merge.NewScheduler(),
		cfg: ServiceConfig{
			LoadWorkers:  DefaultLoadWorkers,
			Format:       DefaultFormat,
			PlaylistName: DefaultPlaylistName,
		},
		logger: slog.Default(),
		merge:  parallelMerge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob validates input and persists a new IN_QUEUE job.
func (s *SpliceService) CreateJob(ctx context.Context, input SpliceInput) (*Job, error) {
	if len(input.Files) == 0 {
		return nil, ErrNoFiles
	}
	if _, err := library.Order(nil, input.Mode, nil); err != nil {
		return nil, err
	}

	job := New()
	job.Mode = input.Mode
	job.Countdown = input.Countdown
	job.Format = s.format(input)
	job.PushToS3 = input.PushToS3

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.Int("files", len(input.Files)),
		slog.String("mode", input.Mode),
		slog.Bool("countdown", input.Countdown != ""),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return job, nil
}

// GetJob retrieves a job by ID.
func (s *SpliceService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns the jobs matching filter, newest first.
func (s *SpliceService) ListJobs(ctx context.Context, filter Filter) ([]*Job, error) {
	return s.repo.List(ctx, filter)
}

// DeleteJob forgets a finished job and removes its local output and
// playlist. Jobs still queued or running yield ErrJobRunning.
func (s *SpliceService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrJobRunning
	}

	var paths []string
	for _, p := range []string{job.OutputPath, job.PlaylistPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	if err := s.storage.Remove(ctx, paths); err != nil {
		return fmt.Errorf("remove job files: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("job deleted",
		slog.String("job_id", id),
		slog.Int("files_removed", len(paths)),
	)
	return nil
}

// PruneJobs forgets jobs that finished more than retention ago. Their
// output files stay on disk. It returns the number of jobs removed.
func (s *SpliceService) PruneJobs(ctx context.Context, retention time.Duration) (int, error) {
	removed, err := s.repo.DeleteFinishedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	if len(removed) > 0 {
		s.logger.Info("finished jobs pruned",
			slog.Int("count", len(removed)),
			slog.Duration("retention", retention),
		)
	}
	return len(removed), nil
}

// Splice creates a job for input and runs it to completion.
func (s *SpliceService) Splice(ctx context.Context, input SpliceInput, reporter progress.Reporter) (*Job, Result, error) {
	job, err := s.CreateJob(ctx, input)
	if err != nil {
		return nil, Result{}, err
	}
	res := s.Run(ctx, job.ID, input, reporter)
	final, err := s.repo.FindByID(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return nil, res, err
	}
	return final, res, nil
}

// Run executes the splice for an existing job and returns the outcome. The
// job record is kept current throughout, and reporter, which may be nil,
// receives the same progress and status messages.
//
// Files that cannot be decoded are skipped. Export and requested S3 upload
// failures fail the job; a playlist failure only adds a status message.
// Cancelling ctx cancels the job.
func (s *SpliceService) Run(ctx context.Context, jobID string, input SpliceInput, reporter progress.Reporter) Result {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return Result{Message: fmt.Sprintf("load job %s: %v", jobID, err)}
	}
	if err := job.Start(); err != nil {
		return Result{Message: fmt.Sprintf("start job %s: %v", jobID, err)}
	}
	s.save(ctx, job)

	started := time.Now()
	d := progress.NewDispatcher(tee{&jobReporter{s: s, ctx: ctx, job: job}, progress.OrNop(reporter)}, 0)
	message, err := s.splice(ctx, job, input, d)
	d.Close()

	res := s.finish(ctx, job, message, err)
	s.logger.Info("splice finished",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.GetStatus())),
		slog.Int("loaded", job.LoadedCount()),
		slog.Duration("elapsed", time.Since(started)),
	)
	return res
}

func (s *SpliceService) finish(ctx context.Context, job *Job, message string, err error) Result {
	var res Result
	switch {
	case err == nil:
		_ = job.Complete(message)
		res = Result{Success: true, Message: message}
	case ctx.Err() != nil:
		_ = job.Cancel()
		job.AddMessage("Splice cancelled")
		res = Result{Message: "Splice cancelled"}
	case errors.Is(err, ErrNothingSpliced):
		res = Result{Message: "No audio file could be spliced"}
		_ = job.Fail(res.Message)
	default:
		res = Result{Message: fmt.Sprintf("Splice failed: %v", err)}
		_ = job.Fail(res.Message)
		s.logger.Error("splice failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.SpliceJob(string(job.GetStatus()))
	s.save(ctx, job)
	return res
}

func (s *SpliceService) splice(ctx context.Context, job *Job, input SpliceInput, r progress.Reporter) (string, error) {
	countdown := s.loadCountdown(ctx, input.Countdown, r)

	files, err := library.Order(input.Files, input.Mode, nil)
	if err != nil {
		return "", err
	}
	if input.Mode == library.OrderRandom {
		r.Status("Tracks shuffled")
	} else {
		r.Status("Using the given track order")
	}

	tracks := make([]Track, len(files))
	for i, f := range files {
		tracks[i] = Track{Index: i, Path: f, Name: filepath.Base(f), Status: TrackStatusPending}
	}
	job.SetTracks(tracks)
	s.save(ctx, job)

	buffers := s.loadTracks(ctx, job, files, progress.Scale(r, 0, loadDone))
	if err := ctx.Err(); err != nil {
		return "", err
	}

	segments, played := interleave(files, buffers, countdown)
	if len(segments) == 0 {
		return "", ErrNothingSpliced
	}

	r.Status("Merging segments")
	merged, err := s.mergeSegments(ctx, segments, r)
	if err != nil {
		return "", fmt.Errorf("merge segments: %w", err)
	}
	r.Progress(mergeDone)

	format := s.format(input)
	name := input.OutputName
	if name == "" {
		name = DefaultOutputName
	}
	outputPath, err := s.storage.UniquePath(name, "."+format)
	if err != nil {
		return "", fmt.Errorf("reserve output: %w", err)
	}
	r.Status(fmt.Sprintf("Saving to %s", outputPath))
	if err := s.encoder.Export(ctx, merged, outputPath, format); err != nil {
		if rmErr := s.storage.Remove(context.WithoutCancel(ctx), []string{outputPath}); rmErr != nil {
			s.logger.Warn("failed to remove partial output",
				slog.String("path", outputPath),
				slog.String("error", rmErr.Error()),
			)
		}
		return "", fmt.Errorf("export: %w", err)
	}
	r.Progress(exportDone)

	playlistPath := s.writePlaylist(played, r)
	total := merged.Seconds()
	job.SetOutput(outputPath, playlistPath, total)

	if input.PushToS3 {
		if err := s.publish(ctx, job, outputPath, playlistPath, r); err != nil {
			return "", err
		}
	}

	message := fmt.Sprintf("Splice complete. Total duration: %s\nOutput: %s", FormatDuration(total), outputPath)
	if playlistPath != "" {
		message += "\nPlaylist: " + playlistPath
	}
	return message, nil
}

// loadCountdown returns the countdown buffer, or nil when none is configured
// or it cannot be loaded.
func (s *SpliceService) loadCountdown(ctx context.Context, path string, r progress.Reporter) *audio.Buffer {
	if path == "" {
		return nil
	}
	buf, cached, err := s.loader.Load(ctx, path)
	if err != nil {
		r.Status(fmt.Sprintf("Failed to load countdown %s: %v", filepath.Base(path), err))
		return nil
	}
	if cached {
		r.Status(fmt.Sprintf("Countdown loaded from cache: %s", filepath.Base(path)))
	} else {
		r.Status(fmt.Sprintf("Countdown loaded: %s", filepath.Base(path)))
	}
	return buf
}

// loadTracks decodes files concurrently. The result is aligned with files;
// a nil entry marks a skipped track.
func (s *SpliceService) loadTracks(ctx context.Context, job *Job, files []string, r progress.Reporter) []*audio.Buffer {
	buffers := make([]*audio.Buffer, len(files))

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.LoadWorkers)
	for i, path := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			track := Track{Index: i, Path: path, Name: filepath.Base(path)}
			buf, cached, err := s.loader.Load(gctx, path)
			if err != nil {
				track.Status = TrackStatusSkipped
				track.Error = err.Error()
				r.Status(fmt.Sprintf("Failed to load %s: %v", track.Name, err))
				s.logger.Warn("skipping track",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			} else {
				buffers[i] = buf
				track.Status = TrackStatusLoaded
				track.Cached = cached
				track.Duration = buf.Seconds()
				s.rememberDuration(path, buf)
				if cached {
					r.Status(fmt.Sprintf("Added from cache: %s", track.Name))
				} else {
					r.Status(fmt.Sprintf("Added: %s", track.Name))
				}
			}
			job.UpdateTrack(i, track)

			mu.Lock()
			done++
			r.Progress(progress.Percent(done, len(files)))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return buffers
}

// rememberDuration stores the decoded length in the duration cache so a
// later lookup does not decode the file again.
func (s *SpliceService) rememberDuration(path string, buf *audio.Buffer) {
	if s.resolver == nil {
		return
	}
	cache := s.resolver.Cache()
	key := durationcache.Key(path)
	if !cache.Contains(key) {
		cache.Put(key, buf.Seconds())
	}
}

// interleave drops skipped tracks and places countdown between consecutive
// loaded tracks. It returns the segments and the files actually played.
func interleave(files []string, buffers []*audio.Buffer, countdown *audio.Buffer) ([]*audio.Buffer, []string) {
	segments := make([]*audio.Buffer, 0, 2*len(buffers))
	played := make([]string, 0, len(files))
	for i, buf := range buffers {
		if buf == nil {
			continue
		}
		if countdown != nil && len(played) > 0 {
			segments = append(segments, countdown)
		}
		segments = append(segments, buf)
		played = append(played, files[i])
	}
	return segments, played
}

// mergeSegments merges with the scheduler and retries once with a serial
// merge when that fails.
func (s *SpliceService) mergeSegments(ctx context.Context, segments []*audio.Buffer, r progress.Reporter) (*audio.Buffer, error) {
	sched := s.scheduler
	sched.Reporter = r
	sched.Logger = s.logger
	sched.Metrics = s.metrics

	out, err := s.merge(ctx, &sched, segments)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.logger.Warn("merge failed, retrying serially", slog.String("error", err.Error()))
	r.Status(fmt.Sprintf("Parallel merge failed, falling back to serial merge: %v", err))

	start := time.Now()
	out, err = merge.Sequential(segments, audio.Concat)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveMerge(merge.ModeFallback, time.Since(start))
	r.Status("Segments merged")
	return out, nil
}

// writePlaylist writes the song names of played next to the output. It
// returns "" when the playlist could not be written.
func (s *SpliceService) writePlaylist(played []string, r progress.Reporter) string {
	path, err := s.storage.UniquePath(s.cfg.PlaylistName, ".txt")
	if err == nil {
		err = library.WritePlaylist(path, played)
	}
	if err != nil {
		r.Status(fmt.Sprintf("Failed to write playlist: %v", err))
		s.logger.Warn("failed to write playlist", slog.String("error", err.Error()))
		if path != "" {
			_ = s.storage.Remove(context.Background(), []string{path})
		}
		return ""
	}
	r.Status(fmt.Sprintf("Playlist written: %s", path))
	return path
}

// publish uploads the output and the playlist and records their URLs.
func (s *SpliceService) publish(ctx context.Context, job *Job, outputPath, playlistPath string, r progress.Reporter) error {
	r.Status("Uploading to S3")
	prefix := job.ID + "/"

	outputURL, err := storage.UploadFile(ctx, s.storage, prefix+filepath.Base(outputPath), outputPath)
	if err != nil {
		return fmt.Errorf("upload output: %w", err)
	}
	var playlistURL string
	if playlistPath != "" {
		playlistURL, err = storage.UploadFile(ctx, s.storage, prefix+filepath.Base(playlistPath), playlistPath)
		if err != nil {
			return fmt.Errorf("upload playlist: %w", err)
		}
	}
	job.SetURLs(outputURL, playlistURL)
	r.Status(fmt.Sprintf("Uploaded: %s", outputURL))
	return nil
}

// Preload decodes files into the audio cache and resolves their durations in
// batches of about a tenth of the library, reporting progress from 0 to 50.
// The duration snapshot is saved afterwards.
func (s *SpliceService) Preload(ctx context.Context, files []string, reporter progress.Reporter) PreloadResult {
	var res PreloadResult
	if len(files) == 0 {
		return res
	}
	r := progress.Scale(progress.OrNop(reporter), 0, 50)
	r.Status(fmt.Sprintf("Preloading %d files", len(files)))

	batch := max(1, len(files)/10)
	var mu sync.Mutex
	for start := 0; start < len(files); start += batch {
		if ctx.Err() != nil {
			break
		}
		end := min(start+batch, len(files))

		g := new(errgroup.Group)
		g.SetLimit(s.cfg.LoadWorkers)
		for _, path := range files[start:end] {
			g.Go(func() error {
				ok := s.preloadOne(ctx, path)
				mu.Lock()
				if ok {
					res.Succeeded++
				} else {
					res.Failed++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		r.Progress(progress.Percent(end, len(files)))
	}

	if err := s.SaveDurations(); err != nil {
		s.logger.Warn("failed to save duration cache", slog.String("error", err.Error()))
	}
	r.Status(fmt.Sprintf("Preload finished: %d succeeded, %d failed", res.Succeeded, res.Failed))
	s.logger.Info("library preloaded",
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
	)
	return res
}

func (s *SpliceService) preloadOne(ctx context.Context, path string) bool {
	buf, _, err := s.loader.Load(ctx, path)
	if err != nil {
		s.logger.Warn("preload failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if s.resolver != nil {
			s.resolver.Resolve(ctx, path)
		}
		return false
	}
	s.rememberDuration(path, buf)
	return true
}

// Durations returns the duration in seconds of each file, 0 for files that
// cannot be measured, and saves the duration snapshot.
func (s *SpliceService) Durations(ctx context.Context, files []string, reporter progress.Reporter) []float64 {
	out := s.resolver.ResolveAll(ctx, files, reporter)
	if err := s.SaveDurations(); err != nil {
		s.logger.Warn("failed to save duration cache", slog.String("error", err.Error()))
	}
	return out
}

// Estimate returns the expected length in seconds of splicing files with an
// optional countdown between them.
func (s *SpliceService) Estimate(ctx context.Context, files []string, countdown string) float64 {
	total := s.resolver.EstimateTotal(ctx, files, countdown)
	if err := s.SaveDurations(); err != nil {
		s.logger.Warn("failed to save duration cache", slog.String("error", err.Error()))
	}
	return total
}

// SaveDurations writes the duration snapshot.
func (s *SpliceService) SaveDurations() error {
	if s.resolver == nil {
		return nil
	}
	return s.resolver.Cache().Save()
}

func (s *SpliceService) format(input SpliceInput) string {
	if input.Format != "" {
		return strings.ToLower(strings.TrimPrefix(input.Format, "."))
	}
	return s.cfg.Format
}

// save persists job, even after ctx is cancelled.
func (s *SpliceService) save(ctx context.Context, job *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// FormatDuration renders seconds as H:MM:SS, truncating fractions.
func FormatDuration(seconds float64) string {
	total := int64(seconds)
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total/60%60, total%60)
}

// jobReporter mirrors progress and status messages into the job record.
type jobReporter struct {
	s   *SpliceService
	ctx context.Context
	job *Job
}

func (r *jobReporter) Progress(percent int) {
	r.job.UpdateProgress(percent)
	r.s.save(r.ctx, r.job)
}

func (r *jobReporter) Status(message string) {
	r.job.AddMessage(message)
	r.s.logger.Debug("splice status",
		slog.String("job_id", r.job.ID),
		slog.String("message", message),
	)
	r.s.save(r.ctx, r.job)
}

// tee forwards to two reporters.
type tee [2]progress.Reporter

func (t tee) Progress(percent int) {
	t[0].Progress(percent)
	t[1].Progress(percent)
}

func (t tee) Status(message string) {
	t[0].Status(message)
	t[1].Status(message)
}
