package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiosplicer/internal/audio"
	"github.com/maauso/audiosplicer/internal/duration"
	"github.com/maauso/audiosplicer/internal/durationcache"
	"github.com/maauso/audiosplicer/internal/library"
	"github.com/maauso/audiosplicer/internal/merge"
	"github.com/maauso/audiosplicer/internal/progress"
	"github.com/maauso/audiosplicer/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// clip describes a fake file: every sample holds marker, at 1 kHz mono.
type clip struct {
	marker int16
	ms     int
}

// fakeDecoder serves clips by absolute path and fails for unknown paths.
type fakeDecoder struct {
	mu    sync.Mutex
	clips map[string]clip
	calls map[string]int
}

func newFakeDecoder(clips map[string]clip) *fakeDecoder {
	return &fakeDecoder{clips: clips, calls: make(map[string]int)}
}

func (d *fakeDecoder) Decode(_ context.Context, path string) (*audio.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[path]++
	c, ok := d.clips[path]
	if !ok {
		return nil, errors.New("unsupported format")
	}
	samples := make([]int16, c.ms)
	for i := range samples {
		samples[i] = c.marker
	}
	return audio.NewBuffer(1000, 1, samples), nil
}

func (d *fakeDecoder) Calls(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[path]
}

// fakeEncoder records the exported buffer and writes a small file.
type fakeEncoder struct {
	mu       sync.Mutex
	exported *audio.Buffer
	path     string
	err      error
}

func (e *fakeEncoder) Export(_ context.Context, buf *audio.Buffer, path, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		_ = os.WriteFile(path, []byte("partial"), 0o644)
		return e.err
	}
	e.exported = buf
	e.path = path
	return os.WriteFile(path, []byte("ID3"), 0o644)
}

type harness struct {
	svc      *SpliceService
	repo     *MemoryRepository
	decoder  *fakeDecoder
	encoder  *fakeEncoder
	cache    *durationcache.Cache
	clips    *audio.Cache
	outDir   string
	messages *messageLog
}

// messageLog collects status messages from a reporter.
type messageLog struct {
	mu       sync.Mutex
	statuses []string
	percents []int
}

func (l *messageLog) reporter() progress.Reporter {
	return progress.Funcs{
		OnProgress: func(p int) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.percents = append(l.percents, p)
		},
		OnStatus: func(m string) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.statuses = append(l.statuses, m)
		},
	}
}

func (l *messageLog) Statuses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.statuses...)
}

func newHarness(t *testing.T, clips map[string]clip, opts ...ServiceOption) *harness {
	t.Helper()

	outDir := filepath.Join(t.TempDir(), "output")
	st, err := storage.NewLocalStorage(outDir)
	require.NoError(t, err)

	audioCache, err := audio.NewCache(16, nil)
	require.NoError(t, err)

	dec := newFakeDecoder(clips)
	enc := &fakeEncoder{}
	durations := durationcache.Open(filepath.Join(t.TempDir(), "duration_cache.json"), time.Hour, durationcache.WithLogger(discard))
	resolver := duration.NewResolver(durations, dec, nil, duration.WithLogger(discard))
	repo := NewMemoryRepository()

	opts = append([]ServiceOption{WithServiceLogger(discard)}, opts...)
	svc := NewSpliceService(repo, audio.NewLoader(dec, audioCache, -1), enc, resolver, st, opts...)

	return &harness{
		svc:      svc,
		repo:     repo,
		decoder:  dec,
		encoder:  enc,
		cache:    durations,
		clips:    audioCache,
		outDir:   st.OutputDir(),
		messages: &messageLog{},
	}
}

func (h *harness) run(t *testing.T, ctx context.Context, input SpliceInput) (*Job, Result) {
	t.Helper()
	created, err := h.svc.CreateJob(context.Background(), input)
	require.NoError(t, err)

	res := h.svc.Run(ctx, created.ID, input, h.messages.reporter())

	final, err := h.svc.GetJob(context.Background(), created.ID)
	require.NoError(t, err)
	return final, res
}

func library3() map[string]clip {
	return map[string]clip{
		"/m/a one.mp3":     {marker: 1, ms: 1000},
		"/m/b.mp3":         {marker: 2, ms: 1000},
		"/m/c.flac":        {marker: 3, ms: 1000},
		"/m/countdown.mp3": {marker: 9, ms: 500},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSpliceService_CreateJob(t *testing.T) {
	h := newHarness(t, library3())
	ctx := context.Background()

	job, err := h.svc.CreateJob(ctx, SpliceInput{
		Files:     []string{"/m/b.mp3"},
		Mode:      library.OrderRandom,
		Countdown: "/m/countdown.mp3",
		Format:    ".WAV",
		PushToS3:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusInQueue, job.Status)
	assert.Equal(t, "wav", job.Format)
	assert.Equal(t, "/m/countdown.mp3", job.Countdown)
	assert.True(t, job.PushToS3)

	stored, err := h.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
}

func TestSpliceService_CreateJob_Validation(t *testing.T) {
	h := newHarness(t, library3())
	ctx := context.Background()

	_, err := h.svc.CreateJob(ctx, SpliceInput{})
	assert.ErrorIs(t, err, ErrNoFiles)

	_, err = h.svc.CreateJob(ctx, SpliceInput{Files: []string{"/m/b.mp3"}, Mode: "alphabetical"})
	assert.ErrorIs(t, err, library.ErrUnknownOrder)
}

func TestSpliceService_GetJob_NotFound(t *testing.T) {
	h := newHarness(t, library3())
	_, err := h.svc.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSpliceService_Run_SequentialWithCountdown(t *testing.T) {
	h := newHarness(t, library3())

	job, res := h.run(t, context.Background(), SpliceInput{
		Files:     []string{"/m/a one.mp3", "/m/b.mp3", "/m/c.flac"},
		Mode:      library.OrderSequential,
		Countdown: "/m/countdown.mp3",
	})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 3, job.LoadedCount())

	// a, countdown, b, countdown, c
	out := h.encoder.exported
	require.NotNil(t, out)
	assert.Equal(t, int64(4000), out.LengthMs())
	for _, probe := range []struct {
		at   int
		want int16
	}{
		{0, 1}, {999, 1}, {1000, 9}, {1499, 9}, {1500, 2}, {2499, 2}, {2500, 9}, {3000, 3}, {3999, 3},
	} {
		assert.Equal(t, probe.want, out.Samples[probe.at], "sample %d", probe.at)
	}

	assert.Equal(t, filepath.Join(h.outDir, "spliced.mp3"), job.OutputPath)
	assert.Equal(t, filepath.Join(h.outDir, "playlist.txt"), job.PlaylistPath)
	assert.Equal(t, 4.0, job.TotalDuration)
	assert.Equal(t, "Splice order:\n\na\nb\nc\n", readFile(t, job.PlaylistPath))

	assert.Equal(t, res.Message, job.Message)
	assert.Contains(t, res.Message, "Total duration: 0:00:04")
	assert.Contains(t, res.Message, "Output: "+job.OutputPath)
	assert.Contains(t, res.Message, "Playlist: "+job.PlaylistPath)

	statuses := h.messages.Statuses()
	assert.Contains(t, statuses, "Using the given track order")
	assert.Contains(t, statuses, "Countdown loaded: countdown.mp3")
	assert.Contains(t, statuses, "Fewer than 50 segments, merging serially")
	assert.Equal(t, statuses, job.Messages)
}

func TestSpliceService_Run_SkipsUndecodableFiles(t *testing.T) {
	h := newHarness(t, library3())

	job, res := h.run(t, context.Background(), SpliceInput{
		Files:     []string{"/m/a one.mp3", "/m/broken.mp3", "/m/c.flac"},
		Countdown: "/m/countdown.mp3",
	})

	require.True(t, res.Success, res.Message)
	require.Len(t, job.Tracks, 3)
	assert.Equal(t, TrackStatusLoaded, job.Tracks[0].Status)
	assert.Equal(t, TrackStatusSkipped, job.Tracks[1].Status)
	assert.Contains(t, job.Tracks[1].Error, "unsupported format")
	assert.Equal(t, TrackStatusLoaded, job.Tracks[2].Status)

	// The countdown sits only between the two surviving tracks.
	assert.Equal(t, int64(2500), h.encoder.exported.LengthMs())
	assert.Equal(t, "Splice order:\n\na\nc\n", readFile(t, job.PlaylistPath))

	var failed bool
	for _, m := range job.Messages {
		if strings.HasPrefix(m, "Failed to load broken.mp3") {
			failed = true
		}
	}
	assert.True(t, failed, "expected a status message for the skipped file")
}

func TestSpliceService_Run_MissingCountdownIsIgnored(t *testing.T) {
	h := newHarness(t, library3())

	job, res := h.run(t, context.Background(), SpliceInput{
		Files:     []string{"/m/a one.mp3", "/m/b.mp3"},
		Countdown: "/m/nope.mp3",
	})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, int64(2000), h.encoder.exported.LengthMs())
	assert.Contains(t, job.Messages[0], "Failed to load countdown nope.mp3")
}

func TestSpliceService_Run_NothingSpliced(t *testing.T) {
	h := newHarness(t, library3())

	job, res := h.run(t, context.Background(), SpliceInput{
		Files: []string{"/m/x.mp3", "/m/y.mp3"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, "No audio file could be spliced", res.Message)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Nil(t, h.encoder.exported)
	assert.Empty(t, job.OutputPath)
}

func TestSpliceService_Run_MergeFailureFallsBackToSerial(t *testing.T) {
	h := newHarness(t, library3())
	h.svc.merge = func(context.Context, *merge.Scheduler, []*audio.Buffer) (*audio.Buffer, error) {
		return nil, errors.New("worker crashed")
	}

	job, res := h.run(t, context.Background(), SpliceInput{
		Files:     []string{"/m/a one.mp3", "/m/b.mp3", "/m/c.flac"},
		Countdown: "/m/countdown.mp3",
	})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, int64(4000), h.encoder.exported.LengthMs())
	assert.Equal(t, int16(3), h.encoder.exported.Samples[3999])
	assert.Contains(t, job.Messages, "Parallel merge failed, falling back to serial merge: worker crashed")
}

func TestSpliceService_Run_ParallelMergeMatchesSerial(t *testing.T) {
	clips := make(map[string]clip)
	var files []string
	for i := 0; i < 60; i++ {
		path := fmt.Sprintf("/lib/%02d.mp3", i)
		clips[path] = clip{marker: int16(i), ms: 100}
		files = append(files, path)
	}

	parallel := newHarness(t, clips, WithScheduler(merge.Scheduler{Workers: 4, MinSegments: 10, Parallel: true}))
	serial := newHarness(t, clips, WithScheduler(merge.Scheduler{Parallel: false}))

	_, res := parallel.run(t, context.Background(), SpliceInput{Files: files})
	require.True(t, res.Success, res.Message)
	_, res = serial.run(t, context.Background(), SpliceInput{Files: files})
	require.True(t, res.Success, res.Message)

	assert.Equal(t, serial.encoder.exported.Samples, parallel.encoder.exported.Samples)
	assert.Equal(t, int16(59), parallel.encoder.exported.Samples[5999])
}

func TestSpliceService_Run_ExportFailureRemovesOutput(t *testing.T) {
	h := newHarness(t, library3())
	h.encoder.err = errors.New("ffmpeg exited with status 1")

	job, res := h.run(t, context.Background(), SpliceInput{
		Files: []string{"/m/a one.mp3", "/m/b.mp3"},
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "export")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, res.Message, job.Error)

	_, err := os.Stat(filepath.Join(h.outDir, "spliced.mp3"))
	assert.True(t, os.IsNotExist(err), "partial output must be removed")
}

func TestSpliceService_Run_UniqueOutputNames(t *testing.T) {
	h := newHarness(t, library3())
	input := SpliceInput{Files: []string{"/m/b.mp3"}, Format: "wav", OutputName: "mix"}

	first, res := h.run(t, context.Background(), input)
	require.True(t, res.Success, res.Message)
	second, res := h.run(t, context.Background(), input)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, filepath.Join(h.outDir, "mix.wav"), first.OutputPath)
	assert.Equal(t, filepath.Join(h.outDir, "mix_1.wav"), second.OutputPath)
	assert.Equal(t, filepath.Join(h.outDir, "playlist_1.txt"), second.PlaylistPath)
}

func TestSpliceService_Run_RandomKeepsEveryTrack(t *testing.T) {
	h := newHarness(t, library3())

	job, res := h.run(t, context.Background(), SpliceInput{
		Files: []string{"/m/a one.mp3", "/m/b.mp3", "/m/c.flac"},
		Mode:  library.OrderRandom,
	})
	require.True(t, res.Success, res.Message)

	var paths []string
	for _, tr := range job.Tracks {
		paths = append(paths, tr.Path)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"/m/a one.mp3", "/m/b.mp3", "/m/c.flac"}, paths)
	assert.Contains(t, job.Messages, "Tracks shuffled")
}

func TestSpliceService_Run_S3NotConfigured(t *testing.T) {
	h := newHarness(t, library3())

	job, res := h.run(t, context.Background(), SpliceInput{
		Files:    []string{"/m/b.mp3"},
		PushToS3: true,
	})

	assert.False(t, res.Success)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, storage.ErrS3NotConfigured.Error())
}

func TestSpliceService_Run_Cancelled(t *testing.T) {
	h := newHarness(t, library3())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, res := h.run(t, ctx, SpliceInput{Files: []string{"/m/b.mp3"}})

	assert.False(t, res.Success)
	assert.Equal(t, "Splice cancelled", res.Message)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Nil(t, h.encoder.exported)
}

func TestSpliceService_Run_UnknownJob(t *testing.T) {
	h := newHarness(t, library3())
	res := h.svc.Run(context.Background(), "missing", SpliceInput{}, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "missing")
}

func TestSpliceService_Run_CachesAudioAndDurations(t *testing.T) {
	h := newHarness(t, library3())
	input := SpliceInput{Files: []string{"/m/a one.mp3", "/m/b.mp3"}}

	job, res := h.run(t, context.Background(), input)
	require.True(t, res.Success, res.Message)
	for _, tr := range job.Tracks {
		assert.False(t, tr.Cached)
	}

	got, ok := h.cache.Get("b.mp3")
	require.True(t, ok)
	assert.Equal(t, 1.0, got)

	job, res = h.run(t, context.Background(), input)
	require.True(t, res.Success, res.Message)
	for _, tr := range job.Tracks {
		assert.True(t, tr.Cached)
	}
	assert.Equal(t, 1, h.decoder.Calls("/m/b.mp3"))
}

func TestSpliceService_Splice(t *testing.T) {
	h := newHarness(t, library3())

	job, res, err := h.svc.Splice(context.Background(), SpliceInput{Files: []string{"/m/b.mp3"}}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StatusCompleted, job.Status)

	_, _, err = h.svc.Splice(context.Background(), SpliceInput{}, nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestSpliceService_Preload(t *testing.T) {
	h := newHarness(t, library3())
	files := []string{"/m/a one.mp3", "/m/b.mp3", "/m/c.flac", "/m/bad.mp3"}

	res := h.svc.Preload(context.Background(), files, h.messages.reporter())

	assert.Equal(t, PreloadResult{Succeeded: 3, Failed: 1}, res)
	assert.Equal(t, 3, h.clips.Len())
	assert.True(t, h.cache.Contains("c.flac"))
	assert.False(t, h.cache.Contains("bad.mp3"))

	h.messages.mu.Lock()
	percents := append([]int(nil), h.messages.percents...)
	h.messages.mu.Unlock()
	require.NotEmpty(t, percents)
	assert.Equal(t, 50, percents[len(percents)-1])

	reopened := durationcache.Open(h.cache.Path(), time.Hour, durationcache.WithLogger(discard))
	assert.Equal(t, 3, reopened.Len())
}

func TestSpliceService_DurationsAndEstimate(t *testing.T) {
	h := newHarness(t, library3())
	ctx := context.Background()

	got := h.svc.Durations(ctx, []string{"/m/a one.mp3", "/m/bad.mp3", "/m/countdown.mp3"}, nil)
	assert.Equal(t, []float64{1, 0, 0.5}, got)

	total := h.svc.Estimate(ctx, []string{"/m/a one.mp3", "/m/b.mp3", "/m/c.flac"}, "/m/countdown.mp3")
	assert.Equal(t, 4.0, total)

	_, err := os.Stat(h.cache.Path())
	assert.NoError(t, err, "snapshot must be saved")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00:00"},
		{4.9, "0:00:04"},
		{61, "0:01:01"},
		{3725, "1:02:05"},
		{90000, "25:00:00"},
		{-3, "0:00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.seconds), "seconds=%v", tt.seconds)
	}
}

func TestDeleteJob(t *testing.T) {
	h := newHarness(t, library3())
	input := SpliceInput{Files: []string{"/m/a one.mp3", "/m/b.mp3"}, Mode: library.OrderSequential}

	final, res := h.run(t, context.Background(), input)
	require.True(t, res.Success, res.Message)
	require.FileExists(t, final.OutputPath)
	require.FileExists(t, final.PlaylistPath)

	require.NoError(t, h.svc.DeleteJob(context.Background(), final.ID))

	assert.NoFileExists(t, final.OutputPath)
	assert.NoFileExists(t, final.PlaylistPath)
	_, err := h.svc.GetJob(context.Background(), final.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, h.svc.DeleteJob(context.Background(), final.ID), ErrJobNotFound)
}

func TestDeleteJob_Running(t *testing.T) {
	h := newHarness(t, library3())
	created, err := h.svc.CreateJob(context.Background(), SpliceInput{Files: []string{"/m/b.mp3"}})
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.DeleteJob(context.Background(), created.ID), ErrJobRunning)
}

func TestListAndPruneJobs(t *testing.T) {
	h := newHarness(t, library3())
	ctx := context.Background()

	finished, res := h.run(t, ctx, SpliceInput{Files: []string{"/m/b.mp3"}})
	require.True(t, res.Success, res.Message)
	queued, err := h.svc.CreateJob(ctx, SpliceInput{Files: []string{"/m/c.flac"}})
	require.NoError(t, err)

	all, err := h.svc.ListJobs(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	done, err := h.svc.ListJobs(ctx, Filter{Status: StatusCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, finished.ID, done[0].ID)

	n, err := h.svc.PruneJobs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.svc.PruneJobs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := h.svc.ListJobs(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, queued.ID, left[0].ID)
	assert.FileExists(t, finished.OutputPath)
}
