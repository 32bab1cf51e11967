package job

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func savedJob(t *testing.T, repo *MemoryRepository, id string, created time.Time) *Job {
	t.Helper()
	j := NewWithID(id)
	j.CreatedAt = created
	require.NoError(t, repo.Save(context.Background(), j))
	return j
}

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	j := New()
	j.SetTracks([]Track{{Index: 0, Path: "/m/a.mp3", Status: TrackStatusPending}})
	j.AddMessage("queued")
	require.NoError(t, repo.Save(ctx, j))

	// Later mutations of the saved job stay local until saved again.
	require.NoError(t, j.Start())
	j.UpdateTrack(0, Track{Index: 0, Path: "/m/a.mp3", Status: TrackStatusLoaded})
	j.AddMessage("loaded")

	stored, err := repo.FindByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInQueue, stored.Status)
	assert.Equal(t, TrackStatusPending, stored.Tracks[0].Status)
	assert.Equal(t, []string{"queued"}, stored.Messages)

	require.NoError(t, repo.Save(ctx, j))
	stored, err = repo.FindByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, stored.Status)
	assert.Equal(t, 1, stored.LoadedCount())

	// Found jobs are copies too.
	stored.Progress = 99
	again, _ := repo.FindByID(ctx, j.ID)
	assert.Zero(t, again.Progress)
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	_, err := NewMemoryRepository().FindByID(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryRepository_List(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	jobs, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	base := time.Unix(1_000, 0)
	savedJob(t, repo, "splice-old", base)
	savedJob(t, repo, "splice-b", base.Add(time.Minute))
	savedJob(t, repo, "splice-a", base.Add(time.Minute))
	done := savedJob(t, repo, "splice-new", base.Add(time.Hour))
	require.NoError(t, done.Start())
	require.NoError(t, done.Complete("ok"))
	require.NoError(t, repo.Save(ctx, done))

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"splice-new", "splice-a", "splice-b", "splice-old"}},
		{"limit", Filter{Limit: 2}, []string{"splice-new", "splice-a"}},
		{"status", Filter{Status: StatusInQueue}, []string{"splice-a", "splice-b", "splice-old"}},
		{"status and limit", Filter{Status: StatusCompleted, Limit: 5}, []string{"splice-new"}},
		{"no match", Filter{Status: StatusFailed}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(jobs))
			for _, j := range jobs {
				ids = append(ids, j.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	j := savedJob(t, repo, "splice-1", time.Now())

	require.NoError(t, repo.Delete(ctx, j.ID))
	_, err := repo.FindByID(ctx, j.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, j.ID), ErrJobNotFound)
}

func TestMemoryRepository_DeleteFinishedBefore(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	finish := func(id string, completed time.Time, fail bool) {
		j := NewWithID(id)
		require.NoError(t, j.Start())
		if fail {
			require.NoError(t, j.Fail("boom"))
		} else {
			require.NoError(t, j.Complete("ok"))
		}
		j.CompletedAt = completed
		require.NoError(t, repo.Save(ctx, j))
	}
	finish("old-done", now.Add(-48*time.Hour), false)
	finish("old-failed", now.Add(-25*time.Hour), true)
	finish("recent", now.Add(-time.Hour), false)
	running := NewWithID("running")
	require.NoError(t, running.Start())
	require.NoError(t, repo.Save(ctx, running))

	removed, err := repo.DeleteFinishedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)

	ids := make([]string, 0, len(removed))
	for _, j := range removed {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{"old-done", "old-failed"}, ids)
	assert.Equal(t, 2, repo.Len())
}

func TestMemoryRepository_ConcurrentAccess(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = repo.Save(ctx, NewWithID(fmt.Sprintf("splice-%d-%d", w, i)))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = repo.List(ctx, Filter{Limit: 10})
				_, _ = repo.DeleteFinishedBefore(ctx, time.Now())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, repo.Len())
}
