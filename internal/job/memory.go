package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps jobs in a map for the lifetime of the process.
// Stored jobs are clones, so callers can keep mutating the job they saved.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]*Job),
	}
}

// Save implements Repository.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	clone := job.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[clone.ID] = clone
	return nil
}

// FindByID implements Repository.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List implements Repository. Jobs created at the same instant are ordered
// by ID.
func (r *MemoryRepository) List(_ context.Context, filter Filter) ([]*Job, error) {
	r.mu.RLock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if filter.matches(job) {
			result = append(result, job.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.After(result[k].CreatedAt)
		}
		return result[i].ID < result[k].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}

// DeleteFinishedBefore implements Repository.
func (r *MemoryRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Job
	for id, job := range r.jobs {
		if job.IsTerminal() && job.CompletedAt.Before(cutoff) {
			removed = append(removed, job)
			delete(r.jobs, id)
		}
	}
	return removed, nil
}

// Len returns the number of stored jobs.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
