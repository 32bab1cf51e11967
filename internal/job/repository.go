package job

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning is returned when removing a job that has not finished.
	ErrJobRunning = errors.New("job is still running")
)

// Filter narrows the jobs returned by List. The zero Filter matches every job.
type Filter struct {
	// Status keeps only jobs in this state when set.
	Status Status
	// Limit caps the number of jobs returned when positive.
	Limit int
}

func (f Filter) matches(j *Job) bool {
	return f.Status == "" || j.Status == f.Status
}

// Repository stores splice jobs. Implementations hand out copies, so
// callers save a job again after changing it.
type Repository interface {
	// Save inserts or replaces job.
	Save(ctx context.Context, job *Job) error

	// FindByID returns ErrJobNotFound for an unknown id.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns the jobs matching filter, newest first.
	List(ctx context.Context, filter Filter) ([]*Job, error)

	// Delete returns ErrJobNotFound for an unknown id.
	Delete(ctx context.Context, id string) error

	// DeleteFinishedBefore removes the terminal jobs that completed before
	// cutoff and returns them.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]*Job, error)
}
