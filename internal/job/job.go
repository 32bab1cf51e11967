// Package job provides the splice Job aggregate, its repository and the
// SpliceService that turns a list of audio files into one continuous track.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/audiosplicer/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job was accepted and has not started.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is loading, merging or exporting.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the output file was written.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job produced no output.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was stopped before finishing.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// MaxMessages bounds the status log kept on a job.
const MaxMessages = 200

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// TrackStatus represents what happened to one input file.
type TrackStatus string

const (
	// TrackStatusPending indicates the track has not been loaded yet.
	TrackStatusPending TrackStatus = "PENDING"
	// TrackStatusLoaded indicates the track was decoded and will be spliced.
	TrackStatusLoaded TrackStatus = "LOADED"
	// TrackStatusSkipped indicates the track could not be decoded.
	TrackStatusSkipped TrackStatus = "SKIPPED"
)

// Track is one input file of a splice job, in splice order.
type Track struct {
	// Index is the position of the track in the splice order.
	Index int
	// Path is the absolute input path.
	Path string
	// Name is the display name written to the playlist.
	Name string
	// Status is the load outcome.
	Status TrackStatus
	// Cached is true when the decoded audio came from the audio cache.
	Cached bool
	// Duration is the decoded length in seconds.
	Duration float64
	// Error contains the load error for skipped tracks.
	Error string
}

// Job represents a splice job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Mode is the ordering mode, random or sequential.
	Mode string
	// Countdown is the optional countdown file played between tracks.
	Countdown string
	// Format is the export container format.
	Format string
	// Tracks lists the input files in splice order.
	Tracks []Track
	// Progress is the percentage of completion (0-100).
	Progress int
	// Messages is the status log, oldest first, capped at MaxMessages.
	Messages []string
	// Message is the final human readable outcome.
	Message string
	// Error contains any error message if the job failed.
	Error string
	// OutputPath is the local path of the spliced file.
	OutputPath string
	// PlaylistPath is the local path of the playlist file.
	PlaylistPath string
	// PushToS3 indicates whether to upload the results to S3.
	PushToS3 bool
	// OutputURL is the S3 URL of the spliced file if PushToS3 was true.
	OutputURL string
	// PlaylistURL is the S3 URL of the playlist if PushToS3 was true.
	PlaylistURL string
	// TotalDuration is the length of the spliced output in seconds.
	TotalDuration float64
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Tracks:    make([]Track, 0),
		Messages:  make([]string, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	// Set timestamps based on state
	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete records the outcome message and transitions to COMPLETED.
func (j *Job) Complete(message string) error {
	if err := j.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	j.mu.Lock()
	j.Message = message
	j.Progress = 100
	j.mu.Unlock()
	return nil
}

// Fail records errMsg and transitions to FAILED.
func (j *Job) Fail(errMsg string) error {
	if err := j.TransitionTo(StatusFailed); err != nil {
		return err
	}
	j.mu.Lock()
	j.Error = errMsg
	j.Message = errMsg
	j.mu.Unlock()
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetTracks sets the tracks for this job.
func (j *Job) SetTracks(tracks []Track) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Tracks = tracks
	j.UpdatedAt = time.Now()
}

// UpdateTrack updates a specific track by index.
func (j *Job) UpdateTrack(index int, track Track) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index >= 0 && index < len(j.Tracks) {
		j.Tracks[index] = track
		j.UpdatedAt = time.Now()
	}
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// AddMessage appends to the status log, dropping the oldest entry when full.
func (j *Job) AddMessage(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.Messages) >= MaxMessages {
		j.Messages = append(j.Messages[:0:0], j.Messages[len(j.Messages)-MaxMessages+1:]...)
	}
	j.Messages = append(j.Messages, msg)
	j.UpdatedAt = time.Now()
}

// SetOutput sets the local output and playlist paths and the total length.
func (j *Job) SetOutput(outputPath, playlistPath string, totalDuration float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = outputPath
	j.PlaylistPath = playlistPath
	j.TotalDuration = totalDuration
	j.UpdatedAt = time.Now()
}

// SetURLs sets the S3 URLs of the output and playlist.
func (j *Job) SetURLs(outputURL, playlistURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputURL = outputURL
	j.PlaylistURL = playlistURL
	j.UpdatedAt = time.Now()
}

// LoadedCount returns how many tracks were loaded.
func (j *Job) LoadedCount() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := 0
	for _, t := range j.Tracks {
		if t.Status == TrackStatusLoaded {
			n++
		}
	}
	return n
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	tracks := make([]Track, len(j.Tracks))
	copy(tracks, j.Tracks)
	messages := make([]string, len(j.Messages))
	copy(messages, j.Messages)

	return &Job{
		ID:            j.ID,
		Status:        j.Status,
		Mode:          j.Mode,
		Countdown:     j.Countdown,
		Format:        j.Format,
		Tracks:        tracks,
		Progress:      j.Progress,
		Messages:      messages,
		Message:       j.Message,
		Error:         j.Error,
		OutputPath:    j.OutputPath,
		PlaylistPath:  j.PlaylistPath,
		PushToS3:      j.PushToS3,
		OutputURL:     j.OutputURL,
		PlaylistURL:   j.PlaylistURL,
		TotalDuration: j.TotalDuration,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}
