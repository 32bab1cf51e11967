package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/audiosplicer/internal/job"
	"github.com/maauso/audiosplicer/internal/library"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.SpliceService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	jobCtx             context.Context
	running            sync.WaitGroup
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateSplice only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithJobContext sets the context background splices run under. Cancelling
// it cancels every running splice.
func WithJobContext(ctx context.Context) HandlerOption {
	return func(h *Handlers) {
		h.jobCtx = ctx
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.SpliceService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Wait blocks until every background splice has returned.
func (h *Handlers) Wait() {
	h.running.Wait()
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateSplice handles POST /splices requests.
func (h *Handlers) CreateSplice(w http.ResponseWriter, r *http.Request) {
	var req CreateSpliceRequest
	if !h.decode(w, r, &req) {
		return
	}

	files, countdown, err := library.Selection{
		Files:         req.Files,
		Directory:     req.Directory,
		Recursive:     req.Recursive,
		Countdown:     req.Countdown,
		AutoCountdown: req.AutoCountdown,
	}.Resolve()
	if err != nil {
		h.logger.Warn("failed to scan directory",
			slog.String("directory", req.Directory),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_DIRECTORY")
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no audio files found", "NO_FILES")
		return
	}

	input := job.SpliceInput{
		Files:      files,
		Mode:       req.Mode,
		Countdown:  countdown,
		Format:     req.Format,
		OutputName: req.OutputName,
		PushToS3:   req.PushToS3,
	}

	// Create job first (synchronously)
	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		if errors.Is(err, job.ErrNoFiles) || errors.Is(err, library.ErrUnknownOrder) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// Start processing in background with a detached context
	if h.enableAsyncProcess {
		ctx := h.jobCtx
		if ctx == nil {
			ctx = context.WithoutCancel(r.Context())
		}
		h.running.Add(1)
		go func(ctx context.Context, jobID string, inp job.SpliceInput) {
			defer h.running.Done()
			res := h.service.Run(ctx, jobID, inp, nil)
			if !res.Success {
				h.logger.Error("background splice failed",
					slog.String("job_id", jobID),
					slog.String("error", res.Message),
				)
			}
		}(ctx, createdJob.ID, input)
	}

	h.logger.Info("splice job created",
		slog.String("job_id", createdJob.ID),
		slog.Int("files", len(files)),
		slog.String("mode", req.Mode),
	)

	writeJSON(w, http.StatusAccepted, CreateSpliceResponse{
		ID:        createdJob.ID,
		Status:    string(createdJob.Status),
		Files:     len(files),
		Countdown: countdown,
	})
}

// GetSplice handles GET /splices/{id} requests.
func (h *Handlers) GetSplice(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSpliceResponse(found))
}

// defaultListLimit caps GET /splices when no limit is given.
const defaultListLimit = 50

// ListSplices handles GET /splices requests.
func (h *Handlers) ListSplices(w http.ResponseWriter, r *http.Request) {
	q := ListSplicesQuery{
		Status: r.URL.Query().Get("status"),
		Limit:  defaultListLimit,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer", "VALIDATION_ERROR")
			return
		}
		q.Limit = n
	}
	if err := h.validator.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	jobs, err := h.service.ListJobs(r.Context(), job.Filter{Status: job.Status(q.Status), Limit: q.Limit})
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListSplicesResponse{Splices: make([]SpliceSummary, 0, len(jobs)), Count: len(jobs)}
	for _, j := range jobs {
		summary := SpliceSummary{
			ID:            j.ID,
			Status:        string(j.Status),
			Progress:      j.Progress,
			Tracks:        len(j.Tracks),
			Loaded:        j.LoadedCount(),
			TotalDuration: j.TotalDuration,
			CreatedAt:     j.CreatedAt,
		}
		if !j.CompletedAt.IsZero() {
			completed := j.CompletedAt
			summary.CompletedAt = &completed
		}
		resp.Splices = append(resp.Splices, summary)
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteSplice handles DELETE /splices/{id} requests. The job's output and
// playlist are removed with it.
func (h *Handlers) DeleteSplice(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	err := h.service.DeleteJob(r.Context(), jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrJobRunning):
		writeError(w, http.StatusConflict, "job is still running", "JOB_RUNNING")
	default:
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
	}
}

// DownloadOutput handles GET /splices/{id}/output requests.
func (h *Handlers) DownloadOutput(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	h.serveArtifact(w, r, found, found.OutputPath)
}

// DownloadPlaylist handles GET /splices/{id}/playlist requests.
func (h *Handlers) DownloadPlaylist(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	h.serveArtifact(w, r, found, found.PlaylistPath)
}

func (h *Handlers) serveArtifact(w http.ResponseWriter, r *http.Request, j *job.Job, path string) {
	if j.Status != job.StatusCompleted || path == "" {
		writeError(w, http.StatusConflict, "splice has no such output", "NOT_READY")
		return
	}
	if _, err := os.Stat(path); err != nil {
		h.logger.Error("splice output missing",
			slog.String("job_id", j.ID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusGone, "output file is no longer available", "OUTPUT_MISSING")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeFile(w, r, path)
}

func (h *Handlers) findJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return nil, false
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return nil, false
	}
	return found, true
}

func toSpliceResponse(j *job.Job) SpliceResponse {
	resp := SpliceResponse{
		ID:            j.ID,
		Status:        string(j.Status),
		Progress:      j.Progress,
		Message:       j.Message,
		Error:         j.Error,
		Messages:      j.Messages,
		Tracks:        make([]TrackResponse, 0, len(j.Tracks)),
		OutputPath:    j.OutputPath,
		PlaylistPath:  j.PlaylistPath,
		OutputURL:     j.OutputURL,
		PlaylistURL:   j.PlaylistURL,
		TotalDuration: j.TotalDuration,
		CreatedAt:     j.CreatedAt,
	}
	for _, t := range j.Tracks {
		resp.Tracks = append(resp.Tracks, TrackResponse{
			Index:    t.Index,
			Name:     t.Name,
			Status:   string(t.Status),
			Cached:   t.Cached,
			Duration: t.Duration,
			Error:    t.Error,
		})
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	if j.Status == job.StatusCompleted && j.OutputPath != "" {
		if info, err := os.Stat(j.OutputPath); err == nil {
			resp.OutputSize = humanize.Bytes(uint64(info.Size())) // #nosec G115 - file sizes are non-negative
		}
	}
	return resp
}

// Durations handles POST /durations requests.
func (h *Handlers) Durations(w http.ResponseWriter, r *http.Request) {
	var req DurationsRequest
	if !h.decode(w, r, &req) {
		return
	}

	seconds := h.service.Durations(r.Context(), req.Files, nil)
	resp := DurationsResponse{Durations: make([]FileDuration, len(req.Files))}
	for i, f := range req.Files {
		resp.Durations[i] = FileDuration{
			File:      f,
			Seconds:   seconds[i],
			Formatted: job.FormatDuration(seconds[i]),
		}
	}
	resp.Estimate = h.service.Estimate(r.Context(), req.Files, req.Countdown)
	resp.EstimateFormatted = job.FormatDuration(resp.Estimate)

	writeJSON(w, http.StatusOK, resp)
}

// decode reads and validates a JSON body, writing the error response on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	// Validate request
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
