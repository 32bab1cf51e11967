// Package server provides the HTTP server for the audio splicer API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateSpliceRequest is the HTTP request body for creating a splice job.
// Either Files or Directory must be given.
type CreateSpliceRequest struct {
	// Files are the input paths, in order for sequential mode.
	Files []string `json:"files" validate:"required_without=Directory,dive,required"`
	// Directory is scanned for audio files when Files is empty.
	Directory string `json:"directory" validate:"required_without=Files"`
	// Recursive includes subdirectories of Directory.
	Recursive bool `json:"recursive"`
	// Mode is "random" or "sequential". Empty means sequential.
	Mode string `json:"mode" validate:"omitempty,oneof=random sequential"`
	// Countdown is an optional file played between tracks.
	Countdown string `json:"countdown"`
	// AutoCountdown looks for a countdown track in Directory when Countdown is empty.
	AutoCountdown bool `json:"auto_countdown"`
	// Format is the output container format. Empty uses the server default.
	Format string `json:"format" validate:"omitempty,oneof=mp3 wav ogg flac"`
	// OutputName is the base name of the output file.
	OutputName string `json:"output_name" validate:"omitempty,max=128,excludesall=/\\"`
	// PushToS3 indicates whether to upload the output and playlist to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateSpliceResponse is the HTTP response after creating a splice job.
type CreateSpliceResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
	// Files is the number of input files.
	Files int `json:"files"`
	// Countdown is the countdown track used, if any.
	Countdown string `json:"countdown,omitempty"`
}

// TrackResponse describes one input file of a splice job.
type TrackResponse struct {
	Index    int     `json:"index"`
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Cached   bool    `json:"cached"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error,omitempty"`
}

// SpliceResponse is the HTTP response for getting splice job details.
type SpliceResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Message is the final outcome message.
	Message string `json:"message,omitempty"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`
	// Messages is the status log, oldest first.
	Messages []string `json:"messages"`
	// Tracks lists the input files in splice order.
	Tracks []TrackResponse `json:"tracks"`
	// OutputPath is the local path of the spliced file.
	OutputPath string `json:"output_path,omitempty"`
	// OutputSize is the human readable size of the spliced file.
	OutputSize string `json:"output_size,omitempty"`
	// PlaylistPath is the local path of the playlist.
	PlaylistPath string `json:"playlist_path,omitempty"`
	// OutputURL is the S3 URL of the spliced file.
	OutputURL string `json:"output_url,omitempty"`
	// PlaylistURL is the S3 URL of the playlist.
	PlaylistURL string `json:"playlist_url,omitempty"`
	// TotalDuration is the output length in seconds.
	TotalDuration float64 `json:"total_duration,omitempty"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the job finished.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListSplicesQuery holds the query parameters of GET /splices.
type ListSplicesQuery struct {
	Status string `validate:"omitempty,oneof=IN_QUEUE RUNNING COMPLETED FAILED CANCELLED"`
	Limit  int    `validate:"min=1,max=500"`
}

// SpliceSummary is one entry of a splice listing.
type SpliceSummary struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	Tracks        int        `json:"tracks"`
	Loaded        int        `json:"loaded"`
	TotalDuration float64    `json:"total_duration,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ListSplicesResponse is the HTTP response for listing splice jobs.
type ListSplicesResponse struct {
	Splices []SpliceSummary `json:"splices"`
	Count   int             `json:"count"`
}

// DurationsRequest is the HTTP request body for a duration lookup.
type DurationsRequest struct {
	// Files are the paths to measure.
	Files []string `json:"files" validate:"required,min=1,dive,required"`
	// Countdown is included between tracks in the estimate when set.
	Countdown string `json:"countdown"`
}

// FileDuration is the duration of one file. Zero means it could not be measured.
type FileDuration struct {
	File      string  `json:"file"`
	Seconds   float64 `json:"seconds"`
	Formatted string  `json:"formatted"`
}

// DurationsResponse is the HTTP response for a duration lookup.
type DurationsResponse struct {
	Durations []FileDuration `json:"durations"`
	// Estimate is the expected splice length including countdowns.
	Estimate float64 `json:"estimate"`
	// EstimateFormatted is Estimate as H:MM:SS.
	EstimateFormatted string `json:"estimate_formatted"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
