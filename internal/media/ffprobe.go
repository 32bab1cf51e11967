package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for ffprobe operations.
var (
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoDuration is returned when ffprobe reports no usable duration.
	ErrNoDuration = errors.New("ffprobe reported no duration")
	// ErrEmptyPath is returned when an empty path is probed.
	ErrEmptyPath = errors.New("ffprobe: empty path")
	// ErrNoAudioStream is returned for containers without an audio stream.
	ErrNoAudioStream = errors.New("ffprobe found no audio stream")
)

// Result is the parsed ffprobe output.
type Result struct {
	Format  Format   `json:"format"`
	Streams []Stream `json:"streams"`
}

// Format holds container-level metadata.
type Format struct {
	Filename   string            `json:"filename"`
	NBStreams  int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// Stream describes one stream of the container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Duration   string `json:"duration"`
}

// DurationSeconds parses format.duration.
func (r Result) DurationSeconds() (float64, error) {
	raw := strings.TrimSpace(r.Format.Duration)
	if raw == "" {
		return 0, ErrNoDuration
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoDuration, raw)
	}
	return d, nil
}

// AudioStreamCount returns the number of audio streams.
func (r Result) AudioStreamCount() int {
	count := 0
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, "audio") {
			count++
		}
	}
	return count
}

// FFprobe implements Prober using the ffprobe CLI.
type FFprobe struct {
	binary string
}

// NewFFprobe creates a prober. An empty binary defaults to "ffprobe" on PATH.
func NewFFprobe(binary string) *FFprobe {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFprobe{binary: binary}
}

// Inspect runs ffprobe on path and decodes its JSON report.
func (p *FFprobe) Inspect(ctx context.Context, path string) (Result, error) {
	if strings.TrimSpace(path) == "" {
		return Result{}, ErrEmptyPath
	}

	// #nosec G204 - binary is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Result{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return Result{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return result, nil
}

// Duration implements Prober. Files without an audio stream are rejected
// even when the container reports a duration.
func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	result, err := p.Inspect(ctx, path)
	if err != nil {
		return 0, err
	}
	if result.AudioStreamCount() == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoAudioStream, path)
	}
	return result.DurationSeconds()
}

// Verify interface implementation at compile time.
var _ Prober = (*FFprobe)(nil)
