package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Static errors for ffmpeg operations.
var (
	// ErrNoAudio is returned when ffmpeg succeeds but produces no samples.
	ErrNoAudio = errors.New("audio: no samples decoded")
	// ErrEmptyPath is returned when an empty path is passed to the codec.
	ErrEmptyPath = errors.New("audio: empty path")
)

// FFmpegCodec implements Codec using the ffmpeg CLI. Decoding resamples every
// input to the configured rate and channel layout so that decoded buffers can
// always be concatenated.
type FFmpegCodec struct {
	ffmpegPath string
	opts       CodecOpts
}

// NewFFmpegCodec creates a new FFmpegCodec.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegCodec(ffmpegPath string, opts CodecOpts) *FFmpegCodec {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	defaults := DefaultCodecOpts()
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaults.SampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = defaults.Channels
	}
	return &FFmpegCodec{ffmpegPath: ffmpegPath, opts: opts}
}

// Opts returns the decode layout.
func (c *FFmpegCodec) Opts() CodecOpts {
	return c.opts
}

// Decode implements Decoder by piping s16le PCM out of ffmpeg.
func (c *FFmpegCodec) Decode(ctx context.Context, path string) (*Buffer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}

	args := []string{
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(c.opts.SampleRate),
		"-ac", strconv.Itoa(c.opts.Channels),
		"pipe:1",
	}

	var stdout bytes.Buffer
	if err := c.run(ctx, args, nil, &stdout); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	samples := BytesToSamples(stdout.Bytes())
	if len(samples) < c.opts.Channels {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), ErrNoAudio)
	}
	// Drop a partial trailing frame.
	samples = samples[:len(samples)-len(samples)%c.opts.Channels]

	return NewBuffer(c.opts.SampleRate, c.opts.Channels, samples), nil
}

// Export implements Encoder by feeding s16le PCM to ffmpeg on stdin.
func (c *FFmpegCodec) Export(ctx context.Context, buf *Buffer, path, format string) error {
	if buf == nil {
		return ErrNilBuffer
	}
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	if format == "" {
		format = FormatMP3
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	args := []string{
		"-v", "error",
		"-y", // Overwrite output
		"-f", "s16le",
		"-ar", strconv.Itoa(buf.SampleRate),
		"-ac", strconv.Itoa(buf.Channels),
		"-i", "pipe:0",
		"-f", format,
		path,
	}

	return c.run(ctx, args, bytes.NewReader(buf.Bytes()), nil)
}

// run executes ffmpeg and returns an error containing stderr output if the
// command fails.
func (c *FFmpegCodec) run(ctx context.Context, args []string, stdin *bytes.Reader, stdout *bytes.Buffer) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, strings.TrimSpace(e.Stderr))
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Verify interface implementation at compile time.
var _ Codec = (*FFmpegCodec)(nil)
