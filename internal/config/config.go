// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/sethvargo/go-envconfig"
)

// ErrInvalid is returned when a configuration value fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Log formats accepted by LOG_FORMAT.
const (
	LogFormatText    = "text"
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port         int           `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	JobRetention time.Duration `env:"JOB_RETENTION, default=24h" json:"job_retention" validate:"gte=0"`

	// Storage settings
	OutputDir  string `env:"OUTPUT_DIR, default=./output" json:"output_dir" validate:"required"`
	LibraryDir string `env:"LIBRARY_DIR" json:"library_dir,omitempty"`

	// Duration cache settings
	DurationCachePath string        `env:"DURATION_CACHE_PATH, default=duration_cache.json" json:"duration_cache_path" validate:"required"`
	DurationCacheTTL  time.Duration `env:"DURATION_CACHE_TTL, default=720h" json:"duration_cache_ttl" validate:"gt=0"`

	// Processing settings
	AudioCacheCapacity int  `env:"AUDIO_CACHE_CAPACITY, default=100" json:"audio_cache_capacity" validate:"min=1"`
	FadeMs             int  `env:"FADE_MS, default=2000" json:"fade_ms" validate:"min=0"`
	MergeWorkers       int  `env:"MERGE_WORKERS, default=8" json:"merge_workers" validate:"min=1"`
	MergeMinSegments   int  `env:"MERGE_MIN_SEGMENTS, default=50" json:"merge_min_segments" validate:"min=1"`
	MergeParallel      bool `env:"MERGE_PARALLEL, default=true" json:"merge_parallel"`
	ResolveWorkers     int  `env:"RESOLVE_WORKERS, default=4" json:"resolve_workers" validate:"min=1"`

	// Codec settings
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path" validate:"required"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path" validate:"required"`
	SampleRate  int    `env:"SAMPLE_RATE, default=44100" json:"sample_rate" validate:"min=8000,max=192000"`
	Channels    int    `env:"CHANNELS, default=2" json:"channels" validate:"oneof=1 2"`
	Format      string `env:"OUTPUT_FORMAT, default=mp3" json:"output_format" validate:"oneof=mp3 wav ogg flac"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json console"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"` // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Fade returns the fade length applied to each track.
func (c *Config) Fade() time.Duration {
	if c.FadeMs == 0 {
		return -1
	}
	return time.Duration(c.FadeMs) * time.Millisecond
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return LoadFrom(context.Background(), nil)
}

// LoadFrom reads configuration from lookuper, or the process environment
// when lookuper is nil.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every field against its validate tag.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if (c.S3Bucket == "") != (c.S3Region == "") {
		return fmt.Errorf("%w: S3_BUCKET and S3_REGION must be set together", ErrInvalid)
	}
	return nil
}

// NewLogger creates a structured logger writing to stdout.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo creates a structured logger based on the configuration.
// "json" outputs JSON logs suitable for production, "console" colored logs
// for terminals and anything else human-readable text logs.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	switch strings.ToLower(c.LogFormat) {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	case LogFormatConsole:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(w),
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, OutputDir: %s, LibraryDir: %s, DurationCachePath: %s, DurationCacheTTL: %s, AudioCacheCapacity: %d, FadeMs: %d, MergeWorkers: %d, MergeMinSegments: %d, MergeParallel: %t, ResolveWorkers: %d, S3Bucket: %s, S3Region: %s, AWSAccessKeyID: %s, AWSSecretAccessKey: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.OutputDir,
		c.LibraryDir,
		c.DurationCachePath,
		c.DurationCacheTTL,
		c.AudioCacheCapacity,
		c.FadeMs,
		c.MergeWorkers,
		c.MergeMinSegments,
		c.MergeParallel,
		c.ResolveWorkers,
		c.S3Bucket,
		c.S3Region,
		mask(c.AWSAccessKeyID),
		mask(c.AWSSecretAccessKey),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
