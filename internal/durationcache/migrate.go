package durationcache

import (
	"fmt"
	"log/slog"
	"time"
)

// MigrationReport summarises a snapshot rewrite.
type MigrationReport struct {
	// Original is the number of raw keys in the snapshot before migration.
	Original int `json:"original"`
	// Kept is the number of entries written back.
	Kept int `json:"kept"`
	// Duplicates is the number of entries merged into another with the same
	// file name.
	Duplicates int `json:"duplicates"`
	// Expired is the number of entries older than the TTL.
	Expired int `json:"expired"`
	// Invalid is the number of entries that could not be decoded.
	Invalid int `json:"invalid"`
}

// Migrate rewrites the snapshot at path in canonical form: legacy values are
// converted, full-path keys are reduced to file names and expired entries are
// dropped. Running it twice leaves the file unchanged apart from timestamps
// stamped on the first run. A snapshot that cannot be read or parsed is left
// untouched and its error is returned.
func Migrate(path string, ttl time.Duration, logger *slog.Logger) (MigrationReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	entries, stats, err := loadSnapshot(path, ttl, time.Now(), logger)
	if err != nil {
		return MigrationReport{}, fmt.Errorf("migrate duration snapshot: %w", err)
	}
	report := MigrationReport{
		Original:   stats.Raw,
		Kept:       len(entries),
		Duplicates: stats.Collapsed,
		Expired:    stats.Expired,
		Invalid:    stats.Invalid,
	}

	if err := SaveSnapshot(path, entries, logger); err != nil {
		return report, fmt.Errorf("migrate duration snapshot: %w", err)
	}

	logger.Info("duration snapshot migrated",
		slog.String("path", path),
		slog.Int("original", report.Original),
		slog.Int("kept", report.Kept),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("expired", report.Expired),
	)
	return report, nil
}
