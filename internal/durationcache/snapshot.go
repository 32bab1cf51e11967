package durationcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

// ErrInvalidEntry is returned for snapshot values that are neither a number
// nor an object carrying a duration.
var ErrInvalidEntry = errors.New("durationcache: invalid snapshot entry")

// record is the on-disk form of an entry.
type record struct {
	Duration  *float64 `json:"duration"`
	CacheTime *float64 `json:"cache_time,omitempty"`
}

// candidate is a decoded snapshot value before keys are collapsed.
type candidate struct {
	rawKey string
	entry  Entry
}

func lockFor(path string) *flock.Flock {
	return flock.New(path + ".lock")
}

// loadStats counts what happened to the raw snapshot entries.
type loadStats struct {
	Raw       int
	Invalid   int
	Expired   int
	Collapsed int
}

// LoadSnapshot reads the snapshot at path. It never fails: a missing file
// yields an empty map and any other problem is logged and yields whatever
// could be read.
//
// Legacy bare numbers become entries cached at now. Structured entries
// without cache_time are stamped with now; expired ones are dropped. Raw keys
// are rewritten to Key(rawKey); when several collapse to one key the most
// recently cached wins, ties going to the lexically smallest raw key.
func LoadSnapshot(path string, ttl time.Duration, now time.Time, logger *slog.Logger) map[string]Entry {
	entries, _, _ := loadSnapshot(path, ttl, now, logger)
	return entries
}

// loadSnapshot is LoadSnapshot with the counters and the read or parse error
// exposed. On error the returned map is empty but usable.
func loadSnapshot(path string, ttl time.Duration, now time.Time, logger *slog.Logger) (map[string]Entry, loadStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := make(map[string]Entry)
	var stats loadStats

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return out, stats, nil
	}

	lock := lockFor(path)
	if err := lock.RLock(); err != nil {
		logger.Warn("duration snapshot lock failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	} else {
		defer func() { _ = lock.Unlock() }()
	}

	data, err := os.ReadFile(path) // #nosec G304 - snapshot path comes from configuration
	if err != nil {
		logger.Warn("failed to read duration snapshot",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return out, stats, fmt.Errorf("read duration snapshot: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("failed to parse duration snapshot",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return out, stats, fmt.Errorf("parse duration snapshot: %w", err)
	}
	stats.Raw = len(raw)

	grouped := make(map[string][]candidate)
	for rawKey, value := range raw {
		entry, err := decodeEntry(value, now)
		if err != nil {
			stats.Invalid++
			logger.Warn("skipping duration snapshot entry",
				slog.String("key", rawKey),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !entry.Valid(now, ttl) {
			stats.Expired++
			continue
		}
		key := Key(rawKey)
		grouped[key] = append(grouped[key], candidate{rawKey: rawKey, entry: entry})
	}

	for key, cands := range grouped {
		sort.Slice(cands, func(i, j int) bool {
			if !cands[i].entry.CachedAt.Equal(cands[j].entry.CachedAt) {
				return cands[i].entry.CachedAt.After(cands[j].entry.CachedAt)
			}
			return cands[i].rawKey < cands[j].rawKey
		})
		out[key] = cands[0].entry
		stats.Collapsed += len(cands) - 1
	}
	return out, stats, nil
}

// decodeEntry accepts the legacy bare number and the structured object form.
func decodeEntry(value json.RawMessage, now time.Time) (Entry, error) {
	var seconds float64
	if err := json.Unmarshal(value, &seconds); err == nil {
		return Entry{Duration: clampDuration(seconds), CachedAt: now}, nil
	}

	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if rec.Duration == nil {
		return Entry{}, fmt.Errorf("%w: missing duration", ErrInvalidEntry)
	}

	entry := Entry{Duration: clampDuration(*rec.Duration), CachedAt: now}
	if rec.CacheTime != nil {
		entry.CachedAt = fromEpoch(*rec.CacheTime)
	}
	return entry, nil
}

func clampDuration(seconds float64) float64 {
	if seconds < 0 || math.IsNaN(seconds) {
		return 0
	}
	return seconds
}

func fromEpoch(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9))
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// encodeSnapshot renders entries in the canonical snapshot form: 4-space
// indent, sorted keys, non-ASCII left unescaped.
func encodeSnapshot(entries map[string]Entry) ([]byte, error) {
	out := make(map[string]record, len(entries))
	for k, e := range entries {
		d := e.Duration
		ct := toEpoch(e.CachedAt)
		out[k] = record{Duration: &d, CacheTime: &ct}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveSnapshot writes entries to path atomically. On failure the previous
// file is left untouched and the error is logged and returned.
func SaveSnapshot(path string, entries map[string]Entry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := writeSnapshot(path, entries); err != nil {
		logger.Error("failed to save duration snapshot",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return err
	}
	logger.Debug("duration snapshot saved",
		slog.String("path", path),
		slog.Int("entries", len(entries)),
	)
	return nil
}

func writeSnapshot(path string, entries map[string]Entry) error {
	data, err := encodeSnapshot(entries)
	if err != nil {
		return fmt.Errorf("encode duration snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	lock := lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock duration snapshot: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace duration snapshot: %w", err)
	}
	return nil
}
