package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrS3NotConfigured is returned when S3 operations are attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// maxUniqueAttempts bounds the suffix search in UniquePath.
const maxUniqueAttempts = 10000

// LocalStorage implements Storage on local disk. It does not support uploads
// unless wrapped with S3Storage.
type LocalStorage struct {
	outputDir string
	// mu serialises UniquePath so concurrent jobs never pick the same name.
	mu sync.Mutex
}

// NewLocalStorage creates a LocalStorage rooted at outputDir, creating the
// directory if needed. An empty outputDir means "./output".
func NewLocalStorage(outputDir string) (*LocalStorage, error) {
	if outputDir == "" {
		outputDir = "output"
	}
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &LocalStorage{outputDir: abs}, nil
}

// OutputDir implements Storage.
func (s *LocalStorage) OutputDir() string {
	return s.outputDir
}

// UniquePath implements Storage. The returned path is reserved by creating an
// empty file, so a second call never returns it again.
func (s *LocalStorage) UniquePath(base, ext string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := base + ext
	for i := 1; i <= maxUniqueAttempts; i++ {
		path := filepath.Join(s.outputDir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) // #nosec G304 - name is generated here
		if err == nil {
			if err := f.Close(); err != nil {
				return "", fmt.Errorf("reserve %s: %w", path, err)
			}
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("reserve %s: %w", path, err)
		}
		name = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
	return "", fmt.Errorf("no free name for %s%s in %s", base, ext, s.outputDir)
}

// Remove implements Storage. Missing files are ignored.
func (s *LocalStorage) Remove(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// Upload is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) Upload(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

// UploadFile opens path and uploads it through st under key.
func UploadFile(ctx context.Context, st Storage, key, path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 - path is produced by the splice service
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return st.Upload(ctx, key, f)
}

// Verify interface implementation at compile time.
var _ Storage = (*LocalStorage)(nil)
