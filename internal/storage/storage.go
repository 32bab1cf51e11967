// Package storage places spliced outputs on local disk and optionally
// publishes them to S3.
package storage

import (
	"context"
	"io"
)

// Storage defines where splice outputs are written and how they are published.
type Storage interface {
	// OutputDir returns the directory holding outputs and playlists.
	OutputDir() string

	// UniquePath returns a path in OutputDir for base+ext that does not exist
	// yet, appending _1, _2, ... to base as needed.
	UniquePath(base, ext string) (string, error)

	// Remove deletes the given files. It continues after failures and
	// returns the first error encountered.
	Remove(ctx context.Context, paths []string) error

	// Upload stores data under key and returns its public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	Upload(ctx context.Context, key string, data io.Reader) (url string, err error)
}
