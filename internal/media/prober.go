// Package media inspects audio files with ffprobe.
package media

import "context"

// Prober reports container metadata for a media file without decoding it.
type Prober interface {
	// Duration returns the container duration in seconds.
	Duration(ctx context.Context, path string) (float64, error)
}
