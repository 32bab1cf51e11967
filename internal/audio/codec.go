// Package audio provides the in-memory PCM buffer used for splicing, the
// codec that moves audio between files and buffers, and the decoded-buffer
// cache shared by one splicing run.
package audio

import "context"

// Recognised export formats.
const (
	FormatMP3 = "mp3"
	FormatWAV = "wav"
)

// CodecOpts configures the PCM layout produced by decoding.
type CodecOpts struct {
	// SampleRate is the rate every file is resampled to.
	// Default: 44100 Hz.
	SampleRate int

	// Channels is the channel count every file is mixed to.
	// Default: 2.
	Channels int
}

// DefaultCodecOpts returns the default decode layout.
func DefaultCodecOpts() CodecOpts {
	return CodecOpts{
		SampleRate: 44100,
		Channels:   2,
	}
}

// Decoder turns an audio file of any supported container into a Buffer.
type Decoder interface {
	// Decode reads the file at path and returns its samples. It fails on
	// unsupported or corrupt input.
	Decode(ctx context.Context, path string) (*Buffer, error)
}

// Encoder writes a Buffer to a file.
type Encoder interface {
	// Export encodes buf into path using the given container format
	// (for example "mp3"). An existing file is overwritten.
	Export(ctx context.Context, buf *Buffer, path, format string) error
}

// Codec decodes and encodes audio files.
type Codec interface {
	Decoder
	Encoder
}
