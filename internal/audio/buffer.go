package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Static errors for buffer operations.
var (
	// ErrFormatMismatch is returned when concatenating buffers whose sample
	// rate or channel count differ.
	ErrFormatMismatch = errors.New("audio: buffer formats differ")
	// ErrNilBuffer is returned when a nil buffer is passed to Concat.
	ErrNilBuffer = errors.New("audio: nil buffer")
)

// Buffer is decoded audio held in memory as interleaved signed 16-bit PCM.
// A Buffer is treated as immutable once built: every operation returns a new
// Buffer and leaves its inputs untouched.
type Buffer struct {
	// SampleRate is the number of frames per second.
	SampleRate int
	// Channels is the number of interleaved channels per frame.
	Channels int
	// Samples holds Frames()*Channels interleaved samples.
	Samples []int16
}

// NewBuffer wraps samples in a Buffer.
func NewBuffer(sampleRate, channels int, samples []int16) *Buffer {
	return &Buffer{SampleRate: sampleRate, Channels: channels, Samples: samples}
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the exact playback length derived from the frame count.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.SampleRate))
}

// Seconds returns the playback length in seconds.
func (b *Buffer) Seconds() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// LengthMs returns the playback length in whole milliseconds.
func (b *Buffer) LengthMs() int64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return int64(b.Frames()) * 1000 / int64(b.SampleRate)
}

// Bytes returns the samples as little-endian s16le PCM.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b.Samples)*2)
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// sameFormat reports whether two buffers can be concatenated.
func (b *Buffer) sameFormat(o *Buffer) bool {
	return b.SampleRate == o.SampleRate && b.Channels == o.Channels
}

// Concat returns a new buffer holding a followed by b.
func Concat(a, b *Buffer) (*Buffer, error) {
	if a == nil || b == nil {
		return nil, ErrNilBuffer
	}
	if !a.sameFormat(b) {
		return nil, fmt.Errorf("%w: %d Hz/%d ch vs %d Hz/%d ch",
			ErrFormatMismatch, a.SampleRate, a.Channels, b.SampleRate, b.Channels)
	}

	samples := make([]int16, 0, len(a.Samples)+len(b.Samples))
	samples = append(samples, a.Samples...)
	samples = append(samples, b.Samples...)
	return NewBuffer(a.SampleRate, a.Channels, samples), nil
}

// BytesToSamples converts little-endian s16le PCM to samples. A trailing odd
// byte is dropped.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return samples
}
