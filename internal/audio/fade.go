package audio

import "time"

// DefaultFade is the fade-in and fade-out length applied to every track
// decoded for splicing.
const DefaultFade = 2000 * time.Millisecond

// FadeIn returns a copy of b whose first d ramps linearly from silence to
// full level. A fade longer than the buffer covers the whole buffer.
func (b *Buffer) FadeIn(d time.Duration) *Buffer {
	return b.fade(d, true)
}

// FadeOut returns a copy of b whose last d ramps linearly from full level to
// silence.
func (b *Buffer) FadeOut(d time.Duration) *Buffer {
	return b.fade(d, false)
}

// ApplyFades applies the fade-in then the fade-out of the same length.
func ApplyFades(b *Buffer, d time.Duration) *Buffer {
	return b.FadeIn(d).FadeOut(d)
}

func (b *Buffer) fade(d time.Duration, in bool) *Buffer {
	out := NewBuffer(b.SampleRate, b.Channels, append([]int16(nil), b.Samples...))

	frames := b.Frames()
	n := int(int64(d) * int64(b.SampleRate) / int64(time.Second))
	if n > frames {
		n = frames
	}
	if n <= 0 {
		return out
	}

	start := 0
	if !in {
		start = frames - n
	}
	for i := 0; i < n; i++ {
		gain := float64(i) / float64(n)
		if !in {
			gain = float64(n-i) / float64(n)
		}
		frame := (start + i) * b.Channels
		for ch := 0; ch < b.Channels; ch++ {
			out.Samples[frame+ch] = int16(float64(out.Samples[frame+ch]) * gain)
		}
	}
	return out
}
