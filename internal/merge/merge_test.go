package merge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiosplicer/internal/audio"
	"github.com/maauso/audiosplicer/internal/progress"
)

// concatInts joins marker slices without aliasing.
func concatInts(a, b []int) ([]int, error) {
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...), nil
}

func markers(n int) [][]int {
	items := make([][]int, n)
	for i := range items {
		items[i] = []int{i}
	}
	return items
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestNextPowerOfTwo(t *testing.T) {
	tests := []struct{ n, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {4, 4}, {5, 8}, {50, 64}, {64, 64}, {65, 128},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextPowerOfTwo(tt.n), "n=%d", tt.n)
	}
}

func TestChunkCount(t *testing.T) {
	assert.Equal(t, 4, ChunkCount(1))
	assert.Equal(t, 4, ChunkCount(3))
	assert.Equal(t, 8, ChunkCount(5))
	assert.Equal(t, 64, ChunkCount(60))
}

func TestPartition(t *testing.T) {
	for n := 1; n <= 200; n++ {
		items := sequence(n)
		numChunks := ChunkCount(n)
		chunks := Partition(items, numChunks)

		size := (n + numChunks - 1) / numChunks
		var flat []int
		for i, c := range chunks {
			if i < len(chunks)-1 {
				require.Len(t, c, size, "n=%d chunk=%d", n, i)
			}
			require.LessOrEqual(t, len(c), size)
			require.NotEmpty(t, c)
			flat = append(flat, c...)
		}
		require.LessOrEqual(t, len(chunks), numChunks)
		require.Equal(t, items, flat, "n=%d", n)
	}
}

func TestPartition_Edges(t *testing.T) {
	assert.Nil(t, Partition([]int{}, 4))
	assert.Equal(t, [][]int{{1, 2, 3}}, Partition([]int{1, 2, 3}, 0))
	assert.Equal(t, [][]int{{1, 2}, {3}}, Partition([]int{1, 2, 3}, 2))
}

func TestMerge_PreservesOrder(t *testing.T) {
	for n := 1; n <= 70; n++ {
		got, err := Merge(markers(n), concatInts)
		require.NoError(t, err)
		require.Equal(t, sequence(n), got, "n=%d", n)
	}
}

func TestMerge_Empty(t *testing.T) {
	_, err := Merge[[]int](nil, concatInts)
	assert.ErrorIs(t, err, ErrNoSegments)

	_, err = Sequential[[]int](nil, concatInts)
	assert.ErrorIs(t, err, ErrNoSegments)
}

func TestMerge_SingleIsIdentity(t *testing.T) {
	item := []int{7}
	got, err := Merge([][]int{item}, concatInts)
	require.NoError(t, err)
	assert.Equal(t, item, got)
}

func TestSequential(t *testing.T) {
	got, err := Sequential(markers(9), concatInts)
	require.NoError(t, err)
	assert.Equal(t, sequence(9), got)
}

func TestMerge_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	failing := func(a, b []int) ([]int, error) {
		if calls.Add(1) == 3 {
			return nil, boom
		}
		return concatInts(a, b)
	}

	_, err := Merge(markers(8), failing)
	assert.ErrorIs(t, err, boom)
}

func TestRun_SerialAndParallelAgree(t *testing.T) {
	for _, n := range []int{1, 2, 3, 9, 10, 49, 50, 51, 64, 100, 257} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			serial := &Scheduler{Workers: 4, MinSegments: 10, Parallel: false}
			parallel := &Scheduler{Workers: 4, MinSegments: 10, Parallel: true}

			a, err := Run(context.Background(), serial, markers(n), concatInts)
			require.NoError(t, err)
			b, err := Run(context.Background(), parallel, markers(n), concatInts)
			require.NoError(t, err)

			assert.Equal(t, sequence(n), a)
			assert.Equal(t, a, b)
		})
	}
}

func TestRun_Empty(t *testing.T) {
	_, err := Run[[]int](context.Background(), NewScheduler(), nil, concatInts)
	assert.ErrorIs(t, err, ErrNoSegments)
}

func TestRun_StatusMessages(t *testing.T) {
	var (
		mu       sync.Mutex
		messages []string
	)
	reporter := progress.Funcs{OnStatus: func(m string) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, m)
	}}

	s := &Scheduler{Workers: 2, MinSegments: 5, Parallel: true, Reporter: reporter}
	_, err := Run(context.Background(), s, markers(3), concatInts)
	require.NoError(t, err)
	_, err = Run(context.Background(), s, markers(6), concatInts)
	require.NoError(t, err)
	s.Parallel = false
	_, err = Run(context.Background(), s, markers(6), concatInts)
	require.NoError(t, err)

	require.Len(t, messages, 4)
	assert.Contains(t, messages[0], "Fewer than 5 segments")
	assert.Contains(t, messages[1], "merging")
	assert.Equal(t, "Segments merged", messages[2])
	assert.Contains(t, messages[3], "disabled")
}

func TestRun_ParallelChunkFailureIsReturned(t *testing.T) {
	boom := errors.New("encoder exploded")
	var calls atomic.Int32
	failing := func(a, b []int) ([]int, error) {
		if calls.Add(1) == 5 {
			return nil, boom
		}
		return concatInts(a, b)
	}

	s := &Scheduler{Workers: 4, MinSegments: 10, Parallel: true}
	_, err := Run(context.Background(), s, markers(100), failing)
	assert.ErrorIs(t, err, boom)

	// The same segments still merge with the serial fallback.
	out, err := Sequential(markers(100), concatInts)
	require.NoError(t, err)
	assert.Equal(t, sequence(100), out)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Scheduler{Workers: 4, MinSegments: 10, Parallel: true}
	_, err := Run(ctx, s, markers(100), concatInts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUseParallel(t *testing.T) {
	s := NewScheduler()
	assert.False(t, s.UseParallel(49))
	assert.True(t, s.UseParallel(50))

	s.Parallel = false
	assert.False(t, s.UseParallel(500))
}

// tone returns one second of mono audio at 1 kHz whose samples all hold
// marker, so the merged output can be checked segment by segment.
func tone(marker int) *audio.Buffer {
	samples := make([]int16, 1000)
	for i := range samples {
		samples[i] = int16(marker)
	}
	return audio.NewBuffer(1000, 1, samples)
}

func TestRun_AudioBuffers(t *testing.T) {
	items := make([]*audio.Buffer, 60)
	for i := range items {
		items[i] = tone(i)
	}

	s := &Scheduler{Workers: 4, MinSegments: 10, Parallel: true}
	out, err := Run(context.Background(), s, items, audio.Concat)
	require.NoError(t, err)

	assert.Equal(t, int64(60_000), out.LengthMs())
	for i := 0; i < 60; i++ {
		seg := out.Samples[i*1000 : (i+1)*1000]
		assert.Equal(t, int16(i), seg[0], "segment %d start", i)
		assert.Equal(t, int16(i), seg[999], "segment %d end", i)
	}
	for i, b := range items {
		assert.Equal(t, int16(i), b.Samples[0], "inputs must not change")
		assert.Len(t, b.Samples, 1000)
	}
}

func TestRun_AudioFormatMismatch(t *testing.T) {
	items := []*audio.Buffer{tone(0), audio.NewBuffer(2000, 1, make([]int16, 10))}

	_, err := Run(context.Background(), NewScheduler(), items, audio.Concat)
	assert.ErrorIs(t, err, audio.ErrFormatMismatch)
}
