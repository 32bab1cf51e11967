// Package merge concatenates ordered segments with a balanced binary merge,
// optionally spreading the work over a bounded set of goroutines.
package merge

import (
	"errors"
	"math/bits"
)

// ErrNoSegments is returned when there is nothing to merge.
var ErrNoSegments = errors.New("merge: no segments")

// ConcatFunc joins two segments into a new one. It must not modify its
// arguments.
type ConcatFunc[T any] func(a, b T) (T, error)

// Merge combines items pairwise, splitting at the midpoint: one item is
// returned as is, two are concatenated, more are merged left and right and
// then joined. The result preserves the order of items.
func Merge[T any](items []T, concat ConcatFunc[T]) (T, error) {
	var zero T
	switch len(items) {
	case 0:
		return zero, ErrNoSegments
	case 1:
		return items[0], nil
	case 2:
		return concat(items[0], items[1])
	}

	mid := len(items) / 2
	left, err := Merge(items[:mid], concat)
	if err != nil {
		return zero, err
	}
	right, err := Merge(items[mid:], concat)
	if err != nil {
		return zero, err
	}
	return concat(left, right)
}

// Sequential folds items left to right.
func Sequential[T any](items []T, concat ConcatFunc[T]) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, ErrNoSegments
	}
	acc := items[0]
	for _, it := range items[1:] {
		next, err := concat(acc, it)
		if err != nil {
			return zero, err
		}
		acc = next
	}
	return acc, nil
}

// NextPowerOfTwo returns the smallest power of two >= n. It returns 1 for
// n <= 1.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// ChunkCount returns the number of chunks used for n segments: the next power
// of two, but never fewer than 4.
func ChunkCount(n int) int {
	return max(4, NextPowerOfTwo(n))
}

// Partition splits items into contiguous chunks of ceil(len/numChunks)
// elements. The last chunk may be shorter and fewer than numChunks chunks may
// be returned. Chunks share the backing array of items.
func Partition[T any](items []T, numChunks int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if numChunks <= 0 {
		numChunks = 1
	}
	size := (len(items) + numChunks - 1) / numChunks

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		chunks = append(chunks, items[i:end:end])
	}
	return chunks
}
