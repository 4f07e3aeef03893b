package services

import (
	"context"
	"slices"
)

// DefaultChunkSize bounds the rows per statement so large documents stay
// under the store's parameter limits.
const DefaultChunkSize = 50

// inChunks calls fn for consecutive slices of at most size items and sums
// what fn returns. The result does not depend on size.
func inChunks[T any](ctx context.Context, items []T, size int, fn func(context.Context, []T) (int, error)) (int, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}

	total := 0
	for chunk := range slices.Chunk(items, size) {
		n, err := fn(ctx, chunk)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// lookupInChunks merges the maps returned for each chunk of keys
func lookupInChunks(ctx context.Context, keys []string, size int, fn func(context.Context, []string) (map[string]int64, error)) (map[string]int64, error) {
	merged := make(map[string]int64, len(keys))
	_, err := inChunks(ctx, keys, size, func(ctx context.Context, chunk []string) (int, error) {
		ids, err := fn(ctx, chunk)
		if err != nil {
			return 0, err
		}
		for k, v := range ids {
			merged[k] = v
		}
		return len(ids), nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}
