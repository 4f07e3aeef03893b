package providers

import (
	"context"
)

// CacheProvider is the cache the ingestion pipeline invalidates after a
// job is written
type CacheProvider interface {
	// DeletePattern removes every key matching a glob pattern and returns
	// how many were removed
	DeletePattern(ctx context.Context, pattern string) (int, error)
}
