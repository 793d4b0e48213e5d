package cache

import (
	"context"
	"time"
)

// SummaryCache holds pre-encoded summary payloads. Keys embed the store
// revision, so entries for stale data simply stop being requested and age
// out through the TTL.
type SummaryCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
