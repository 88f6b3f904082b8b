package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConnectionRefused means nothing is listening at the store address.
	// Caching stays off for the rest of the process once this is seen.
	ErrConnectionRefused = errors.New("cache: store connection refused")

	// ErrGaveUp is returned by Dial after the retry budget is spent.
	ErrGaveUp = errors.New("cache: gave up connecting to store")
)

// Backend is the transport the Store talks to. Implemented by the in-memory
// backend (dev, tests) and Redis (prod). A miss is (nil, false, nil).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	Flush(ctx context.Context) error
	Ping(ctx context.Context) error
}
