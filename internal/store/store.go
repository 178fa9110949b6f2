package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no value is stored under a key.
	ErrNotFound = errors.New("key not found")
)

// Well-known keys used by the caches.
const (
	KeyWeatherCache  = "weather_cache"
	KeyLocationCache = "location_cache"
)

// KV is an opaque string key-value store.
// Implementations must be safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	MultiRemove(ctx context.Context, keys ...string) error
}
