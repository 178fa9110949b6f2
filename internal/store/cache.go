package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/agroassist/internal/geo"
)

// Entry is the persisted form of a cached value.
type Entry[T any] struct {
	Payload  T                `json:"payload"`
	StoredAt time.Time        `json:"storedAt"`
	Key      *geo.Coordinates `json:"keyCoordinates,omitempty"`
}

// Cache is a single-slot, time-boxed cache of T serialized into a KV key.
// Writes replace the whole entry.
type Cache[T any] struct {
	kv        KV
	key       string
	ttl       time.Duration
	tolerance float64
	now       func() time.Time
}

// NewCache creates a cache stored under key with the given TTL.
func NewCache[T any](kv KV, key string, ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		kv:        kv,
		key:       key,
		ttl:       ttl,
		tolerance: geo.DefaultTolerance,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (c *Cache[T]) WithClock(now func() time.Time) *Cache[T] {
	c.now = now
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

// Load returns the cached payload when it is younger than the TTL and, if at is
// non-nil, was stored for coordinates within tolerance of at.
// Missing, stale, mismatched and undecodable entries all report ok=false.
func (c *Cache[T]) Load(ctx context.Context, at *geo.Coordinates) (T, bool, error) {
	var zero T

	raw, err := c.kv.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("read %s: %w", c.key, err)
	}

	var entry Entry[T]
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return zero, false, nil
	}
	if !c.valid(entry, at) {
		return zero, false, nil
	}
	return entry.Payload, true, nil
}

// Store writes payload, stamped with the current time and optional key coordinates.
func (c *Cache[T]) Store(ctx context.Context, payload T, at *geo.Coordinates) error {
	entry := Entry[T]{
		Payload:  payload,
		StoredAt: c.now().UTC(),
	}
	if at != nil {
		key := *at
		entry.Key = &key
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.key, err)
	}
	if err := c.kv.Set(ctx, c.key, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", c.key, err)
	}
	return nil
}

// Clear removes the entry.
func (c *Cache[T]) Clear(ctx context.Context) error {
	return c.kv.MultiRemove(ctx, c.key)
}

func (c *Cache[T]) valid(entry Entry[T], at *geo.Coordinates) bool {
	if c.now().Sub(entry.StoredAt) >= c.ttl {
		return false
	}
	if at == nil {
		return true
	}
	if entry.Key == nil {
		return false
	}
	return entry.Key.Near(*at, c.tolerance)
}
