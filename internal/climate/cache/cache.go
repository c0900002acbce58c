// Package cache stores validated datasets keyed by canonical query, with
// TTL-based invalidation and per-key request coalescing.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/farmnav/climate-cache/internal/climate/model"
)

// Store is a TTL-aware byte store. Eviction is lazy: an expired entry is a
// miss on next access.
type Store interface {
	// Get returns the value for key and whether it was found and fresh.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val under key for ttl.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Del removes the given keys.
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// Entry is the serialized cache value: the dataset plus bookkeeping for
// consumers inspecting the cache directly. expiresAt = fetchedAt + ttl;
// synthetic entries carry the shorter TTL so the real source is retried
// sooner.
type Entry struct {
	Key       string        `json:"key"`
	Dataset   model.Dataset `json:"dataset"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Encode serializes an entry for storage.
func Encode(e Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry %q: %w", e.Key, err)
	}
	return b, nil
}

// Decode deserializes an entry from storage.
func Decode(b []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, nil
}
