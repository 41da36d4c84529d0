package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"hotlympics/core"
)

// CacheStore is a best-effort blob store over a Storage backend. Every backend
// fault is logged and swallowed: writes are dropped and reads become misses.
// A nil backend behaves like disabled storage.
type CacheStore struct {
	backend Storage
	logger  *slog.Logger
	now     func() time.Time
}

// CacheStoreOption configures a CacheStore.
type CacheStoreOption func(*CacheStore)

// WithStoreLogger sets the logger used for swallowed faults.
func WithStoreLogger(l *slog.Logger) CacheStoreOption {
	return func(c *CacheStore) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStoreClock overrides the clock used for ages.
func WithStoreClock(now func() time.Time) CacheStoreOption {
	return func(c *CacheStore) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCacheStore(backend Storage, opts ...CacheStoreOption) *CacheStore {
	c := &CacheStore{backend: backend, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Write JSON-encodes value under key.
func (c *CacheStore) Write(ctx context.Context, key string, value any) {
	if c.backend == nil {
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache write skipped: encode failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, b); err != nil {
		c.logger.Warn("cache write failed", "key", key, "quota", errors.Is(err, core.ErrQuotaExceeded), "error", err)
	}
}

// Read returns the raw blob under key.
func (c *CacheStore) Read(ctx context.Context, key string) ([]byte, bool) {
	if c.backend == nil {
		return nil, false
	}
	b, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	return b, true
}

func (c *CacheStore) Delete(ctx context.Context, key string) {
	if c.backend == nil {
		return
	}
	if err := c.backend.Delete(ctx, key); err != nil && !errors.Is(err, core.ErrNotFound) {
		c.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}

// KeysWithPrefix lists stored keys under prefix; faults yield an empty list.
func (c *CacheStore) KeysWithPrefix(ctx context.Context, prefix string) []string {
	if c.backend == nil {
		return nil
	}
	keys, err := c.backend.Keys(ctx, prefix)
	if err != nil {
		c.logger.Warn("cache key listing failed", "prefix", prefix, "error", err)
		return nil
	}
	return keys
}

// Now is the store's clock reading.
func (c *CacheStore) Now() time.Time { return c.now() }

// NowMillis is the store's clock reading in Unix milliseconds.
func (c *CacheStore) NowMillis() int64 { return c.now().UnixMilli() }

// AgeMillis is the milliseconds elapsed since a Unix millisecond timestamp.
// ok is false for a timestamp after the store's clock or one so far in the
// past that the difference does not fit in an int64.
func (c *CacheStore) AgeMillis(storedAtMillis int64) (age int64, ok bool) {
	now := c.NowMillis()
	if storedAtMillis > now {
		return 0, false
	}
	age = now - storedAtMillis
	if age < 0 {
		return 0, false
	}
	return age, true
}
