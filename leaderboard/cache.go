package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/tidwall/gjson"

	"hotlympics/core"
	"hotlympics/engine"
)

// KeyPrefix namespaces every leaderboard record in storage.
const KeyPrefix = "hotlympics_leaderboard_"

// DefaultConcurrency bounds RefreshMany.
const DefaultConcurrency = 4

// StorageKey maps a leaderboard id to its storage key.
func StorageKey(id string) string { return KeyPrefix + id }

// Fetcher retrieves a leaderboard snapshot from the remote API.
type Fetcher interface {
	FetchLeaderboard(ctx context.Context, id string) (core.Snapshot, error)
}

// Prewarmer fetches an image so later renders hit a warm cache.
type Prewarmer interface {
	Warm(ctx context.Context, url string) error
}

// Load outcomes reported to a Recorder.
const (
	OutcomeHit     = "hit"
	OutcomeMissing = "missing"
	OutcomeCorrupt = "corrupt"
	OutcomeExpired = "expired"
)

// Recorder observes cache activity. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveLoad(id, outcome string)
	ObserveRefresh(id string, err error)
	ObservePrewarm(err error)
}

// LoadResult is the outcome of Load. Data is nil unless Valid.
type LoadResult struct {
	Valid bool
	Data  *core.Snapshot
}

// EnsureOptions tunes EnsureFresh and RefreshMany.
type EnsureOptions struct {
	PreloadImages bool
	// Force refetches even when a fresh record exists.
	Force bool
}

// RefreshManyResult lists ids in input order by outcome.
type RefreshManyResult struct {
	Success []string `json:"success"`
	Failed  []string `json:"failed"`
}

// Option configures a Cache.
type Option func(*Cache)

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithPrewarmer(p Prewarmer) Option { return func(c *Cache) { c.prewarm = p } }

func WithRecorder(r Recorder) Option { return func(c *Cache) { c.rec = r } }

// WithConcurrency bounds the number of leaderboards RefreshMany fetches at once.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Cache keeps leaderboard snapshots in a CacheStore. Storage faults never
// surface: they degrade to misses so a leaderboard can always be fetched.
type Cache struct {
	store       *engine.CacheStore
	fetcher     Fetcher
	prewarm     Prewarmer
	rec         Recorder
	logger      *slog.Logger
	concurrency int

	preloads sync.WaitGroup
}

func NewCache(store *engine.CacheStore, fetcher Fetcher, opts ...Option) *Cache {
	if store == nil {
		store = engine.NewCacheStore(nil)
	}
	c := &Cache{
		store:       store,
		fetcher:     fetcher,
		rec:         nopRecorder{},
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load returns the cached snapshot for id when it is well formed and no older
// than maxAge. Anything else deletes the record and reports a miss.
func (c *Cache) Load(ctx context.Context, id string, maxAge time.Duration) LoadResult {
	key := StorageKey(id)
	raw, ok := c.store.Read(ctx, key)
	if !ok {
		c.rec.ObserveLoad(id, OutcomeMissing)
		return LoadResult{}
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		c.logger.Warn("discarding malformed leaderboard record", "leaderboard", id, "error", err)
		c.store.Delete(ctx, key)
		c.rec.ObserveLoad(id, OutcomeCorrupt)
		return LoadResult{}
	}
	age, ok := c.store.AgeMillis(rec.StoredAt)
	if !ok {
		c.logger.Warn("discarding leaderboard record with unusable timestamp", "leaderboard", id, "stored_at", rec.StoredAt)
		c.store.Delete(ctx, key)
		c.rec.ObserveLoad(id, OutcomeCorrupt)
		return LoadResult{}
	}
	if age > maxAge.Milliseconds() {
		c.logger.Debug("leaderboard record expired", "leaderboard", id, "age_ms", age, "max_age", maxAge)
		c.store.Delete(ctx, key)
		c.rec.ObserveLoad(id, OutcomeExpired)
		return LoadResult{}
	}
	c.rec.ObserveLoad(id, OutcomeHit)
	snap := rec.Snapshot()
	return LoadResult{Valid: true, Data: &snap}
}

// Save stores snap stamped with the current time.
func (c *Cache) Save(ctx context.Context, id string, snap core.Snapshot) {
	if snap.Entries == nil {
		snap.Entries = []core.Entry{}
	}
	c.store.Write(ctx, StorageKey(id), core.CacheRecord{
		Entries:  snap.Entries,
		Metadata: snap.Metadata,
		StoredAt: c.store.NowMillis(),
	})
}

// Refresh fetches id and saves it. A failed fetch leaves any cached record in place.
func (c *Cache) Refresh(ctx context.Context, id string) (*core.Snapshot, error) {
	if c.fetcher == nil {
		return nil, errors.New("leaderboard fetcher not configured")
	}
	snap, err := c.fetcher.FetchLeaderboard(ctx, id)
	c.rec.ObserveRefresh(id, err)
	if err != nil {
		c.logger.Warn("leaderboard refresh failed", "leaderboard", id, "error", err)
		return nil, fmt.Errorf("refresh leaderboard %s: %w", id, err)
	}
	c.Save(ctx, id, snap)
	return &snap, nil
}

// EnsureFresh makes sure a record no older than maxAge is cached. A valid
// cached record short-circuits the fetch; with Force it behaves exactly like
// Refresh and always fetches. It reports whether a fresh record is in place.
// With PreloadImages, a newly fetched non-empty snapshot has its images warmed
// in the background; EnsureFresh does not wait for that.
func (c *Cache) EnsureFresh(ctx context.Context, id string, maxAge time.Duration, opts EnsureOptions) bool {
	if !opts.Force {
		if res := c.Load(ctx, id, maxAge); res.Valid {
			return true
		}
	}
	snap, err := c.Refresh(ctx, id)
	if err != nil {
		return false
	}
	if opts.PreloadImages && len(snap.Entries) > 0 && c.prewarm != nil {
		c.startPreload(ctx, id, snap.ImageURLs())
	}
	return true
}

// WaitPreloads blocks until background image warming has finished.
func (c *Cache) WaitPreloads() { c.preloads.Wait() }

func (c *Cache) startPreload(ctx context.Context, id string, urls []string) {
	bg := context.WithoutCancel(ctx)
	c.preloads.Add(1)
	go func() {
		defer c.preloads.Done()
		failed := 0
		for _, u := range urls {
			err := c.prewarm.Warm(bg, u)
			c.rec.ObservePrewarm(err)
			if err != nil {
				failed++
				c.logger.Debug("image prewarm failed", "leaderboard", id, "url", u, "error", err)
			}
		}
		c.logger.Debug("image prewarm finished", "leaderboard", id, "images", len(urls), "failed", failed)
	}()
}

// RefreshMany runs EnsureFresh for every id concurrently. One failure never
// affects its siblings.
func (c *Cache) RefreshMany(ctx context.Context, ids []string, maxAge time.Duration, opts EnsureOptions) RefreshManyResult {
	ok := make([]bool, len(ids))
	p := pool.New().WithMaxGoroutines(c.concurrency)
	for i, id := range ids {
		p.Go(func() {
			ok[i] = c.EnsureFresh(ctx, id, maxAge, opts)
		})
	}
	p.Wait()

	res := RefreshManyResult{Success: []string{}, Failed: []string{}}
	for i, id := range ids {
		if ok[i] {
			res.Success = append(res.Success, id)
		} else {
			res.Failed = append(res.Failed, id)
		}
	}
	return res
}

// Clear removes the record for id.
func (c *Cache) Clear(ctx context.Context, id string) {
	c.store.Delete(ctx, StorageKey(id))
}

// ClearAll removes every leaderboard record and returns how many keys it found.
func (c *Cache) ClearAll(ctx context.Context) int {
	keys := c.store.KeysWithPrefix(ctx, KeyPrefix)
	for _, k := range keys {
		c.store.Delete(ctx, k)
	}
	return len(keys)
}

// IDs lists the leaderboard ids currently in storage.
func (c *Cache) IDs(ctx context.Context) []string {
	keys := c.store.KeysWithPrefix(ctx, KeyPrefix)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, KeyPrefix))
	}
	return out
}

// Get returns the cached snapshot when valid and otherwise fetches it.
func (c *Cache) Get(ctx context.Context, id string, maxAge time.Duration) (*core.Snapshot, error) {
	if res := c.Load(ctx, id, maxAge); res.Valid {
		return res.Data, nil
	}
	return c.Refresh(ctx, id)
}

// decodeRecord checks the record shape before decoding it.
func decodeRecord(raw []byte) (core.CacheRecord, error) {
	var rec core.CacheRecord
	if !gjson.ValidBytes(raw) {
		return rec, errors.New("not valid json")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return rec, errors.New("record is not an object")
	}
	if !doc.Get("entries").IsArray() {
		return rec, errors.New("entries is not an array")
	}
	if !doc.Get("metadata").IsObject() {
		return rec, errors.New("metadata is not an object")
	}
	if doc.Get("storedAt").Type != gjson.Number {
		return rec, errors.New("storedAt is not a number")
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

type nopRecorder struct{}

func (nopRecorder) ObserveLoad(string, string)   {}
func (nopRecorder) ObserveRefresh(string, error) {}
func (nopRecorder) ObservePrewarm(error)         {}
