package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wolfeidau/update-server/backend"
	"github.com/wolfeidau/update-server/download"
	"github.com/wolfeidau/update-server/telemetry"
)

// DefaultTTL is how long a decoded archive is served from memory.
const DefaultTTL = 5 * time.Minute

// Extension is appended to a bundle path to form the storage key of its archive.
const Extension = ".zip"

type cacheEntry struct {
	archive  *Archive
	storedAt time.Time
}

// Cache memoizes decoded archives keyed by bundle path.
//
// Bundle paths are immutable once published, so entries are never
// invalidated by content changes; they simply expire after the TTL.
// Concurrent misses for the same path share a single fetch.
type Cache struct {
	backend backend.Backend
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	fetches download.Group[*Archive]

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the time an entry stays valid. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithNow sets the clock used for expiry checks.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger for the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache creates a cache reading archives from b.
func NewCache(b backend.Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: b,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the decoded archive for bundlePath, fetching
// bundlePath+".zip" from the backend when there is no live entry.
func (c *Cache) Get(ctx context.Context, bundlePath string) (*Archive, error) {
	a, state := c.lookup(bundlePath)
	telemetry.RecordArchiveLookup(ctx, state)
	if a != nil {
		return a, nil
	}

	a, shared, err := c.fetches.Do(ctx, bundlePath, func(ctx context.Context) (*Archive, error) {
		// A fetch that finished since the lookup above has already stored it.
		if a, _ := c.lookup(bundlePath); a != nil {
			return a, nil
		}
		a, err := c.fetch(ctx, bundlePath)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[bundlePath] = cacheEntry{archive: a, storedAt: c.now()}
		c.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("archive fetch shared", "bundle_path", bundlePath)
	}
	return a, nil
}

// lookup returns the live entry for bundlePath and its lookup state:
// "hit", "expired" or "miss".
func (c *Cache) lookup(bundlePath string) (*Archive, string) {
	c.mu.Lock()
	e, ok := c.entries[bundlePath]
	c.mu.Unlock()

	switch {
	case ok && c.now().Sub(e.storedAt) < c.ttl:
		return e.archive, "hit"
	case ok:
		return nil, "expired"
	default:
		return nil, "miss"
	}
}

func (c *Cache) fetch(ctx context.Context, bundlePath string) (*Archive, error) {
	start := time.Now()
	key := bundlePath + Extension

	data, err := backend.ReadAll(ctx, c.backend, key)
	if err != nil {
		telemetry.RecordArchiveFetch(ctx, 0, time.Since(start), "error")
		return nil, fmt.Errorf("fetching archive %s: %w", key, err)
	}

	a, err := Decode(data)
	if err != nil {
		telemetry.RecordArchiveFetch(ctx, int64(len(data)), time.Since(start), "error")
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	telemetry.RecordArchiveFetch(ctx, a.Size(), time.Since(start), "success")
	c.logger.Debug("archive loaded",
		"bundle_path", bundlePath,
		"size", a.Size(),
		"digest", a.Digest().ShortString(),
		"entries", len(a.entries),
		"duration", time.Since(start))

	return a, nil
}

// Purge removes expired entries and returns how many were dropped.
func (c *Cache) Purge() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for path, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, path)
			n++
		}
	}
	return n
}

// Len returns the number of entries held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
