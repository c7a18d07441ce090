package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pvcast/pvcast/internal/telemetry"
	"github.com/pvcast/pvcast/internal/topology"
)

// Store is an optional shared second-level cache, letting several service
// replicas reuse one fetch.
type Store interface {
	// Get returns nil without error on a miss.
	Get(ctx context.Context, key string) (*Series, error)
	Set(ctx context.Context, key string, s *Series, ttl time.Duration) error
}

// CacheConfig holds configuration for the weather cache.
type CacheConfig struct {
	Logger zerolog.Logger

	// Store is an optional second-level cache shared between replicas.
	Store Store

	// FetchTimeout bounds a single shared source fetch (default: 30 seconds).
	// It applies even when the caller that started the fetch gives up.
	FetchTimeout time.Duration

	// DefaultFreshness applies to sources that declare none (default: 1 hour).
	DefaultFreshness time.Duration

	// CleanupInterval is how often writes sweep out expired entries
	// (default: 10 minutes).
	CleanupInterval time.Duration

	Instruments *telemetry.Instruments

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Cache memoizes source fetches per (source, location, horizon bucket).
// Concurrent requests for the same key share one in-flight fetch. Cached
// series are shared between callers and must not be modified.
type Cache struct {
	logger           zerolog.Logger
	store            Store
	fetchTimeout     time.Duration
	defaultFreshness time.Duration
	cleanupInterval  time.Duration
	instruments      *telemetry.Instruments
	now              func() time.Time

	mu          sync.RWMutex
	entries     map[string]*Series
	lastCleanup time.Time
	group       singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// NewCache creates a new weather cache.
func NewCache(cfg CacheConfig) *Cache {
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = 30 * time.Second
	}

	freshness := cfg.DefaultFreshness
	if freshness == 0 {
		freshness = time.Hour
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Cache{
		logger:           cfg.Logger,
		store:            cfg.Store,
		fetchTimeout:     fetchTimeout,
		defaultFreshness: freshness,
		cleanupInterval:  cleanupInterval,
		instruments:      cfg.Instruments,
		now:              now,
		entries:          make(map[string]*Series),
	}
}

// CacheKey builds the cache key. Coordinates are rounded to two decimals
// (about 1 km) and the horizon is bucketed to whole days.
func CacheKey(source string, loc *topology.Location, horizon time.Duration) string {
	days := int(math.Ceil(horizon.Hours() / 24))
	if days < 1 {
		days = 1
	}
	return fmt.Sprintf("%s:%.2f:%.2f:%.0f:%dd", source, loc.Latitude, loc.Longitude, loc.Elevation, days)
}

// GetOrFetch returns a fresh cached series or fetches one from the source.
// Failed fetches are never cached.
func (c *Cache) GetOrFetch(ctx context.Context, src Source, loc *topology.Location, horizon time.Duration) (*Series, error) {
	key := CacheKey(src.Name(), loc, horizon)

	if s := c.lookup(key); s != nil {
		c.hits.Add(1)
		c.instruments.RecordCacheHit(src.Name())
		return s, nil
	}
	c.misses.Add(1)
	c.instruments.RecordCacheMiss(src.Name())

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fill(ctx, key, src, loc, horizon)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Series), nil
	case <-ctx.Done():
		return nil, NewSourceError(src.Name(), KindTimeout, ctx.Err())
	}
}

func (c *Cache) fill(ctx context.Context, key string, src Source, loc *topology.Location, horizon time.Duration) (*Series, error) {
	// Double-check: another flight may have filled it.
	if s := c.lookup(key); s != nil {
		return s, nil
	}

	// The shared fetch must outlive the caller that started it.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	if s := c.fromStore(fctx, key); s != nil {
		c.put(key, s)
		return s, nil
	}

	c.logger.Debug().
		Str("source", src.Name()).
		Str("key", key).
		Dur("horizon", horizon).
		Msg("fetching weather from source")

	start := c.now()
	s, err := src.Fetch(fctx, loc, horizon)
	c.instruments.RecordFetch(src.Name(), time.Since(start), err)
	if err != nil {
		var serr *SourceError
		if !errors.As(err, &serr) {
			kind := KindUnavailable
			if errors.Is(err, context.DeadlineExceeded) {
				kind = KindTimeout
			}
			err = NewSourceError(src.Name(), kind, err)
		}
		c.logger.Warn().Err(err).Str("source", src.Name()).Msg("weather fetch failed")
		return nil, err
	}
	if s == nil || len(s.Records) == 0 {
		return nil, NewSourceError(src.Name(), KindMalformed, errors.New("empty series"))
	}

	if s.FetchedAt.IsZero() {
		s.FetchedAt = c.now().UTC()
	}
	if s.Freshness <= 0 {
		s.Freshness = c.defaultFreshness
	}

	c.put(key, s)
	if c.store != nil {
		if err := c.store.Set(fctx, key, s, s.Freshness); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("failed to write weather store")
		}
	}
	return s, nil
}

func (c *Cache) fromStore(ctx context.Context, key string) *Series {
	if c.store == nil {
		return nil
	}
	s, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to read weather store")
		return nil
	}
	if s == nil || len(s.Records) == 0 || !c.now().Before(s.ExpiresAt()) {
		return nil
	}
	return s
}

func (c *Cache) lookup(key string) *Series {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[key]
	if !ok || !c.now().Before(s.ExpiresAt()) {
		return nil
	}
	return s
}

func (c *Cache) put(key string, s *Series) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = s
	if now.Sub(c.lastCleanup) < c.cleanupInterval {
		return
	}
	c.lastCleanup = now
	if n := c.pruneLocked(now); n > 0 {
		c.logger.Debug().Int("expired", n).Msg("weather cache cleanup")
	}
}

// Invalidate drops every cached entry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*Series)
	c.mu.Unlock()
}

// Prune removes expired entries and returns how many were dropped.
func (c *Cache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastCleanup = now
	return c.pruneLocked(now)
}

func (c *Cache) pruneLocked(now time.Time) int {
	n := 0
	for k, s := range c.entries {
		if !now.Before(s.ExpiresAt()) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Stats returns cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
	}
}
