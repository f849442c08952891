package core

import (
	"sync"
	"time"

	"github.com/signalsfoundry/groundtrack/model"
)

const (
	defaultTrackCacheTTL = time.Second
	// pruneThreshold is the entry count at which Put sweeps expired entries.
	pruneThreshold = 1024
)

type trackKey struct {
	id   string
	at   int64
	span time.Duration
	step time.Duration
}

type trackEntry struct {
	history model.TrackHistory
	updated time.Time
}

// TrackCache memoizes track histories per (elements, instant, span, step).
// Entries expire after the TTL, which is normally one refresh tick.
type TrackCache struct {
	mu       sync.RWMutex
	entries  map[trackKey]trackEntry
	ttl      time.Duration
	now      func() time.Time
	hits     int64
	misses   int64
	invalids int64
}

// NewTrackCache creates a cache with the provided TTL; zero uses a default.
func NewTrackCache(ttl time.Duration) *TrackCache {
	if ttl <= 0 {
		ttl = defaultTrackCacheTTL
	}
	return &TrackCache{
		entries: make(map[trackKey]trackEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *TrackCache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

func keyFor(es model.ElementSet, at time.Time, span, step time.Duration) trackKey {
	return trackKey{id: es.ID() + "|" + es.Line1 + "|" + es.Line2, at: at.UnixNano(), span: span, step: step}
}

func (c *TrackCache) Get(es model.ElementSet, at time.Time, span, step time.Duration) (model.TrackHistory, bool) {
	if c == nil {
		return nil, false
	}
	key := keyFor(es, at, span, step)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.updated) > c.ttl {
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	return entry.history.Clone(), true
}

func (c *TrackCache) Put(es model.ElementSet, at time.Time, span, step time.Duration, h model.TrackHistory) {
	if c == nil {
		return
	}
	key := keyFor(es, at, span, step)
	now := c.now()
	c.mu.Lock()
	if len(c.entries) >= pruneThreshold {
		c.pruneLocked(now)
	}
	c.entries[key] = trackEntry{history: h.Clone(), updated: now}
	c.mu.Unlock()
}

// Prune drops expired entries.
func (c *TrackCache) Prune() {
	if c == nil {
		return
	}
	now := c.now()
	c.mu.Lock()
	c.pruneLocked(now)
	c.mu.Unlock()
}

func (c *TrackCache) pruneLocked(now time.Time) {
	for k, e := range c.entries {
		if now.Sub(e.updated) > c.ttl {
			delete(c.entries, k)
		}
	}
}

// InvalidateAll drops every entry, e.g. after a catalog reload.
func (c *TrackCache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[trackKey]trackEntry)
	c.invalids++
	c.mu.Unlock()
}

func (c *TrackCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TrackCache) Stats() (hits, misses, invalids int64) {
	if c == nil {
		return 0, 0, 0
	}
	c.mu.RLock()
	hits, misses, invalids = c.hits, c.misses, c.invalids
	c.mu.RUnlock()
	return
}

func (c *TrackCache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *TrackCache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// CacheObserver is told about cache hits and misses.
type CacheObserver interface {
	ObserveTrackCache(hit bool)
}

// CachedEngine fronts an Engine with a TrackCache.
type CachedEngine struct {
	*Engine
	cache    *TrackCache
	observer CacheObserver
}

// NewCachedEngine wraps e; a nil cache gets a default one.
func NewCachedEngine(e *Engine, cache *TrackCache, observer CacheObserver) *CachedEngine {
	if cache == nil {
		cache = NewTrackCache(0)
	}
	return &CachedEngine{Engine: e, cache: cache, observer: observer}
}

// Cache exposes the underlying cache.
func (c *CachedEngine) Cache() *TrackCache { return c.cache }

// History returns a memoized history when one is fresh, otherwise computes
// and stores it. Errors are never cached.
func (c *CachedEngine) History(es model.ElementSet, at time.Time, span, step time.Duration) (model.TrackHistory, error) {
	if h, ok := c.cache.Get(es, at, span, step); ok {
		c.observe(true)
		return h, nil
	}
	c.observe(false)
	h, err := c.Engine.History(es, at, span, step)
	if err != nil {
		return nil, err
	}
	c.cache.Put(es, at, span, step, h)
	return h, nil
}

// Track is History plus its first sample.
func (c *CachedEngine) Track(es model.ElementSet, at time.Time, span, step time.Duration) (model.KinematicSample, model.TrackHistory, error) {
	h, err := c.History(es, at, span, step)
	if err != nil {
		return model.KinematicSample{}, nil, err
	}
	return h[0], h, nil
}

func (c *CachedEngine) observe(hit bool) {
	if c.observer != nil {
		c.observer.ObserveTrackCache(hit)
	}
}
