// Package resultcache is an in-process, memory-bounded store for computed
// artifacts (ranked feed pages, benchmarks, scores). Entries carry a ttl and
// a priority, both derived from the key namespace unless given explicitly.
// Hot entries are promoted; when estimated usage nears the limit a fifth of
// the entries is evicted. Nothing here performs I/O while holding the lock.
package resultcache

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"feed-workers/internal/common/logger"
	"feed-workers/internal/common/metrics"

	"golang.org/x/sync/singleflight"
)

const (
	bytesPerMB = 1024 * 1024

	promotionHits = 10
	evictFraction = 0.2
)

// Removal reasons, used as metric labels.
const (
	reasonExpired    = "expired"
	reasonCapacity   = "capacity"
	reasonUnused     = "unused"
	reasonInvalidate = "invalidate"
	reasonClear      = "clear"
)

type Options struct {
	MaxSizeMB           float64
	DefaultTTL          time.Duration
	MaintenanceInterval time.Duration
	// EvictionThreshold is the usage ratio at which Set evicts first.
	EvictionThreshold float64
	// OptimizeThreshold is the usage ratio above which OptimizeInRealTime
	// runs an eviction pass.
	OptimizeThreshold float64
	// CompoundTTLEscalation doubles the ttl on every hit past the promotion
	// threshold. When false the ttl is doubled once per entry.
	CompoundTTLEscalation bool

	Clock func() time.Time
	// Sizer estimates the footprint of a value. Defaults to its JSON length.
	Sizer func(value interface{}) (int64, error)
	// OnOverCapacity is called outside the lock when an insert leaves the
	// cache above its limit even after eviction.
	OnOverCapacity func(usedBytes, limitBytes int64)
}

func DefaultOptions() Options {
	return Options{
		MaxSizeMB:             256,
		DefaultTTL:            5 * time.Minute,
		MaintenanceInterval:   2 * time.Minute,
		EvictionThreshold:     0.9,
		OptimizeThreshold:     0.7,
		CompoundTTLEscalation: true,
	}
}

// SetOptions override the namespace defaults for one Set.
type SetOptions struct {
	TTL      time.Duration
	Priority Priority
}

type entry struct {
	key        string
	value      interface{}
	insertedAt time.Time
	hits       int
	ttl        time.Duration
	priority   Priority
	escalated  bool
	size       int64
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) > e.ttl
}

type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	hitCounts map[string]int64 // survives re-Set, cleared on removal
	usedBytes int64

	hits      int64
	misses    int64
	evictions int64

	opts   Options
	now    func() time.Time
	sizer  func(value interface{}) (int64, error)
	logger logger.Logger

	flights singleflight.Group

	stopMu sync.Mutex
	stop   context.CancelFunc
	done   chan struct{}
}

func New(opts Options, log logger.Logger) *Cache {
	def := DefaultOptions()
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = def.MaxSizeMB
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = def.DefaultTTL
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = def.MaintenanceInterval
	}
	if opts.EvictionThreshold <= 0 {
		opts.EvictionThreshold = def.EvictionThreshold
	}
	if opts.OptimizeThreshold <= 0 {
		opts.OptimizeThreshold = def.OptimizeThreshold
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sizer == nil {
		opts.Sizer = jsonSize
	}

	return &Cache{
		entries:   make(map[string]*entry),
		hitCounts: make(map[string]int64),
		opts:      opts,
		now:       opts.Clock,
		sizer:     opts.Sizer,
		logger:    log.WithFields(map[string]interface{}{"component": "result-cache"}),
	}
}

// sizedEntry mirrors what a serialized entry looks like.
type sizedEntry struct {
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	HitCount  int         `json:"hit_count"`
	TTL       int64       `json:"ttl"`
	Priority  Priority    `json:"priority"`
}

func jsonSize(value interface{}) (int64, error) {
	b, err := json.Marshal(sizedEntry{
		Data:      value,
		Timestamp: time.Now().UnixMilli(),
		TTL:       int64(time.Hour / time.Millisecond),
		Priority:  PriorityMedium,
	})
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

func (c *Cache) limitBytes() int64 {
	return int64(c.opts.MaxSizeMB * bytesPerMB)
}

// Set stores value under key. Missing ttl and priority come from the key
// namespace. When usage is at or above the eviction threshold an eviction
// pass runs first; the insert itself always succeeds.
func (c *Cache) Set(key string, value interface{}, opts SetOptions) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTLFor(key, c.opts.DefaultTTL)
	}
	priority := opts.Priority
	if !priority.Valid() {
		priority = defaultPriorityFor(key)
	}

	size, err := c.sizer(value)
	if err != nil {
		// usage unknown, count it as free
		c.logger.Warn("result cache could not size entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		size = 0
	}

	c.mu.Lock()
	limit := c.limitBytes()
	if float64(c.usedBytes) >= c.opts.EvictionThreshold*float64(limit) {
		c.evictLocked()
	}

	if old, ok := c.entries[key]; ok {
		c.usedBytes -= old.size
	}
	c.entries[key] = &entry{
		key:        key,
		value:      value,
		insertedAt: c.now(),
		ttl:        ttl,
		priority:   priority,
		size:       size,
	}
	c.usedBytes += size
	used := c.usedBytes
	c.publishLocked()
	c.mu.Unlock()

	if used > limit {
		c.logger.Warn("result cache over capacity", map[string]interface{}{
			"usedBytes":  used,
			"limitBytes": limit,
		})
		if c.opts.OnOverCapacity != nil {
			c.opts.OnOverCapacity(used, limit)
		}
	}
}

// Get returns the value for key if it has not outlived its ttl. Expired
// entries are removed on the way.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		metrics.ResultCacheMisses.Inc()
		return nil, false
	}
	if e.expired(c.now()) {
		c.removeLocked(key, reasonExpired)
		c.misses++
		metrics.ResultCacheMisses.Inc()
		c.publishLocked()
		return nil, false
	}

	e.hits++
	c.hitCounts[key]++
	c.hits++
	metrics.ResultCacheHits.Inc()

	if e.hits > promotionHits {
		e.priority = PriorityHigh
		if c.opts.CompoundTTLEscalation || !e.escalated {
			e.ttl = scaleTTL(e.ttl, 2)
			e.escalated = true
		}
	}
	return e.value, true
}

// live is Get without counters, promotion or lazy removal.
func (c *Cache) live(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.expired(c.now()) {
		return nil, false
	}
	return e.value, true
}

// peek returns the stored value even if it has expired, without touching
// any counters.
func (c *Cache) peek(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Len is the number of stored entries, expired ones included until they
// are swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Invalidate removes every key containing pattern and returns how many
// were removed.
func (c *Cache) Invalidate(pattern string) int {
	return c.invalidateMatching(func(key string) bool {
		return strings.Contains(key, pattern)
	}, pattern)
}

func (c *Cache) InvalidateRegexp(re *regexp.Regexp) int {
	return c.invalidateMatching(re.MatchString, re.String())
}

func (c *Cache) invalidateMatching(match func(string) bool, pattern string) int {
	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if match(key) {
			c.removeLocked(key, reasonInvalidate)
			removed++
		}
	}
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("result cache invalidated", map[string]interface{}{
		"pattern": pattern,
		"removed": removed,
	})
	return removed
}

// Sweep removes every entry past its ttl regardless of priority.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(key, reasonExpired)
			removed++
		}
	}
	c.publishLocked()
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("result cache swept expired entries", map[string]interface{}{
			"removed": removed,
		})
	}
	return removed
}

// Evict runs one capacity eviction pass and returns the number of
// entries removed.
func (c *Cache) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.evictLocked()
	c.publishLocked()
	return n
}

// evictLocked removes the ceil(20%) entries with the lowest evictScore.
func (c *Cache) evictLocked() int {
	if len(c.entries) == 0 {
		return 0
	}
	now := c.now()

	type scored struct {
		key   string
		score float64
	}
	candidates := make([]scored, 0, len(c.entries))
	for key, e := range c.entries {
		candidates = append(candidates, scored{key: key, score: evictScore(e, now)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].key < candidates[j].key
	})

	n := int(math.Ceil(float64(len(candidates)) * evictFraction))
	for _, cand := range candidates[:n] {
		c.removeLocked(cand.key, reasonCapacity)
		c.evictions++
	}

	c.logger.Info("result cache evicted entries", map[string]interface{}{
		"evicted":   n,
		"remaining": len(c.entries),
	})
	return n
}

func (c *Cache) removeLocked(key, reason string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	c.usedBytes -= e.size
	delete(c.entries, key)
	delete(c.hitCounts, key)
	metrics.ResultCacheRemovals.WithLabelValues(reason).Inc()
}

func (c *Cache) publishLocked() {
	metrics.ResultCacheEntries.Set(float64(len(c.entries)))
	metrics.ResultCacheMemoryBytes.Set(float64(c.usedBytes))
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	for key := range c.entries {
		c.removeLocked(key, reasonClear)
	}
	c.hitCounts = make(map[string]int64)
	c.usedBytes = 0
	c.hits, c.misses, c.evictions = 0, 0, 0
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("result cache cleared", nil)
}

// Start runs the maintenance sweep every MaintenanceInterval until ctx is
// done or Close is called. Calling Start twice is a no-op.
func (c *Cache) Start(ctx context.Context) {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.stop != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.opts.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()

	c.logger.Info("result cache maintenance started", map[string]interface{}{
		"interval": c.opts.MaintenanceInterval.String(),
	})
}

// Close stops maintenance and clears the cache.
func (c *Cache) Close() {
	c.stopMu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.stopMu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	c.Clear()
}
