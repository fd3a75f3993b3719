package resultcache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feed-workers/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fixedSize(n int64) func(interface{}) (int64, error) {
	return func(interface{}) (int64, error) { return n, nil }
}

func newTestCache(t *testing.T, clock *fakeClock, mutate ...func(*Options)) *Cache {
	opts := DefaultOptions()
	opts.Clock = clock.Now
	for _, m := range mutate {
		m(&opts)
	}
	return New(opts, logger.NewTestLogger(t))
}

func TestGet_RespectsTTL(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	c.Set("k", "v", SetOptions{TTL: 100 * time.Millisecond})

	clock.Advance(50 * time.Millisecond)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(100 * time.Millisecond)
	v, ok = c.Get("k")
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, 0, c.Len(), "expired entry is removed on read")
}

func TestGet_Missing(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	v, ok := c.Get("nope")
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestSet_NamespaceDefaults(t *testing.T) {
	tests := []struct {
		key      string
		ttl      time.Duration
		priority Priority
	}{
		{key: "pricing_benchmark_web", ttl: 3 * time.Minute, priority: PriorityHigh},
		{key: "matching_feed_u1_", ttl: 10 * time.Minute, priority: PriorityMedium},
		{key: "fraud_check_42", ttl: time.Minute, priority: PriorityHigh},
		{key: "trust_score_42", ttl: 15 * time.Minute, priority: PriorityMedium},
		{key: "profile_u1", ttl: 5 * time.Minute, priority: PriorityLow},
		// first namespace in lookup order wins for ttl
		{key: "trust_pricing", ttl: 3 * time.Minute, priority: PriorityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c := newTestCache(t, newFakeClock())
			c.Set(tt.key, 1, SetOptions{})

			e := c.entries[tt.key]
			require.NotNil(t, e)
			assert.Equal(t, tt.ttl, e.ttl)
			assert.Equal(t, tt.priority, e.priority)
		})
	}
}

func TestSet_ExplicitOptionsWin(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	c.Set("pricing_x", 1, SetOptions{TTL: time.Second, Priority: PriorityLow})

	e := c.entries["pricing_x"]
	assert.Equal(t, time.Second, e.ttl)
	assert.Equal(t, PriorityLow, e.priority)
}

func TestGet_EscalatesAfterTenHits(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	c.Set("k", "v", SetOptions{TTL: time.Minute, Priority: PriorityLow})

	for i := 0; i < 10; i++ {
		_, ok := c.Get("k")
		require.True(t, ok)
	}
	assert.Equal(t, PriorityLow, c.entries["k"].priority)
	assert.Equal(t, time.Minute, c.entries["k"].ttl)

	_, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, PriorityHigh, c.entries["k"].priority)
	assert.Equal(t, 2*time.Minute, c.entries["k"].ttl)
}

func TestGet_TTLEscalation(t *testing.T) {
	tests := []struct {
		name     string
		compound bool
		expected time.Duration
	}{
		{name: "compounding", compound: true, expected: 8 * time.Minute},
		{name: "once per entry", compound: false, expected: 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(t, newFakeClock(), func(o *Options) { o.CompoundTTLEscalation = tt.compound })
			c.Set("k", "v", SetOptions{TTL: time.Minute})

			for i := 0; i < 13; i++ {
				c.Get("k")
			}
			assert.Equal(t, tt.expected, c.entries["k"].ttl)
		})
	}
}

func TestGet_HotKeyTTLSaturates(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	c.Set("matching_feed_anonymous__20", "page", SetOptions{})

	for i := 1; i <= 100; i++ {
		_, ok := c.Get("matching_feed_anonymous__20")
		require.True(t, ok, "hot key lost on Get #%d", i)
		require.Positive(t, c.entries["matching_feed_anonymous__20"].ttl, "ttl after Get #%d", i)
	}
	assert.Equal(t, maxTTL, c.entries["matching_feed_anonymous__20"].ttl)

	clock.Advance(365 * 24 * time.Hour)
	_, ok := c.Get("matching_feed_anonymous__20")
	assert.True(t, ok)
	assert.Zero(t, c.Sweep())
}

func TestOptimizeInRealTime_SaturatesEscalatedTTL(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	c.Set("hot", 1, SetOptions{TTL: time.Hour, Priority: PriorityLow})
	c.entries["hot"].hits = 21
	c.entries["hot"].ttl = maxTTL / 2

	c.OptimizeInRealTime()

	assert.Equal(t, PriorityHigh, c.entries["hot"].priority)
	assert.Equal(t, maxTTL, c.entries["hot"].ttl)
}

func TestScaleTTL(t *testing.T) {
	tests := []struct {
		name   string
		ttl    time.Duration
		factor int64
		want   time.Duration
	}{
		{name: "doubles", ttl: time.Minute, factor: 2, want: 2 * time.Minute},
		{name: "triples", ttl: time.Minute, factor: 3, want: 3 * time.Minute},
		{name: "saturates", ttl: maxTTL/2 + 1, factor: 2, want: maxTTL},
		{name: "stays at max", ttl: maxTTL, factor: 3, want: maxTTL},
		{name: "zero ttl untouched", ttl: 0, factor: 2, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scaleTTL(tt.ttl, tt.factor))
		})
	}
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	for _, k := range []string{"pricing_a", "pricing_b", "x_pricing", "matching_a", "trust_a"} {
		c.Set(k, 1, SetOptions{})
	}

	assert.Equal(t, 3, c.Invalidate("pricing"))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 0, c.Invalidate("pricing"))

	assert.Equal(t, 1, c.InvalidateRegexp(regexp.MustCompile(`^match`)))
	_, ok := c.Get("trust_a")
	assert.True(t, ok)
}

func TestSet_EvictsAtNinetyPercent(t *testing.T) {
	c := newTestCache(t, newFakeClock(), func(o *Options) {
		o.MaxSizeMB = 1000.0 / bytesPerMB // 1000 bytes
		o.Sizer = fixedSize(100)
	})

	for i := 0; i < 9; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, SetOptions{})
	}
	require.Equal(t, 9, c.Len())
	assert.Equal(t, int64(0), c.Stats().Evictions)

	// 900 of 1000 bytes used: ceil(0.2*9) = 2 go before the insert
	c.Set("k9", 9, SetOptions{})

	assert.Equal(t, 8, c.Len())
	assert.Equal(t, int64(2), c.Stats().Evictions)
	_, ok := c.Get("k9")
	assert.True(t, ok, "the new entry is always inserted")
}

func TestSet_OverCapacityCallback(t *testing.T) {
	var calls int32
	c := newTestCache(t, newFakeClock(), func(o *Options) {
		o.MaxSizeMB = 1000.0 / bytesPerMB
		o.Sizer = fixedSize(2000)
		o.OnOverCapacity = func(used, limit int64) {
			atomic.AddInt32(&calls, 1)
			assert.Equal(t, int64(2000), used)
			assert.Equal(t, int64(1000), limit)
		}
	})

	c.Set("big", 1, SetOptions{})

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, c.Len())
}

func TestSet_SizerErrorCountsAsZero(t *testing.T) {
	c := newTestCache(t, newFakeClock(), func(o *Options) {
		o.Sizer = func(interface{}) (int64, error) { return 0, errors.New("boom") }
	})

	c.Set("k", 1, SetOptions{})

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0.0, c.Stats().MemoryMB)
}

func TestSet_DefaultSizerHandlesUnmarshalableValue(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	c.Set("k", make(chan int), SetOptions{})

	_, ok := c.Get("k")
	assert.True(t, ok)
}

// The score is evicted lowest-first, and a fresh, hot, high-priority entry
// scores lower than a stale, unread, low-priority one. This pins that
// ordering down.
func TestEvict_ScoreOrdering(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	c.Set("cold", 1, SetOptions{TTL: time.Minute, Priority: PriorityLow})
	clock.Advance(50 * time.Second)
	c.Set("hot", 1, SetOptions{TTL: time.Hour, Priority: PriorityHigh})
	for i := 0; i < 5; i++ {
		c.Get("hot")
	}
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("mid%d", i), 1, SetOptions{TTL: time.Minute, Priority: PriorityMedium})
	}

	now := clock.Now()
	assert.Less(t, evictScore(c.entries["hot"], now), evictScore(c.entries["cold"], now))

	assert.Equal(t, 1, c.Evict())
	_, hot := c.live("hot")
	_, cold := c.live("cold")
	assert.False(t, hot)
	assert.True(t, cold)
}

func TestEvict_RemovesLowestScores(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	priorities := []Priority{PriorityLow, PriorityMedium, PriorityHigh}

	for i := 0; i < 23; i++ {
		key := fmt.Sprintf("k%02d", i)
		c.Set(key, i, SetOptions{TTL: time.Duration(1+i%4) * time.Minute, Priority: priorities[i%3]})
		for h := 0; h < i%5; h++ {
			c.Get(key)
		}
		clock.Advance(time.Duration(i%7) * time.Second)
	}

	now := clock.Now()
	before := make(map[string]float64, len(c.entries))
	for k, e := range c.entries {
		before[k] = evictScore(e, now)
	}

	removed := c.Evict()
	require.Equal(t, 5, removed) // ceil(0.2 * 23)

	maxRemoved := -1.0
	minKept := 1e18
	for k, score := range before {
		if _, ok := c.entries[k]; ok {
			if score < minKept {
				minKept = score
			}
		} else if score > maxRemoved {
			maxRemoved = score
		}
	}
	assert.LessOrEqual(t, maxRemoved, minKept)
}

func TestSweep_RemovesExpiredRegardlessOfPriority(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	c.Set("a", 1, SetOptions{TTL: time.Minute, Priority: PriorityHigh})
	c.Set("b", 1, SetOptions{TTL: time.Hour, Priority: PriorityLow})

	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestOptimizeInRealTime(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	c.Set("hot", 1, SetOptions{TTL: time.Hour, Priority: PriorityLow})
	for i := 0; i < 21; i++ {
		c.Get("hot")
	}
	// Get already promoted it past 10 hits; drop it back to check (a).
	c.entries["hot"].priority = PriorityMedium
	ttlBefore := c.entries["hot"].ttl

	for i := 0; i < 12; i++ {
		c.Set(fmt.Sprintf("idle%02d", i), 1, SetOptions{TTL: time.Hour})
	}
	clock.Advance(61 * time.Second)
	c.Set("recent", 1, SetOptions{TTL: time.Hour})

	report := c.OptimizeInRealTime()

	assert.Equal(t, PriorityHigh, c.entries["hot"].priority)
	assert.Equal(t, ttlBefore*3, c.entries["hot"].ttl)
	assert.Len(t, report.Actions, 11)
	assert.Equal(t, 15+10*5, report.PerformanceGain)
	// two idle entries over the per-run limit plus hot and recent
	assert.Equal(t, 4, c.Len())
}

func TestOptimizeInRealTime_EvictsUnderPressure(t *testing.T) {
	c := newTestCache(t, newFakeClock(), func(o *Options) {
		o.MaxSizeMB = 1000.0 / bytesPerMB
		o.Sizer = fixedSize(100)
	})
	for i := 0; i < 8; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, SetOptions{})
	}

	report := c.OptimizeInRealTime()

	assert.Equal(t, 25, report.PerformanceGain)
	assert.Equal(t, 6, c.Len())
}

func TestDetailedStats(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("pricing_%02d", i)
		c.Set(key, i, SetOptions{})
		for h := 0; h <= i; h++ {
			c.Get(key)
		}
	}
	c.Set("matching_a", 1, SetOptions{})
	c.Set("plain", 1, SetOptions{})
	c.Get("missing")

	s := c.DetailedStats()

	require.Len(t, s.TopKeys, 10)
	assert.Equal(t, KeyHits{Key: "pricing_11", Hits: 12}, s.TopKeys[0])
	assert.Equal(t, map[string]int{"pricing": 12, "matching": 1, "plain": 1}, s.Distribution)
	assert.Equal(t, 14, s.Entries)
	assert.Equal(t, int64(78), s.Hits)
	assert.InDelta(t, 78.0/79.0, s.HitRate, 1e-9)
}

func TestClearAndClose(t *testing.T) {
	c := newTestCache(t, newFakeClock(), func(o *Options) { o.MaintenanceInterval = time.Millisecond })
	c.Set("a", 1, SetOptions{})
	c.Get("a")

	c.Start(context.Background())
	c.Start(context.Background())
	c.Close()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, Stats{LimitMB: 256}, c.Stats())
}

func TestGetOrFetch_DeduplicatesConcurrentMisses(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "fresh", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrFetch(context.Background(), "k", fetch, SetOptions{})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
	for _, v := range results {
		assert.Equal(t, "fresh", v)
	}
}

func TestGetOrFetch_ServesStaleOnError(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	c.Set("k", "old", SetOptions{TTL: time.Second})
	clock.Advance(time.Minute)

	boom := errors.New("db down")
	v, err := c.GetOrFetch(context.Background(), "k", func(context.Context) (interface{}, error) {
		return nil, boom
	}, SetOptions{})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "old", v)
}

func TestGetOrFetch_ErrorWithoutStale(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	v, err := c.GetOrFetch(context.Background(), "k", func(context.Context) (interface{}, error) {
		return nil, errors.New("db down")
	}, SetOptions{})

	assert.Error(t, err)
	assert.Nil(t, v)
	assert.Equal(t, 0, c.Len())
}

func TestPreload(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	c.Set("present", "keep", SetOptions{})

	var fetched int32
	ok := func(v string) FetchFunc {
		return func(context.Context) (interface{}, error) {
			atomic.AddInt32(&fetched, 1)
			return v, nil
		}
	}

	n := c.Preload(context.Background(), []PreloadItem{
		{Key: "present", Fetch: ok("replaced")},
		{Key: "a", Fetch: ok("A")},
		{Key: "b", Fetch: ok("B"), TTL: time.Hour},
		{Key: "bad", Fetch: func(context.Context) (interface{}, error) { return nil, errors.New("nope") }},
	}, 2)

	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetched))
	v, _ := c.Get("present")
	assert.Equal(t, "keep", v)
	assert.Equal(t, PriorityHigh, c.entries["a"].priority)
	assert.Equal(t, time.Hour, c.entries["b"].ttl)
	_, found := c.Get("bad")
	assert.False(t, found)
}
