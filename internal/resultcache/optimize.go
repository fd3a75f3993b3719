package resultcache

import (
	"fmt"
	"sort"
	"time"
)

const (
	hotHits         = 20
	hotTTLFactor    = 3
	unusedMinAge    = 60 * time.Second
	unusedMaxRemove = 10

	gainHotEscalation = 15
	gainUnusedRemoval = 5
	gainEvictionPass  = 25

	topKeysLimit = 10
)

// OptimizationReport lists what OptimizeInRealTime did. PerformanceGain is
// a reporting heuristic, not a measurement.
type OptimizationReport struct {
	Actions         []string `json:"actions"`
	PerformanceGain int      `json:"performanceGain"`
}

// OptimizeInRealTime promotes hot entries, drops old entries nobody read and
// runs an eviction pass when usage is above OptimizeThreshold.
func (c *Cache) OptimizeInRealTime() OptimizationReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := OptimizationReport{Actions: []string{}}
	now := c.now()

	for key, e := range c.entries {
		if e.hits > hotHits && e.priority != PriorityHigh {
			e.priority = PriorityHigh
			e.ttl = scaleTTL(e.ttl, hotTTLFactor)
			report.Actions = append(report.Actions, fmt.Sprintf("escalated %s to high priority", key))
			report.PerformanceGain += gainHotEscalation
		}
	}

	var unused []string
	for key, e := range c.entries {
		if e.hits == 0 && now.Sub(e.insertedAt) > unusedMinAge {
			unused = append(unused, key)
		}
	}
	// oldest first so repeated runs make progress deterministically
	sort.Slice(unused, func(i, j int) bool {
		a, b := c.entries[unused[i]], c.entries[unused[j]]
		if !a.insertedAt.Equal(b.insertedAt) {
			return a.insertedAt.Before(b.insertedAt)
		}
		return unused[i] < unused[j]
	})
	if len(unused) > unusedMaxRemove {
		unused = unused[:unusedMaxRemove]
	}
	for _, key := range unused {
		c.removeLocked(key, reasonUnused)
		report.Actions = append(report.Actions, fmt.Sprintf("removed unused entry %s", key))
		report.PerformanceGain += gainUnusedRemoval
	}

	if float64(c.usedBytes) > c.opts.OptimizeThreshold*float64(c.limitBytes()) {
		n := c.evictLocked()
		report.Actions = append(report.Actions, fmt.Sprintf("evicted %d entries under memory pressure", n))
		report.PerformanceGain += gainEvictionPass
	}

	c.publishLocked()

	c.logger.Info("result cache optimized", map[string]interface{}{
		"actions":         len(report.Actions),
		"performanceGain": report.PerformanceGain,
	})
	return report
}

type KeyHits struct {
	Key  string `json:"key"`
	Hits int64  `json:"hits"`
}

type Stats struct {
	Entries     int     `json:"entries"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hitRate"`
	MemoryMB    float64 `json:"memoryMb"`
	LimitMB     float64 `json:"limitMb"`
	Evictions   int64   `json:"evictions"`
	Utilization float64 `json:"utilization"`
}

type DetailedStats struct {
	Stats
	TopKeys      []KeyHits      `json:"topKeys"`
	Distribution map[string]int `json:"distribution"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Cache) statsLocked() Stats {
	s := Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		MemoryMB:  float64(c.usedBytes) / bytesPerMB,
		LimitMB:   c.opts.MaxSizeMB,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	if limit := c.limitBytes(); limit > 0 {
		s.Utilization = float64(c.usedBytes) / float64(limit)
	}
	return s
}

// DetailedStats adds the ten most-read keys and the number of live entries
// per key prefix.
func (c *Cache) DetailedStats() DetailedStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	top := make([]KeyHits, 0, len(c.hitCounts))
	for key, hits := range c.hitCounts {
		top = append(top, KeyHits{Key: key, Hits: hits})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Hits != top[j].Hits {
			return top[i].Hits > top[j].Hits
		}
		return top[i].Key < top[j].Key
	})
	if len(top) > topKeysLimit {
		top = top[:topKeysLimit]
	}

	dist := make(map[string]int)
	for key := range c.entries {
		dist[keyPrefix(key)]++
	}

	return DetailedStats{
		Stats:        c.statsLocked(),
		TopKeys:      top,
		Distribution: dist,
	}
}
