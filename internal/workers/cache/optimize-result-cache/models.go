package optimizeresultcache

import "feed-workers/internal/resultcache"

type Input struct {
	// SkipSweep leaves expired entries to the maintenance loop.
	SkipSweep bool `json:"skipSweep"`
}

type Output struct {
	Expired         int                       `json:"expired"`
	Actions         []string                  `json:"actions"`
	PerformanceGain int                       `json:"performanceGain"`
	Stats           resultcache.DetailedStats `json:"stats"`
}
