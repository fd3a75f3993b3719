package resultcache

import (
	"math"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// maxTTL is where escalated ttls saturate.
const maxTTL = time.Duration(math.MaxInt64)

// scaleTTL multiplies ttl by factor, saturating at maxTTL.
func scaleTTL(ttl time.Duration, factor int64) time.Duration {
	if ttl <= 0 || factor <= 1 {
		return ttl
	}
	if ttl > maxTTL/time.Duration(factor) {
		return maxTTL
	}
	return ttl * time.Duration(factor)
}

// evictionWeight is the priority term of the eviction score.
func (p Priority) evictionWeight() float64 {
	switch p {
	case PriorityHigh:
		return 0.1
	case PriorityMedium:
		return 0.5
	default:
		return 1.0
	}
}

// Key namespaces. A key belongs to a namespace when it contains the marker
// anywhere, e.g. "pricing_benchmark_web".
const (
	NamespacePricing  = "pricing"
	NamespaceMatching = "matching"
	NamespaceFraud    = "fraud"
	NamespaceTrust    = "trust"
)

var namespaceTTLs = []struct {
	marker string
	ttl    time.Duration
}{
	{NamespacePricing, 3 * time.Minute},
	{NamespaceMatching, 10 * time.Minute},
	{NamespaceFraud, 1 * time.Minute},
	{NamespaceTrust, 15 * time.Minute},
}

// defaultTTLFor returns the ttl of the first namespace the key falls in.
func defaultTTLFor(key string, fallback time.Duration) time.Duration {
	for _, ns := range namespaceTTLs {
		if strings.Contains(key, ns.marker) {
			return ns.ttl
		}
	}
	return fallback
}

func defaultPriorityFor(key string) Priority {
	switch {
	case strings.Contains(key, NamespacePricing), strings.Contains(key, NamespaceFraud):
		return PriorityHigh
	case strings.Contains(key, NamespaceMatching), strings.Contains(key, NamespaceTrust):
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// evictScore is lower for entries that go first:
// elapsed/ttl + 1/max(hits,1) + priority weight.
func evictScore(e *entry, now time.Time) float64 {
	ageRatio := 0.0
	if e.ttl > 0 {
		ageRatio = float64(now.Sub(e.insertedAt)) / float64(e.ttl)
	}
	hits := e.hits
	if hits < 1 {
		hits = 1
	}
	return ageRatio + 1/float64(hits) + e.priority.evictionWeight()
}

// keyPrefix is the part of the key before the first underscore.
func keyPrefix(key string) string {
	if i := strings.IndexByte(key, '_'); i >= 0 {
		return key[:i]
	}
	return key
}
