package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker job metrics.
var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)

// Feed ranking metrics.
var (
	FeedRankingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_ranking_duration_seconds",
			Help:    "Time spent scoring and sorting one candidate batch",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	FeedListingsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_listings_scored_total",
			Help: "Total number of listings scored",
		},
	)

	FeedFeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_feedback_events_total",
			Help: "Feedback events applied to the ranking weights",
		},
		[]string{"action"},
	)

	FeedRankingWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_ranking_weight",
			Help: "Current value of each ranking weight",
		},
		[]string{"signal"},
	)
)

// Result cache metrics.
var (
	ResultCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "result_cache_hits_total",
			Help: "Result cache lookups that returned a live entry",
		},
	)

	ResultCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "result_cache_misses_total",
			Help: "Result cache lookups that found nothing or an expired entry",
		},
	)

	ResultCacheRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_removals_total",
			Help: "Entries removed from the result cache, by reason",
		},
		[]string{"reason"},
	)

	ResultCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "result_cache_entries",
			Help: "Number of entries currently held",
		},
	)

	ResultCacheMemoryBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "result_cache_memory_bytes",
			Help: "Estimated serialized size of all entries",
		},
	)
)
