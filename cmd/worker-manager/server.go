package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"feed-workers/internal/common/database"
	"feed-workers/internal/ranker"
	"feed-workers/internal/resultcache"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type cacheStatser interface {
	DetailedStats() resultcache.DetailedStats
}

type rankerMetrics interface {
	Metrics() ranker.Metrics
}

func newServeMux(cache cacheStatser, r rankerMetrics, deps ...database.Pinger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()

		failures := database.CheckAll(ctx, deps...)
		status := http.StatusOK
		body := map[string]interface{}{"status": "ready"}
		if len(failures) > 0 {
			status = http.StatusServiceUnavailable
			body = map[string]interface{}{"status": "not ready", "failures": failures}
		}
		writeJSON(w, status, body)
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/cache/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"cache":  cache.DetailedStats(),
			"ranker": r.Metrics(),
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
