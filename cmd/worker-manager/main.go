// cmd/worker-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"feed-workers/internal/common/aws"
	"feed-workers/internal/common/camunda"
	"feed-workers/internal/common/config"
	"feed-workers/internal/common/database"
	"feed-workers/internal/common/logger"
	"feed-workers/internal/common/observability"
	"feed-workers/internal/common/validation"
	"feed-workers/internal/ranker"
	"feed-workers/internal/repository"
	"feed-workers/internal/resultcache"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewService(cfg.Logging.Level, cfg.Logging.Format, cfg.App.Name)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...", zap.String("environment", cfg.App.Environment))

	obs, err := observability.New(observability.Options{
		ServiceName:    cfg.Observability.ServiceName,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
		SampleRatio:    cfg.Observability.SampleRatio,
	})
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.Dial(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return err
		}
		return nil
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	redis := database.NewRedis(cfg.Database.Redis)
	err = retryWithBackoff(func() error {
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	zapLog.Info("Redis connected successfully")

	// --- Ranking and result cache ---
	feedRanker := ranker.New(ranker.Options{HalfLife: cfg.Feed.HalfLife()}, log)

	var alerter *aws.CapacityAlerter
	if cfg.Alerts.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Alerts.SNS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		alerter = aws.NewCapacityAlerter(snsClient, cfg.Alerts.SNS.TopicARN, cfg.App.Name,
			config.GetDuration(cfg.Alerts.SNS.Cooldown), log)
	}

	cache := resultcache.New(cacheOptions(cfg.Cache, alerter), log)
	cache.Start(ctx)
	if interval := config.GetDuration(cfg.Cache.OptimizeInterval); interval > 0 {
		go runOptimizer(ctx, cache, interval, log)
	}

	validator, err := validation.NewDefaultValidator()
	if err != nil {
		zapLog.Fatal("input schemas failed to compile", zap.Error(err))
	}

	repos := &stores{
		listings: repository.NewListingRepository(pg.DB),
		feedback: repository.NewFeedbackRepository(pg.DB),
		seen:     repository.NewSeenStore(redis.Client, cfg.Feed.SeenTTL()),
		profiles: repository.NewProfileStore(pg.DB, redis.Client,
			config.GetDuration(cfg.Feed.ProfileCacheTTL), log),
	}
	repos.benchmarks = repository.NewBenchmarkSource(esClient.Client, cfg.Database.Elasticsearch.ListingsIndex,
		repos.listings, cfg.Feed.BenchmarkQPS, log)

	warmed := warmBenchmarks(ctx, cache, feedRanker, repos, log)
	zapLog.Info("market benchmarks warmed", zap.Int("categories", warmed))

	// --- Register workers ---
	workers := registerWorkers(zeebe, cfg, &app{
		ranker:    feedRanker,
		cache:     cache,
		validator: validator,
		obs:       obs,
		stores:    repos,
	}, log)
	zapLog.Info("workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newServeMux(cache, feedRanker, pg, redis, esClient, zeebe),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, w := range workers {
		w.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}

	cancel()
	cache.Close()
	if alerter != nil {
		alerter.Wait()
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error flushing telemetry", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}
	_ = redis.Close()
	_ = pg.Close()

	zapLog.Info("Worker manager stopped")
}

func cacheOptions(cfg config.CacheConfig, alerter *aws.CapacityAlerter) resultcache.Options {
	opts := resultcache.DefaultOptions()
	if cfg.MaxSizeMB > 0 {
		opts.MaxSizeMB = cfg.MaxSizeMB
	}
	if cfg.DefaultTTL > 0 {
		opts.DefaultTTL = config.GetDuration(cfg.DefaultTTL)
	}
	if cfg.MaintenanceInterval > 0 {
		opts.MaintenanceInterval = config.GetDuration(cfg.MaintenanceInterval)
	}
	if cfg.EvictionThreshold > 0 {
		opts.EvictionThreshold = cfg.EvictionThreshold
	}
	if cfg.OptimizeThreshold > 0 {
		opts.OptimizeThreshold = cfg.OptimizeThreshold
	}
	opts.CompoundTTLEscalation = cfg.CompoundEscalation()
	if alerter != nil {
		opts.OnOverCapacity = alerter.Notify
	}
	return opts
}

func runOptimizer(ctx context.Context, cache *resultcache.Cache, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := cache.OptimizeInRealTime()
			if len(report.Actions) > 0 {
				log.Debug("result cache optimized", map[string]interface{}{
					"actions":         len(report.Actions),
					"performanceGain": report.PerformanceGain,
				})
			}
		}
	}
}
