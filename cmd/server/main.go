// Command server starts the intent routing HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	backendadapter "github.com/fairyhunter13/intent-router/internal/adapter/backend"
	"github.com/fairyhunter13/intent-router/internal/adapter/cache"
	httpserver "github.com/fairyhunter13/intent-router/internal/adapter/httpserver"
	"github.com/fairyhunter13/intent-router/internal/adapter/observability"
	"github.com/fairyhunter13/intent-router/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/intent-router/internal/app"
	"github.com/fairyhunter13/intent-router/internal/config"
	"github.com/fairyhunter13/intent-router/internal/domain"
	"github.com/fairyhunter13/intent-router/internal/runtimeconfig"
	"github.com/fairyhunter13/intent-router/internal/service/breaker"
	"github.com/fairyhunter13/intent-router/internal/service/experiment"
	"github.com/fairyhunter13/intent-router/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, backend, cache, and experiment instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Backend registry from the YAML file.
	descriptors, err := config.LoadBackends(cfg.BackendsFile)
	if err != nil {
		slog.Error("backend registry load failed", slog.Any("error", err))
		os.Exit(1)
	}
	backends := backendadapter.Build(descriptors, cfg.BackendRetryMax, cfg.BackendRetryInterval)

	// Live routing configuration, seeded from static config.
	initial := runtimeconfig.Default()
	initial.BreakerFailureThreshold = cfg.BreakerFailureThreshold
	initial.BreakerCooldown = cfg.BreakerCooldown
	store, err := runtimeconfig.New(initial)
	if err != nil {
		slog.Error("runtime config seed invalid", slog.Any("error", err))
		os.Exit(1)
	}

	// Cache tiers. Redis is optional; without it the shared tier is skipped.
	var sharedCache *cache.Redis
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		sharedCache = cache.NewRedis(redisClient, cfg.CacheTTL)
		slog.Info("shared cache enabled", slog.String("addr", cfg.RedisAddr))
	} else {
		slog.Warn("REDIS_ADDR empty, running without the shared cache tier")
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()
	tiered := cache.NewTiered(
		cache.NewMemory(cfg.MemoryCacheSize, cfg.CacheTTL),
		sharedCache,
		cache.NewSimilarityIndex(cfg.SimilarityIndexSize, cfg.CacheTTL),
		store,
	)

	// Feedback sink (Redpanda producer). Optional: without brokers,
	// corrections still invalidate the cache but are not persisted.
	var sink domain.FeedbackSink
	var producer *redpanda.FeedbackProducer
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaBrokers[0] != "" {
		producer, err = redpanda.NewFeedbackProducer(cfg.KafkaBrokers, cfg.FeedbackTopic)
		if err != nil {
			slog.Error("feedback producer connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		sink = producer
		defer func() {
			if err := producer.Close(); err != nil {
				slog.Error("failed to close feedback producer", slog.Any("error", err))
			}
		}()
	} else {
		slog.Warn("KAFKA_BROKERS empty, feedback records are not persisted")
	}

	breakers := breaker.NewManager(func() (int, time.Duration) {
		snap := store.Load()
		return snap.BreakerFailureThreshold, snap.BreakerCooldown
	})
	assigner := experiment.New(store, time.Now().UnixNano())
	stats := usecase.NewRouterStats()

	classifier := usecase.NewClassifyService(cfg, store, descriptors, backends, tiered, breakers, assigner, stats)
	feedback := usecase.NewFeedbackCollector(tiered, sink, cfg.FeedbackQueueSize)
	defer feedback.Close()

	var cachePinger, brokerPinger app.Pinger
	if sharedCache != nil {
		cachePinger = sharedCache
	}
	if producer != nil {
		brokerPinger = producer
	}
	cacheCheck, brokerCheck := app.BuildReadinessChecks(cachePinger, brokerPinger)

	srv := httpserver.NewServer(cfg, classifier, feedback, cacheCheck, brokerCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
