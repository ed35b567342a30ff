// Command server runs the FinSage hybrid embedding service and its
// operational HTTP endpoints.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finsage/finsage/pkg/api"
	l2cache "github.com/finsage/finsage/pkg/cache"
	"github.com/finsage/finsage/pkg/config"
	"github.com/finsage/finsage/pkg/embedding"
	embcache "github.com/finsage/finsage/pkg/embedding/cache"
	"github.com/finsage/finsage/pkg/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("main").Errorf("failed to load config: %v", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithLevel("finsage", observability.LogLevel(cfg.Logging.Level))
	metrics := observability.NewMetricsRegistry()

	l2 := buildL2(cfg, logger)
	tiered, err := embcache.NewTieredCache(cfg.Embedding.L1CacheSize, l2,
		logger.WithPrefix("embedding.cache"), metrics)
	if err != nil {
		logger.Errorf("failed to build cache: %v", err)
		os.Exit(1)
	}

	local := embedding.NewLocalProvider(embedding.LocalProviderConfig{
		Model:          cfg.Embedding.Local.Model,
		Dimensions:     cfg.Embedding.Local.Dimensions,
		MaxBatchSize:   cfg.Embedding.Local.MaxBatchSize,
		MaxConcurrency: cfg.Embedding.Local.MaxConcurrency,
		ComputeTimeout: cfg.Embedding.Local.ComputeTimeout,
	}, logger.WithPrefix("embedding.local"))

	hybridEnabled := cfg.Embedding.HybridEnabled
	apiKey := cfg.Embedding.API.APIKey
	if apiKey == "" {
		logger.Warn("No API key configured; pinning all traffic to the local provider", nil)
		hybridEnabled = false
		apiKey = "unconfigured"
	}
	apiProvider, err := embedding.NewAPIProvider(embedding.APIProviderConfig{
		APIKey:               apiKey,
		Endpoint:             cfg.Embedding.API.Endpoint,
		Model:                cfg.Embedding.API.Model,
		Dimensions:           cfg.Embedding.API.Dimensions,
		CostPer1MTokensUSD:   cfg.Embedding.API.CostPer1MTokensUSD,
		RequestTimeout:       cfg.Embedding.API.RequestTimeout,
		MaxRetries:           cfg.Embedding.API.MaxRetries,
		RetryBaseDelay:       cfg.Embedding.API.RetryBaseDelay,
		MaxRequestsPerMinute: cfg.Embedding.API.MaxRequestsPerMinute,
	}, logger.WithPrefix("embedding.api"))
	if err != nil {
		logger.Errorf("failed to build API provider: %v", err)
		os.Exit(1)
	}

	budget := embedding.NewBudgetTracker(cfg.Embedding.DailyAPIBudgetUSD)
	comparator := embedding.NewComparator(cfg.Embedding.SimilarityWarningThreshold, 100,
		logger.WithPrefix("embedding.shadow"), metrics)

	service, err := embedding.NewHybridService(&embedding.Config{
		LocalProvider: local,
		APIProvider:   apiProvider,
		Cache:         tiered,
		Budget:        budget,
		Comparator:    comparator,
		Router: embedding.RouterConfig{
			HybridEnabled:              hybridEnabled,
			CostPer1MTokensUSD:         cfg.Embedding.API.CostPer1MTokensUSD,
			RealtimeLatencyThresholdMs: float64(cfg.Embedding.RealtimeLatencyThresholdMs),
			BatchSizeThreshold:         cfg.Embedding.BatchSizeThreshold,
			APITTL:                     time.Duration(cfg.Embedding.L2TTLAPISeconds) * time.Second,
			LocalTTL:                   time.Duration(cfg.Embedding.L2TTLLocalSeconds) * time.Second,
		},
		BreakerThreshold:  cfg.Embedding.Breaker.FailureThreshold,
		BreakerCoolDown:   cfg.Embedding.Breaker.CoolDown,
		ShadowModeEnabled: cfg.Embedding.ShadowModeEnabled,
		Logger:            logger.WithPrefix("embedding.hybrid"),
		Metrics:           metrics,
	})
	if err != nil {
		logger.Errorf("failed to build hybrid service: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Warming runs off the startup path; a slow or failed warm only delays
	// cache effectiveness
	go service.Warm(ctx, nil)

	server := api.NewServer(cfg.API, service, comparator, metrics,
		logger.WithPrefix("api"), cfg.Embedding.SimilarityWarningThreshold)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", nil)
	case err := <-errCh:
		if err != nil {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}
	if l2 != nil {
		_ = l2.Close()
	}
}

// buildL2 selects the persistent tier: Redis when reachable, the in-process
// store when configured for it, nil (L1-only) when Redis is required but down
func buildL2(cfg *config.Config, logger observability.Logger) l2cache.Cache {
	if cfg.Cache.UseMemory {
		return l2cache.NewMemoryCache(10000, time.Duration(cfg.Embedding.L2TTLLocalSeconds)*time.Second)
	}

	redis, err := l2cache.NewRedisCache(l2cache.RedisConfig{
		Address:      cfg.Cache.Address,
		Password:     cfg.Cache.Password,
		Database:     cfg.Cache.Database,
		DialTimeout:  cfg.Cache.DialTimeout,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
		PoolSize:     cfg.Cache.PoolSize,
		MaxRetries:   cfg.Cache.MaxRetries,
	})
	if err != nil {
		logger.Warn("Redis unavailable, running with L1 cache only", map[string]interface{}{
			"address": cfg.Cache.Address,
			"error":   err.Error(),
		})
		return nil
	}
	return redis
}
