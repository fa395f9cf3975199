package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pmujumdar27/erp-admission/internal/config"
	"github.com/pmujumdar27/erp-admission/internal/metrics"
)

// Open builds the store selected by cfg. With the redis backend and fallback
// enabled, an unreachable Redis at startup yields a store that serves from
// memory and keeps probing Redis, instead of an error.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, collector metrics.Collector) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	local := NewMemoryStoreWithConfig(MemoryStoreConfig{CleanupInterval: cfg.Store.CleanupInterval})
	if cfg.Store.Backend == config.BackendMemory {
		logger.Info("using in-process store")
		return Instrument(local, collector), nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Store.OperationTimeout,
		WriteTimeout: cfg.Store.OperationTimeout,
		MaxRetries:   -1,
	})
	remote := NewRedisStore(client, cfg.Redis.KeyPrefix)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
	pingErr := remote.Ping(pingCtx)
	cancel()

	if !cfg.Store.Fallback {
		local.Close()
		if pingErr != nil {
			client.Close()
			return nil, fmt.Errorf("%w: redis at %s: %v", ErrUnavailable, addr, pingErr)
		}
		logger.Info("using redis store", "addr", addr)
		return Instrument(remote, collector), nil
	}

	fallback := NewFallbackStore(remote, local, FallbackConfig{
		OperationTimeout: cfg.Store.OperationTimeout,
		MaxRetries:       cfg.Store.MaxRetries,
		MirrorWrites:     cfg.Store.MirrorWrites,
		Circuit: CircuitOptions{
			FailureThreshold: cfg.Store.FailureThreshold,
			OpenDuration:     cfg.Store.OpenDuration,
		},
	}, logger)

	if pingErr != nil {
		logger.Warn("redis unreachable at startup, serving from in-process store",
			"addr", addr,
			"error", pingErr)
		fallback.Trip()
	} else {
		logger.Info("using redis store with in-process fallback", "addr", addr)
	}

	return Instrument(fallback, collector), nil
}
