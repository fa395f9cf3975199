package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pmujumdar27/erp-admission/internal/auth"
	"github.com/pmujumdar27/erp-admission/internal/cache"
	"github.com/pmujumdar27/erp-admission/internal/config"
	"github.com/pmujumdar27/erp-admission/internal/inventory"
	"github.com/pmujumdar27/erp-admission/internal/maintenance"
	"github.com/pmujumdar27/erp-admission/internal/metrics"
	"github.com/pmujumdar27/erp-admission/internal/middleware"
	"github.com/pmujumdar27/erp-admission/internal/ratelimit"
	"github.com/pmujumdar27/erp-admission/internal/store"
)

// NewApp builds every component from cfg. Configuration errors are returned
// before anything starts serving.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, collector metrics.Collector) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	strategies, err := ratelimit.BuildStrategies(cfg.RateLimit.Strategies)
	if err != nil {
		return nil, err
	}
	routes, err := ratelimit.NewRouteTable(cfg.RateLimit.Routes, strategies)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(ctx, cfg, logger, collector)
	if err != nil {
		return nil, err
	}

	engine, err := ratelimit.NewEngine(s, ratelimit.EngineConfig{
		Strategies: strategies,
		FailOpen:   cfg.RateLimit.FailOpen,
	}, logger.With("component", "ratelimit"))
	if err != nil {
		s.Close()
		return nil, err
	}

	cacheLogger := logger.With("component", "cache")
	manager := cache.NewManager(s, cache.ConfigFrom(cfg.Cache), collector, cacheLogger)

	db, err := inventory.OpenDB(cfg.Database.DSN, logger.With("component", "database"))
	if err != nil {
		s.Close()
		return nil, err
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	return &App{
		Logger:         logger,
		Store:          s,
		Engine:         engine,
		Routes:         routes,
		Cache:          manager,
		Janitor:        maintenance.NewJanitor(manager, engine, logger.With("component", "maintenance")),
		Products:       inventory.NewService(inventory.NewRepository(db), manager, productTTL(cfg.Cache), cacheLogger),
		JWT:            jwtManager,
		Users:          auth.NewAuthenticator(cfg.Auth.Users, jwtManager),
		Collector:      collector,
		CacheRules:     middleware.CacheRulesFrom(cfg.Cache.Routes),
		TrustedProxies: cfg.Server.TrustedProxies,
		db:             db,
	}, nil
}

// productTTL uses the TTL of the cache route covering /api/products, or the
// cache default.
func productTTL(cfg config.CacheConfig) time.Duration {
	for _, r := range cfg.Routes {
		if r.Path == "/api/products" && r.TTL > 0 {
			return r.TTL
		}
	}
	return cfg.DefaultTTL
}

// Close releases the database and the store. The store goes last.
func (a *App) Close() error {
	var errs []error
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
