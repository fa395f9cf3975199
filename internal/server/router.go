// Package server assembles the HTTP router from the application's parts.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/pmujumdar27/erp-admission/internal/auth"
	"github.com/pmujumdar27/erp-admission/internal/cache"
	"github.com/pmujumdar27/erp-admission/internal/handlers"
	"github.com/pmujumdar27/erp-admission/internal/inventory"
	"github.com/pmujumdar27/erp-admission/internal/maintenance"
	"github.com/pmujumdar27/erp-admission/internal/metrics"
	"github.com/pmujumdar27/erp-admission/internal/middleware"
	"github.com/pmujumdar27/erp-admission/internal/ratelimit"
	"github.com/pmujumdar27/erp-admission/internal/store"
)

const Version = "1.0.0"

// App holds everything a request may touch. It replaces process-wide
// singletons: each router is built from one App.
type App struct {
	Logger    *slog.Logger
	Store     store.Store
	Engine    *ratelimit.Engine
	Routes    *ratelimit.RouteTable
	Cache     *cache.Manager
	Janitor   *maintenance.Janitor
	Products  *inventory.Service
	JWT       *auth.JWTManager
	Users     *auth.Authenticator
	Collector metrics.Collector
	Gatherer  prometheus.Gatherer

	CacheRules     []middleware.CacheRule
	TrustedProxies []string

	db *gorm.DB
}

// NewRouter wires middleware and routes. Health and metrics endpoints are
// not subject to admission control.
func NewRouter(app *App) (*gin.Engine, error) {
	logger := app.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	if err := r.SetTrustedProxies(app.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog(logger))

	r.GET("/health", handlers.Health(app.Store))
	if app.Gatherer != nil {
		r.GET("/metrics", handlers.MetricsHandler(app.Gatherer))
	}

	limiter := ratelimit.NewMetricsDecorator(app.Engine, app.Collector)
	admitted := r.Group("",
		auth.Authenticate(app.JWT, logger),
		middleware.RateLimit(limiter, app.Routes, &middleware.RateLimitConfig{Logger: logger}),
		middleware.ResponseCache(app.Cache, app.CacheRules, logger),
	)

	admitted.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "erp-admission",
			"version": Version,
			"status":  "running",
		})
	})

	authHandler := handlers.NewAuthHandler(app.Users)
	admitted.POST("/api/auth/login", authHandler.Login)

	productHandler := inventory.NewHandler(app.Products, logger)
	products := admitted.Group("/api/products", middleware.InvalidateTags(app.Cache, logger, inventory.CacheTag))
	products.GET("", productHandler.List)
	products.GET("/:id", productHandler.Get)
	products.POST("", productHandler.Create)
	products.PUT("/:id", productHandler.Update)
	products.DELETE("/:id", productHandler.Delete)
	admitted.GET("/api/search", productHandler.Search)

	cacheHandler := handlers.NewCacheHandler(app.Cache, app.Janitor, logger)
	cacheHandler.RegisterFetcher("inventory", app.Products.Fetcher())
	cacheAdmin := admitted.Group("/cache")
	cacheAdmin.GET("/stats", cacheHandler.Stats)
	cacheAdmin.GET("/analytics", cacheHandler.Analytics)
	cacheAdmin.GET("/health", cacheHandler.Health)
	cacheAdmin.POST("/set", cacheHandler.Set)
	cacheAdmin.GET("/get/:key", cacheHandler.Get)
	cacheAdmin.DELETE("/delete/:key", cacheHandler.Delete)
	cacheAdmin.POST("/clear-tags", cacheHandler.ClearTags)
	cacheAdmin.POST("/invalidate-pattern", cacheHandler.InvalidatePattern)
	cacheAdmin.POST("/warmup", cacheHandler.Warmup)
	cacheAdmin.POST("/compress", cacheHandler.Compress)
	cacheAdmin.POST("/cleanup", cacheHandler.Cleanup)
	cacheAdmin.POST("/reset", cacheHandler.Reset)

	limitHandler := handlers.NewRateLimitHandler(app.Engine, logger)
	limitAdmin := admitted.Group("/rate-limiter")
	limitAdmin.GET("/stats", limitHandler.Stats)
	limitAdmin.POST("/whitelist", limitHandler.AddToWhitelist)
	limitAdmin.DELETE("/whitelist/:ip", limitHandler.RemoveFromWhitelist)
	limitAdmin.POST("/blacklist", limitHandler.AddToBlacklist)
	limitAdmin.DELETE("/blacklist/:ip", limitHandler.RemoveFromBlacklist)
	limitAdmin.POST("/reset", limitHandler.Reset)

	return r, nil
}
