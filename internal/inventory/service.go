package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pmujumdar27/erp-admission/internal/cache"
)

const (
	keyPrefix = "product:"

	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service reads products through the cache and keeps it coherent on writes.
type Service struct {
	repo   *Repository
	cache  *cache.Manager
	ttl    time.Duration
	logger *slog.Logger
}

func NewService(repo *Repository, manager *cache.Manager, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: manager, ttl: ttl, logger: logger}
}

func CacheKey(id string) string {
	return keyPrefix + id
}

func (s *Service) cacheOptions() cache.SetOptions {
	return cache.SetOptions{TTL: s.ttl, Tags: []string{CacheTag}}
}

// Get returns the product and whether it was served from the cache.
// Concurrent misses for the same product share one database read.
func (s *Service) Get(ctx context.Context, id string) (*Product, bool, error) {
	var p Product
	hit, err := s.cache.GetOrLoad(ctx, CacheKey(id), &p, s.cacheOptions(), func(ctx context.Context) (any, error) {
		return s.repo.FindByID(ctx, id)
	})
	if err != nil {
		return nil, false, err
	}
	return &p, hit, nil
}

func (s *Service) List(ctx context.Context, offset, limit int) ([]Product, int64, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return s.repo.List(ctx, offset, limit)
}

func (s *Service) Search(ctx context.Context, q string, limit int) ([]Product, error) {
	if limit < 1 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	return s.repo.Search(ctx, strings.TrimSpace(q), limit)
}

func (s *Service) Create(ctx context.Context, req *CreateProductRequest) (*Product, error) {
	p := &Product{
		SKU:         strings.TrimSpace(req.SKU),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("product created", "id", p.ID, "sku", p.SKU)
	return p, nil
}

func (s *Service) Update(ctx context.Context, id string, req *UpdateProductRequest) (*Product, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(p)
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	s.evict(ctx, id)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.evict(ctx, id)
	return nil
}

func (s *Service) evict(ctx context.Context, id string) {
	if _, err := s.cache.Delete(ctx, CacheKey(id)); err != nil {
		s.logger.Warn("failed to evict cached product", "id", id, "error", err)
	}
}

// Fetcher loads "product:<id>" keys for cache warmup.
func (s *Service) Fetcher() cache.Fetcher {
	return func(ctx context.Context, key string) (any, error) {
		id, ok := strings.CutPrefix(key, keyPrefix)
		if !ok || id == "" {
			return nil, fmt.Errorf("unsupported key %q, want %s<id>", key, keyPrefix)
		}
		return s.repo.FindByID(ctx, id)
	}
}
