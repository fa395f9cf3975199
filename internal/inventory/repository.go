package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound     = errors.New("product not found")
	ErrDuplicateSKU = errors.New("product sku already exists")
)

// OpenDB opens the sqlite database at dsn and migrates the schema. Slow
// queries and errors are logged through log.
func OpenDB(dsn string, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.New(slog.NewLogLogger(log.Handler(), slog.LevelWarn), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := NewRepository(db).Migrate(); err != nil {
		return nil, err
	}
	return db, nil
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(&Product{}); err != nil {
		return fmt.Errorf("migrate products: %w", err)
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, p *Product) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateSKU
		}
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*Product, error) {
	var p Product
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return &p, nil
}

// List returns a page of products ordered by SKU and the total count.
func (r *Repository) List(ctx context.Context, offset, limit int) ([]Product, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Product{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	products := make([]Product, 0, limit)
	if err := r.db.WithContext(ctx).Order("sku").Offset(offset).Limit(limit).Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	return products, total, nil
}

// Search matches q against SKU, name and description, case-insensitively.
func (r *Repository) Search(ctx context.Context, q string, limit int) ([]Product, error) {
	like := "%" + strings.ToLower(q) + "%"
	products := make([]Product, 0)
	err := r.db.WithContext(ctx).
		Where("LOWER(sku) LIKE ? OR LOWER(name) LIKE ? OR LOWER(description) LIKE ?", like, like, like).
		Order("sku").
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return products, nil
}

func (r *Repository) Update(ctx context.Context, p *Product) error {
	result := r.db.WithContext(ctx).Save(p)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

// Delete soft-deletes the product.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&Product{}, "id = ?", id)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
