// Package inventory is the product catalogue served behind the cache.
package inventory

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CacheTag marks every cached product read.
const CacheTag = "product"

type Product struct {
	ID          string         `gorm:"primarykey;size:36" json:"id"`
	SKU         string         `gorm:"size:64;uniqueIndex;not null" json:"sku"`
	Name        string         `gorm:"size:255;not null" json:"name"`
	Description string         `gorm:"size:1000" json:"description"`
	Price       float64        `gorm:"not null" json:"price"`
	Stock       int            `gorm:"not null;default:0" json:"stock"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Product) TableName() string {
	return "products"
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type CreateProductRequest struct {
	SKU         string  `json:"sku" binding:"required,max=64"`
	Name        string  `json:"name" binding:"required,max=255"`
	Description string  `json:"description" binding:"max=1000"`
	Price       float64 `json:"price" binding:"required,gt=0"`
	Stock       int     `json:"stock" binding:"gte=0"`
}

type UpdateProductRequest struct {
	Name        *string  `json:"name,omitempty" binding:"omitempty,min=1,max=255"`
	Description *string  `json:"description,omitempty" binding:"omitempty,max=1000"`
	Price       *float64 `json:"price,omitempty" binding:"omitempty,gt=0"`
	Stock       *int     `json:"stock,omitempty" binding:"omitempty,gte=0"`
}

func (r *UpdateProductRequest) apply(p *Product) {
	if r.Name != nil {
		p.Name = *r.Name
	}
	if r.Description != nil {
		p.Description = *r.Description
	}
	if r.Price != nil {
		p.Price = *r.Price
	}
	if r.Stock != nil {
		p.Stock = *r.Stock
	}
}
