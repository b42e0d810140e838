// internal/domain/product/service.go
package product

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrVariantNotFound is returned when a variant does not exist or is inactive
var ErrVariantNotFound = errors.New("product variant not found")

// Service exposes read-only catalog lookups
type Service struct {
	db *gorm.DB
}

// NewService creates a new product service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetVariant returns the live view of an active variant
func (s *Service) GetVariant(ctx context.Context, variantID uint) (*VariantView, error) {
	var v ProductVariant
	err := s.db.WithContext(ctx).
		Preload("Product").
		Joins("JOIN products ON products.id = product_variants.product_id AND products.deleted_at IS NULL").
		Where("product_variants.id = ? AND product_variants.is_active = ? AND products.is_active = ?", variantID, true, true).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVariantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load variant %d: %w", variantID, err)
	}

	view := toView(&v)
	return &view, nil
}

// VariantsByIDs returns live views keyed by variant id. Missing or inactive
// variants are absent from the map.
func (s *Service) VariantsByIDs(ctx context.Context, ids []uint) (map[uint]VariantView, error) {
	result := make(map[uint]VariantView, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var variants []ProductVariant
	err := s.db.WithContext(ctx).
		Preload("Product").
		Where("id IN ? AND is_active = ?", ids, true).
		Find(&variants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}

	for i := range variants {
		if variants[i].Product == nil || !variants[i].Product.IsActive {
			continue
		}
		result[variants[i].ID] = toView(&variants[i])
	}
	return result, nil
}

// Listing limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ErrProductNotFound is returned when a product does not exist or is inactive
var ErrProductNotFound = errors.New("product not found")

// ListProducts returns active products, newest first, each with its active
// variants. A limit outside 1..MaxListLimit falls back to DefaultListLimit.
func (s *Service) ListProducts(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = DefaultListLimit
	}

	var products []Product
	err := s.db.WithContext(ctx).
		Preload("Variants", "is_active = ?", true).
		Where("is_active = ?", true).
		Order("id DESC").
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	for i := range products {
		resolveVariantPrices(&products[i])
	}
	return products, nil
}

// GetProduct returns an active product with its active variants
func (s *Service) GetProduct(ctx context.Context, id uint) (*Product, error) {
	var p Product
	err := s.db.WithContext(ctx).
		Preload("Variants", "is_active = ?", true).
		Where("id = ? AND is_active = ?", id, true).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %d: %w", id, err)
	}
	resolveVariantPrices(&p)
	return &p, nil
}

// resolveVariantPrices fills variants without their own price with the product price
func resolveVariantPrices(p *Product) {
	for i := range p.Variants {
		if p.Variants[i].Price <= 0 {
			p.Variants[i].Price = p.Price
		}
	}
}

func toView(v *ProductVariant) VariantView {
	view := VariantView{
		VariantID: v.ID,
		ProductID: v.ProductID,
		SKU:       v.SKU,
		Name:      v.Name,
		Price:     v.EffectivePrice(),
		IsActive:  v.IsActive,
	}
	if v.Product != nil {
		view.Title = v.Product.Title
	}
	return view
}
