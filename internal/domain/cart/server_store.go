// internal/domain/cart/server_store.go
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/your-org/storefront-backend/internal/domain/product"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ServerStore is the durable cart table keyed by (owner, variant)
type ServerStore interface {
	Get(ctx context.Context, owner Owner) ([]LineItem, error)
	Items(ctx context.Context, owner Owner) ([]CartItem, error)
	Upsert(ctx context.Context, owner Owner, variantID uint, quantity int) (*CartItem, error)
	SetQuantity(ctx context.Context, owner Owner, variantID uint, quantity int) (*CartItem, error)
	Remove(ctx context.Context, owner Owner, variantID uint) error
	Clear(ctx context.Context, owner Owner) (int64, error)
	Move(ctx context.Context, from, to Owner, variantID uint, quantity int) (*CartItem, error)
	VariantExists(ctx context.Context, variantID uint) (bool, error)
}

// GormStore implements ServerStore on the cart_items table
type GormStore struct {
	db          *gorm.DB
	maxQuantity int
	now         func() time.Time
}

// NewGormStore creates a new relational cart store
func NewGormStore(db *gorm.DB, maxQuantity int) *GormStore {
	return &GormStore{
		db:          db,
		maxQuantity: clampQuantity(maxQuantity, MaxLineQuantity),
		now:         time.Now,
	}
}

const lineItemColumns = `ci.id, ci.product_variant_id, v.product_id, v.sku, p.title,
	v.name AS variant_name,
	CASE WHEN v.price > 0 THEN v.price ELSE p.price END AS price,
	ci.quantity,
	CASE WHEN v.deleted_at IS NULL AND p.deleted_at IS NULL AND v.is_active AND p.is_active THEN TRUE ELSE FALSE END AS available,
	ci.added_at, ci.updated_at`

// Get returns the owner's lines joined with live variant price, sku and title
func (s *GormStore) Get(ctx context.Context, owner Owner) ([]LineItem, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var items []LineItem
	err := s.db.WithContext(ctx).
		Table("cart_items AS ci").
		Select(lineItemColumns).
		Joins("JOIN product_variants v ON v.id = ci.product_variant_id").
		Joins("JOIN products p ON p.id = v.product_id").
		Where("ci.owner_type = ? AND ci.owner_id = ?", owner.Kind, owner.ID).
		Order("ci.added_at ASC, ci.id ASC").
		Scan(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve cart for %s: %w", owner, err)
	}

	if items == nil {
		items = []LineItem{}
	}
	return items, nil
}

// Items returns the raw rows for an owner, oldest first
func (s *GormStore) Items(ctx context.Context, owner Owner) ([]CartItem, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var rows []CartItem
	err := s.ownerScope(s.db.WithContext(ctx), owner).
		Order("added_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cart rows for %s: %w", owner, err)
	}
	return rows, nil
}

// Upsert inserts a line or adds to the existing quantity in one statement,
// clamping the sum to the per-line maximum.
func (s *GormStore) Upsert(ctx context.Context, owner Owner, variantID uint, quantity int) (*CartItem, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var item *CartItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, err = s.upsert(tx, owner, variantID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// SetQuantity overwrites a line's quantity. Zero deletes the line.
func (s *GormStore) SetQuantity(ctx context.Context, owner Owner, variantID uint, quantity int) (*CartItem, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if quantity < 0 || quantity > s.maxQuantity {
		return nil, ErrInvalidQuantity
	}
	if quantity == 0 {
		return nil, s.Remove(ctx, owner, variantID)
	}

	var item CartItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := s.ownerScope(tx.Model(&CartItem{}), owner).
			Where("product_variant_id = ?", variantID).
			Updates(map[string]interface{}{
				"quantity":   quantity,
				"updated_at": s.now().UTC(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update cart item: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrItemNotFound
		}
		return s.ownerScope(tx, owner).Where("product_variant_id = ?", variantID).First(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Remove deletes one line
func (s *GormStore) Remove(ctx context.Context, owner Owner, variantID uint) error {
	if err := owner.Validate(); err != nil {
		return err
	}

	result := s.ownerScope(s.db.WithContext(ctx), owner).
		Where("product_variant_id = ?", variantID).
		Delete(&CartItem{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove cart item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Clear deletes every line of the owner and reports how many were removed
func (s *GormStore) Clear(ctx context.Context, owner Owner) (int64, error) {
	if err := owner.Validate(); err != nil {
		return 0, err
	}

	result := s.ownerScope(s.db.WithContext(ctx), owner).Delete(&CartItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clear cart: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Move upserts quantity into the destination cart and deletes the source
// line in the same transaction.
func (s *GormStore) Move(ctx context.Context, from, to Owner, variantID uint, quantity int) (*CartItem, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var item *CartItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if item, err = s.upsert(tx, to, variantID, quantity); err != nil {
			return err
		}
		return s.ownerScope(tx, from).
			Where("product_variant_id = ?", variantID).
			Delete(&CartItem{}).Error
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// VariantExists reports whether a variant can currently be put in a cart
func (s *GormStore) VariantExists(ctx context.Context, variantID uint) (bool, error) {
	return variantExists(s.db.WithContext(ctx), variantID)
}

func (s *GormStore) upsert(tx *gorm.DB, owner Owner, variantID uint, quantity int) (*CartItem, error) {
	ok, err := variantExists(tx, variantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVariantNotFound
	}

	now := s.now().UTC()
	row := CartItem{
		OwnerType:        owner.Kind,
		OwnerID:          owner.ID,
		ProductVariantID: variantID,
		Quantity:         clampQuantity(quantity, s.maxQuantity),
		AddedAt:          now,
		UpdatedAt:        now,
	}

	err = tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_type"}, {Name: "owner_id"}, {Name: "product_variant_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity": gorm.Expr(
				"CASE WHEN cart_items.quantity + excluded.quantity > ? THEN ? ELSE cart_items.quantity + excluded.quantity END",
				s.maxQuantity, s.maxQuantity,
			),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cart item: %w", err)
	}

	var stored CartItem
	if err := s.ownerScope(tx, owner).Where("product_variant_id = ?", variantID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("failed to reload cart item: %w", err)
	}
	return &stored, nil
}

func (s *GormStore) ownerScope(db *gorm.DB, owner Owner) *gorm.DB {
	return db.Where("owner_type = ? AND owner_id = ?", owner.Kind, owner.ID)
}

func variantExists(db *gorm.DB, variantID uint) (bool, error) {
	var count int64
	err := db.Model(&product.ProductVariant{}).
		Joins("JOIN products ON products.id = product_variants.product_id AND products.deleted_at IS NULL").
		Where("product_variants.id = ? AND product_variants.is_active = ? AND products.is_active = ?", variantID, true, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check variant %d: %w", variantID, err)
	}
	return count > 0, nil
}

// isPermanent reports whether retrying an operation cannot succeed
func isPermanent(err error) bool {
	return errors.Is(err, ErrVariantNotFound) || errors.Is(err, ErrInvalidQuantity) || errors.Is(err, ErrInvalidOwner)
}
