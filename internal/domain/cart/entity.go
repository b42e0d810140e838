// internal/domain/cart/entity.go
package cart

import (
	"fmt"
	"time"

	"github.com/your-org/storefront-backend/internal/domain/product"
)

// MaxLineQuantity is the hard ceiling for a single cart line
const MaxLineQuantity = 99

// CartItem is a persisted cart line. Users and mirrored guest sessions share
// the table, told apart by owner_type.
type CartItem struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	OwnerType        OwnerKind `gorm:"type:varchar(10);not null;uniqueIndex:idx_cart_items_owner_variant,priority:1;check:chk_cart_items_owner_type,owner_type IN ('user','guest')" json:"owner_type"`
	OwnerID          string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_cart_items_owner_variant,priority:2" json:"owner_id"`
	ProductVariantID uint      `gorm:"not null;uniqueIndex:idx_cart_items_owner_variant,priority:3;index" json:"product_variant_id"`
	Quantity         int       `gorm:"not null;check:chk_cart_items_quantity,quantity BETWEEN 1 AND 99" json:"quantity"`
	AddedAt          time.Time `gorm:"not null" json:"added_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`

	ProductVariant *product.ProductVariant `gorm:"foreignKey:ProductVariantID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName overrides the table name
func (CartItem) TableName() string {
	return "cart_items"
}

// Owner returns the owner the row belongs to
func (i CartItem) Owner() Owner {
	return Owner{Kind: i.OwnerType, ID: i.OwnerID}
}

// LineItem is a cart line joined with live catalog data for display
type LineItem struct {
	ID               uint      `json:"id,omitempty"`
	ProductVariantID uint      `json:"product_variant_id"`
	ProductID        uint      `json:"product_id"`
	SKU              string    `json:"sku"`
	Title            string    `json:"title"`
	VariantName      string    `json:"variant_name,omitempty"`
	Price            int64     `json:"price"`
	Quantity         int       `json:"quantity"`
	LineTotal        int64     `gorm:"-" json:"line_total"`
	Available        bool      `json:"available"`
	AddedAt          time.Time `json:"added_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// LocalItem is a guest cart entry held outside the relational store
type LocalItem struct {
	ProductVariantID uint      `json:"product_variant_id"`
	Quantity         int       `json:"quantity"`
	AddedAt          time.Time `json:"added_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Cart is the resolved owner's cart as returned to clients
type Cart struct {
	Owner  Owner      `json:"owner"`
	Items  []LineItem `json:"items"`
	Totals CartTotals `json:"totals"`
}

// CartTotals represents calculated cart totals
type CartTotals struct {
	ItemCount     int   `json:"item_count"`     // Number of unique items
	TotalQuantity int   `json:"total_quantity"` // Sum of all quantities
	SubTotal      int64 `json:"sub_total"`      // Sum of available lines, in cents
}

func calculateTotals(items []LineItem) CartTotals {
	var totals CartTotals
	totals.ItemCount = len(items)

	for i := range items {
		items[i].LineTotal = items[i].Price * int64(items[i].Quantity)
		totals.TotalQuantity += items[i].Quantity
		if items[i].Available {
			totals.SubTotal += items[i].LineTotal
		}
	}

	return totals
}

// MergeFailure names a guest line that could not be carried over
type MergeFailure struct {
	ProductVariantID uint   `json:"product_variant_id"`
	Quantity         int    `json:"quantity"`
	Reason           string `json:"reason"`
	Retryable        bool   `json:"retryable"`
}

// MergeReport summarizes a guest to user cart merge
type MergeReport struct {
	SessionID string         `json:"-"`
	UserID    string         `json:"-"`
	Total     int            `json:"total"`
	Migrated  int            `json:"migrated"`
	Failed    []MergeFailure `json:"failed"`
}

// Summary renders the "N of M items carried over" notice
func (r *MergeReport) Summary() string {
	if r == nil || r.Total == 0 {
		return "No guest items to carry over"
	}
	return fmt.Sprintf("%d of %d items carried over", r.Migrated, r.Total)
}
