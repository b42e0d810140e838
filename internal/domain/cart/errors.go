// internal/domain/cart/errors.go
package cart

import (
	"errors"

	"github.com/your-org/storefront-backend/internal/domain/product"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be between 1 and the maximum per line")
	ErrVariantNotFound = product.ErrVariantNotFound
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrInvalidOwner    = errors.New("invalid cart owner")
	ErrMergeInProgress = errors.New("cart merge already in progress")
	ErrSyncIDRequired  = errors.New("sync_id is required when uploading local cart items")
)
