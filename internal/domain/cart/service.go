// internal/domain/cart/service.go
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/product"
)

// Catalog supplies live variant data. product.Service implements it.
type Catalog interface {
	GetVariant(ctx context.Context, variantID uint) (*product.VariantView, error)
	VariantsByIDs(ctx context.Context, ids []uint) (map[uint]product.VariantView, error)
}

// Service is the single entry point for cart mutations. Guests are served
// from the LocalStore, users from the ServerStore.
type Service struct {
	store   ServerStore
	local   LocalStore
	catalog Catalog
	bus     Bus
	guard   Guard
	logger  *logrus.Logger

	maxQuantity   int
	mirrorGuest   bool
	mergeLockTTL  time.Duration
	syncDedupeTTL time.Duration
}

// NewService creates a new cart service
func NewService(store ServerStore, local LocalStore, catalog Catalog, bus Bus, guard Guard, cfg *config.Config, logger *logrus.Logger) *Service {
	return &Service{
		store:         store,
		local:         local,
		catalog:       catalog,
		bus:           bus,
		guard:         guard,
		logger:        logger,
		maxQuantity:   clampQuantity(cfg.Cart.MaxQuantity, MaxLineQuantity),
		mirrorGuest:   cfg.Cart.MirrorGuest,
		mergeLockTTL:  cfg.Cart.MergeLockTTL,
		syncDedupeTTL: cfg.Cart.SyncDedupeTTL,
	}
}

// MaxQuantity returns the per-line quantity ceiling
func (s *Service) MaxQuantity() int {
	return s.maxQuantity
}

// Bus returns the notification bus observers subscribe to
func (s *Service) Bus() Bus {
	return s.bus
}

// GetCart returns the owner's cart with live prices and totals
func (s *Service) GetCart(ctx context.Context, owner Owner) (*Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var items []LineItem
	if owner.IsUser() {
		var err error
		if items, err = s.store.Get(ctx, owner); err != nil {
			return nil, err
		}
	} else {
		local, err := s.local.Read(ctx, owner.ID)
		if err != nil {
			return nil, err
		}
		if items, err = s.joinLocal(ctx, local); err != nil {
			return nil, err
		}
	}

	return &Cart{
		Owner:  owner,
		Items:  items,
		Totals: calculateTotals(items),
	}, nil
}

// AddToCart adds quantity of a variant to the owner's cart. Repeated adds
// accumulate on one line, clamped to the maximum.
func (s *Service) AddToCart(ctx context.Context, owner Owner, variantID uint, quantity int) (*LineItem, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if quantity < 1 || quantity > s.maxQuantity {
		return nil, ErrInvalidQuantity
	}

	view, err := s.catalog.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}

	var line LineItem
	if owner.IsUser() {
		item, err := s.store.Upsert(ctx, owner, variantID, quantity)
		if err != nil {
			return nil, err
		}
		line = newLineItem(view, item.Quantity, item.AddedAt, item.UpdatedAt)
		line.ID = item.ID
	} else {
		items, err := s.local.AddOrMerge(ctx, owner.ID, LocalItem{ProductVariantID: variantID, Quantity: quantity})
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.ProductVariantID == variantID {
				line = newLineItem(view, item.Quantity, item.AddedAt, item.UpdatedAt)
			}
		}
		if s.mirrorGuest {
			s.mirror(owner, func() error {
				_, err := s.store.Upsert(ctx, owner, variantID, quantity)
				return err
			})
		}
	}

	s.logger.WithFields(logrus.Fields{
		"owner":    owner.Key(),
		"variant":  variantID,
		"quantity": line.Quantity,
	}).Debug("Cart item added")

	s.publish(ctx, owner, ActionAdd, variantID)
	return &line, nil
}

// UpdateItem sets an explicit quantity. Zero removes the line.
func (s *Service) UpdateItem(ctx context.Context, owner Owner, variantID uint, quantity int) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	if quantity < 0 || quantity > s.maxQuantity {
		return ErrInvalidQuantity
	}

	if owner.IsUser() {
		if _, err := s.store.SetQuantity(ctx, owner, variantID, quantity); err != nil {
			return err
		}
	} else {
		if _, err := s.local.SetQuantity(ctx, owner.ID, variantID, quantity); err != nil {
			return err
		}
		if s.mirrorGuest {
			s.mirror(owner, func() error {
				_, err := s.store.SetQuantity(ctx, owner, variantID, quantity)
				return err
			})
		}
	}

	action := ActionUpdate
	if quantity == 0 {
		action = ActionRemove
	}
	s.publish(ctx, owner, action, variantID)
	return nil
}

// RemoveItem deletes a line from the owner's cart
func (s *Service) RemoveItem(ctx context.Context, owner Owner, variantID uint) error {
	if err := owner.Validate(); err != nil {
		return err
	}

	if owner.IsUser() {
		if err := s.store.Remove(ctx, owner, variantID); err != nil {
			return err
		}
	} else {
		if err := s.local.Remove(ctx, owner.ID, variantID); err != nil {
			return err
		}
		if s.mirrorGuest {
			s.mirror(owner, func() error { return s.store.Remove(ctx, owner, variantID) })
		}
	}

	s.publish(ctx, owner, ActionRemove, variantID)
	return nil
}

// ClearCart removes all items from the cart
func (s *Service) ClearCart(ctx context.Context, owner Owner) error {
	if err := owner.Validate(); err != nil {
		return err
	}

	if owner.IsUser() {
		if _, err := s.store.Clear(ctx, owner); err != nil {
			return err
		}
	} else {
		if err := s.local.Write(ctx, owner.ID, nil); err != nil {
			return fmt.Errorf("failed to clear guest cart: %w", err)
		}
		if s.mirrorGuest {
			s.mirror(owner, func() error {
				_, err := s.store.Clear(ctx, owner)
				return err
			})
		}
	}

	s.publish(ctx, owner, ActionClear, 0)
	return nil
}

// Count returns the total quantity across the owner's lines
func (s *Service) Count(ctx context.Context, owner Owner) (int, error) {
	if err := owner.Validate(); err != nil {
		return 0, err
	}

	total := 0
	if owner.IsUser() {
		rows, err := s.store.Items(ctx, owner)
		if err != nil {
			return 0, err
		}
		for _, row := range rows {
			total += row.Quantity
		}
		return total, nil
	}

	items, err := s.local.Read(ctx, owner.ID)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		total += item.Quantity
	}
	return total, nil
}

// joinLocal decorates guest items with live catalog data. Variants that
// disappeared from the catalog stay listed as unavailable.
func (s *Service) joinLocal(ctx context.Context, local []LocalItem) ([]LineItem, error) {
	items := make([]LineItem, 0, len(local))
	if len(local) == 0 {
		return items, nil
	}

	ids := make([]uint, len(local))
	for i, item := range local {
		ids[i] = item.ProductVariantID
	}

	views, err := s.catalog.VariantsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, item := range local {
		view, ok := views[item.ProductVariantID]
		if !ok {
			items = append(items, LineItem{
				ProductVariantID: item.ProductVariantID,
				Quantity:         item.Quantity,
				AddedAt:          item.AddedAt,
				UpdatedAt:        item.UpdatedAt,
			})
			continue
		}
		items = append(items, newLineItem(&view, item.Quantity, item.AddedAt, item.UpdatedAt))
	}
	return items, nil
}

func newLineItem(view *product.VariantView, quantity int, addedAt, updatedAt time.Time) LineItem {
	return LineItem{
		ProductVariantID: view.VariantID,
		ProductID:        view.ProductID,
		SKU:              view.SKU,
		Title:            view.Title,
		VariantName:      view.Name,
		Price:            view.Price,
		Quantity:         quantity,
		LineTotal:        view.Price * int64(quantity),
		Available:        view.IsActive,
		AddedAt:          addedAt,
		UpdatedAt:        updatedAt,
	}
}

// mirror applies a best-effort change to the server-side copy of a guest cart
func (s *Service) mirror(owner Owner, fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, ErrItemNotFound) {
		s.logger.WithError(err).WithField("owner", owner.Key()).Warn("Failed to mirror guest cart change")
	}
}

// publish notifies observers; a failed notification never fails the mutation
func (s *Service) publish(ctx context.Context, owner Owner, action string, variantID uint) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, NewEvent(owner, action, variantID)); err != nil {
		s.logger.WithError(err).WithField("owner", owner.Key()).Warn("Failed to publish cart update")
	}
}
