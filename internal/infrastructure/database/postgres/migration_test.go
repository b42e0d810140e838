package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/testutil"
)

func TestMigration_RunsAndSeedsIdempotently(t *testing.T) {
	db := testutil.NewDB(t)
	m := NewMigration(db, testutil.Logger())

	require.NoError(t, m.RunAutoMigrations())
	require.NoError(t, m.RunAutoMigrations())
	require.NoError(t, m.CreateIndexes())

	require.NoError(t, m.SeedInitialData())
	require.NoError(t, m.SeedInitialData())

	var products, variants int64
	require.NoError(t, db.Model(&product.Product{}).Count(&products).Error)
	require.NoError(t, db.Model(&product.ProductVariant{}).Count(&variants).Error)
	assert.Equal(t, int64(2), products)
	assert.Equal(t, int64(5), variants)

	// seeded variants are usable by the cart
	var variant product.ProductVariant
	require.NoError(t, db.Where("sku = ?", "TEE-001-M").First(&variant).Error)
	catalog := product.NewService(db)
	view, err := catalog.GetVariant(context.Background(), variant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1999), view.Price)

	require.NoError(t, db.Create(&cart.CartItem{
		OwnerType:        cart.OwnerUser,
		OwnerID:          "u1",
		ProductVariantID: variant.ID,
		Quantity:         1,
		AddedAt:          time.Now(),
		UpdatedAt:        time.Now(),
	}).Error)

	assert.NoError(t, m.GetTableInfo())
}
