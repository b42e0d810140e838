// internal/infrastructure/database/postgres/migration.go
package postgres

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/domain/user"
	"gorm.io/gorm"
)

// Migration handles database migrations
type Migration struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewMigration creates a new migration instance
func NewMigration(db *gorm.DB, logger *logrus.Logger) *Migration {
	return &Migration{
		db:     db,
		logger: logger,
	}
}

// RunAutoMigrations runs GORM auto-migrations for all models
func (m *Migration) RunAutoMigrations() error {
	m.logger.Info("🔄 Running database auto-migrations...")

	// dependency order: cart_items references product_variants
	models := []interface{}{
		&user.User{},
		&product.Product{},
		&product.ProductVariant{},
		&cart.CartItem{},
	}

	for _, model := range models {
		m.logger.Debugf("Migrating model: %T", model)
		if err := m.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate model %T: %w", model, err)
		}
	}

	m.logger.Info("✅ Database auto-migrations completed successfully")
	return nil
}

// CreateIndexes creates additional indexes for the read paths
func (m *Migration) CreateIndexes() error {
	indexes := []string{
		// User indexes
		"CREATE INDEX IF NOT EXISTS idx_users_email_active ON users(email, is_active)",

		// Catalog indexes
		"CREATE INDEX IF NOT EXISTS idx_product_variants_product_active ON product_variants(product_id, is_active)",
		"CREATE INDEX IF NOT EXISTS idx_products_active ON products(is_active)",

		// Cart indexes
		"CREATE INDEX IF NOT EXISTS idx_cart_items_owner_added ON cart_items(owner_type, owner_id, added_at)",
		"CREATE INDEX IF NOT EXISTS idx_cart_items_variant ON cart_items(product_variant_id)",
	}

	var failed int
	for _, indexSQL := range indexes {
		if err := m.db.Exec(indexSQL).Error; err != nil {
			m.logger.WithError(err).Warn("⚠️ Failed to create index")
			failed++
		}
	}

	m.logger.Infof("✅ Created %d indexes (%d failed)", len(indexes)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d indexes failed", failed)
	}
	return nil
}

// SeedInitialData inserts a small development catalog. Existing rows are kept.
func (m *Migration) SeedInitialData() error {
	m.logger.Info("🌱 Seeding initial data...")

	products := []product.Product{
		{
			SKU:         "TEE-001",
			Title:       "Organic Cotton Tee",
			Slug:        "organic-cotton-tee",
			Description: "Soft everyday t-shirt",
			Price:       1999,
			IsActive:    true,
			Variants: []product.ProductVariant{
				{SKU: "TEE-001-S", Name: "Small", IsActive: true},
				{SKU: "TEE-001-M", Name: "Medium", IsActive: true},
				{SKU: "TEE-001-L", Name: "Large", Price: 2199, IsActive: true},
			},
		},
		{
			SKU:         "MUG-001",
			Title:       "Stoneware Mug",
			Slug:        "stoneware-mug",
			Description: "350ml glazed mug",
			Price:       1250,
			IsActive:    true,
			Variants: []product.ProductVariant{
				{SKU: "MUG-001-BLUE", Name: "Blue", IsActive: true},
				{SKU: "MUG-001-SAND", Name: "Sand", IsActive: true},
			},
		},
	}

	for _, p := range products {
		var existing product.Product
		err := m.db.Where("slug = ?", p.Slug).First(&existing).Error
		if err == nil {
			m.logger.Debugf("⏭️ Product already exists: %s", p.Title)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check product %s: %w", p.Slug, err)
		}

		if err := m.db.Create(&p).Error; err != nil {
			return fmt.Errorf("failed to seed product %s: %w", p.Slug, err)
		}
		m.logger.Infof("✅ Created product: %s (%d variants)", p.Title, len(p.Variants))
	}

	return nil
}

// GetTableInfo logs row counts for the application tables
func (m *Migration) GetTableInfo() error {
	tables := []string{"users", "products", "product_variants", "cart_items"}

	var total int64
	for _, table := range tables {
		var count int64
		if err := m.db.Table(table).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		total += count
		m.logger.WithField("records", count).Infof("📊 %s", table)
	}

	m.logger.Infof("📈 Total records across all tables: %d", total)
	return nil
}
