package cart

import (
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/testutil"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	cfg    *config.Config
	store  *GormStore
	local  *RedisLocalStore
	bus    *LocalBus
	guard  *RedisGuard
	svc    *Service
	events *eventRecorder
}

func newFixture(t *testing.T, configure ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := testutil.Config()
	for _, fn := range configure {
		fn(cfg)
	}

	db := testutil.NewDB(t, &product.Product{}, &product.ProductVariant{}, &CartItem{})
	mr, rdb := testutil.NewRedis(t)
	logger := testutil.Logger()

	f := &fixture{
		db:     db,
		mr:     mr,
		rdb:    rdb,
		cfg:    cfg,
		store:  NewGormStore(db, cfg.Cart.MaxQuantity),
		local:  NewRedisLocalStore(rdb, cfg.Cart.GuestTTL, cfg.Cart.MaxQuantity),
		bus:    NewLocalBus(logger),
		guard:  NewRedisGuard(rdb),
		events: &eventRecorder{},
	}
	f.svc = NewService(f.store, f.local, product.NewService(db), f.bus, f.guard, cfg, logger)
	f.bus.Subscribe(WildcardOwner, f.events.record)
	return f
}

// seedVariant creates an active variant with the given id and a parent product
func seedVariant(t *testing.T, db *gorm.DB, id uint, price int64) {
	t.Helper()

	p := product.Product{
		SKU:   fmt.Sprintf("P-%d", id),
		Title: fmt.Sprintf("Product %d", id),
		Slug:  fmt.Sprintf("product-%d", id),
		Price: 1500,
	}
	require.NoError(t, db.Create(&p).Error)

	v := product.ProductVariant{
		ID:        id,
		ProductID: p.ID,
		SKU:       fmt.Sprintf("V-%d", id),
		Name:      "Default",
		Price:     price,
	}
	require.NoError(t, db.Create(&v).Error)
}

func deactivateVariant(t *testing.T, db *gorm.DB, id uint) {
	t.Helper()
	require.NoError(t, db.Model(&product.ProductVariant{}).Where("id = ?", id).Update("is_active", false).Error)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) forOwner(key string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.Owner == key {
			out = append(out, e)
		}
	}
	return out
}

func quantities(items []LineItem) map[uint]int {
	out := make(map[uint]int, len(items))
	for _, item := range items {
		out[item.ProductVariantID] = item.Quantity
	}
	return out
}
