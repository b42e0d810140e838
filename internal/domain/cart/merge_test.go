package cart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-backend/internal/config"
)

func TestMergeOnLogin_GuestScenario(t *testing.T) {
	f := newFixture(t)
	seedVariant(t, f.db, 42, 1000)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, GuestOwner("s1"), 42, 1)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, GuestOwner("s1"), 42, 3)
	require.NoError(t, err)

	local, err := f.local.Read(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, LocalItem{ProductVariantID: 42, Quantity: 4, AddedAt: local[0].AddedAt, UpdatedAt: local[0].UpdatedAt}, local[0])

	report, err := f.svc.MergeOnLogin(ctx, "s1", "u7", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Migrated)
	assert.Empty(t, report.Failed)
	assert.Equal(t, "1 of 1 items carried over", report.Summary())

	cart, err := f.svc.GetCart(ctx, UserOwner("u7"))
	require.NoError(t, err)
	assert.Equal(t, map[uint]int{42: 4}, quantities(cart.Items))

	local, err = f.local.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, local)

	assert.NotEmpty(t, f.events.forOwner("user:u7"))
}

func TestMergeOnLogin_AddsToExistingUserCart(t *testing.T) {
	f := newFixture(t)
	seedVariant(t, f.db, 5, 1000)
	seedVariant(t, f.db, 6, 1000)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, UserOwner("u7"), 5, 3)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, UserOwner("u7"), 6, 90)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, GuestOwner("s1"), 5, 2)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, GuestOwner("s1"), 6, 20)
	require.NoError(t, err)

	_, err = f.svc.MergeOnLogin(ctx, "s1", "u7", nil)
	require.NoError(t, err)

	cart, err := f.svc.GetCart(ctx, UserOwner("u7"))
	require.NoError(t, err)
	assert.Equal(t, map[uint]int{5: 5, 6: 99}, quantities(cart.Items))
}

func TestMergeOnLogin_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedVariant(t, f.db, 5, 1000)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, UserOwner("u7"), 5, 3)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, GuestOwner("s1"), 5, 2)
	require.NoError(t, err)

	_, err = f.svc.MergeOnLogin(ctx, "s1", "u7", nil)
	require.NoError(t, err)
	once, err := f.svc.GetCart(ctx, UserOwner("u7"))
	require.NoError(t, err)

	report, err := f.svc.MergeOnLogin(ctx, "s1", "u7", nil)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Equal(t, "No guest items to carry over", report.Summary())

	twice, err := f.svc.GetCart(ctx, UserOwner("u7"))
	require.NoError(t, err)
	assert.Equal(t, quantities(once.Items), quantities(twice.Items))
	assert.Equal(t, map[uint]int{5: 5}, quantities(twice.Items))
}

func TestMergeOnLogin_SkipsUnavailableVariantsAndContinues(t *testing.T) {
	f := newFixture(t)
	seedVariant(t, f.db, 1, 100)
	seedVariant(t, f.db, 2, 100)
	seedVariant(t, f.db, 3, 100)
	ctx := context.Background()
	guest := GuestOwner("s1")

	for _, id := range []uint{1, 2, 3} {
		_, err := f.svc.AddToCart(ctx, guest, id, 1)
		require.NoError(t, err)
	}
	deactivateVariant(t, f.db, 2)

	report, err := f.svc.MergeOnLogin(ctx, "s1", "u7", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Migrated)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, uint(2), report.Failed[0].ProductVariantID)
	assert.False(t, report.Failed[0].Retryable)
	assert.Equal(t, "2 of 3 items carried over", report.Summary())

	cart, err := f.svc.GetCart(ctx, UserOwner("u7"))
	require.NoError(t, err)
	assert.Equal(t, map[uint]int{1: 1, 3: 1}, quantities(cart.Items))

	// the dead line is not retried forever
	local, err := f.local.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestMergeOnLogin_MergeInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release, ok, err := f.guard.Lock(ctx, "cart:merge:lock:s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.MergeOnLogin(ctx, "s1", "u7", nil)
	assert.ErrorIs(t, err, ErrMergeInProgress)
	assert.Nil(t, f.svc.OnLoginSuccess(ctx, "s1", "u7"))

	release()
	report, err := f.svc.MergeOnLogin(ctx, "s1", "u7", nil)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
}

func TestMergeOnLogin_UploadedLocalCart(t *testing.T) {
	f := newFixture(t)
	seedVariant(t, f.db, 1, 100)
	seedVariant(t, f.db, 2, 100)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, GuestOwner("s1"), 1, 2)
	require.NoError(t, err)

	upload := &LocalUpload{
		SyncID: "sync-1",
		Items: []LocalItem{
			{ProductVariantID: 1, Quantity: 2}, // same line the server already holds
			{ProductVariantID: 2, Quantity: 4},
		},
	}

	_, err = f.svc.MergeOnLogin(ctx, "s1", "u7", &LocalUpload{Items: upload.Items})
	assert.ErrorIs(t, err, ErrSyncIDRequired)

	report, err := f.svc.MergeOnLogin(ctx, "s1", "u7", upload)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)

	// a retried upload with the same sync id is ignored
	report, err = f.svc.MergeOnLogin(ctx, "s1", "u7", upload)
	require.NoError(t, err)
	assert.Zero(t, report.Total)

	cart, err := f.svc.GetCart(ctx, UserOwner("u7"))
	require.NoError(t, err)
	assert.Equal(t, map[uint]int{1: 2, 2: 4}, quantities(cart.Items))
}

func TestMergeOnLogin_MirroredGuestRows(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Cart.MirrorGuest = true })
	seedVariant(t, f.db, 1, 100)
	ctx := context.Background()

	_, err := f.svc.AddToCart(ctx, GuestOwner("s1"), 1, 2)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, UserOwner("u7"), 1, 3)
	require.NoError(t, err)

	report, err := f.svc.MergeOnLogin(ctx, "s1", "u7", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)

	cart, err := f.svc.GetCart(ctx, UserOwner("u7"))
	require.NoError(t, err)
	assert.Equal(t, map[uint]int{1: 5}, quantities(cart.Items))

	rows, err := f.store.Items(ctx, GuestOwner("s1"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOnLoginSuccess(t *testing.T) {
	f := newFixture(t)
	seedVariant(t, f.db, 1, 100)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.svc.AddToCart(ctx, GuestOwner("s1"), 1, 2)
	require.NoError(t, err)

	// the merge outlives a cancelled request context
	cancel()
	report := f.svc.OnLoginSuccess(ctx, "s1", "u7")
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Migrated)

	assert.Nil(t, f.svc.OnLoginSuccess(context.Background(), "", "u7"))

	f.mr.Close()
	assert.Nil(t, f.svc.OnLoginSuccess(context.Background(), "s2", "u7"))
}
