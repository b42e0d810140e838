package cart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-backend/internal/testutil"
)

func TestGuards(t *testing.T) {
	_, rdb := testutil.NewRedis(t)

	guards := map[string]Guard{
		"redis":  NewRedisGuard(rdb),
		"memory": NewMemoryGuard(),
	}

	for name, guard := range guards {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			release, ok, err := guard.Lock(ctx, "lock:a", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			_, ok, err = guard.Lock(ctx, "lock:a", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			release()
			release2, ok, err := guard.Lock(ctx, "lock:a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
			release2()

			first, err := guard.Claim(ctx, "claim:a", time.Minute)
			require.NoError(t, err)
			assert.True(t, first)
			first, err = guard.Claim(ctx, "claim:a", time.Minute)
			require.NoError(t, err)
			assert.False(t, first)
		})
	}
}

func TestRedisGuard_ReleaseKeepsForeignLock(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	guard := NewRedisGuard(rdb)
	ctx := context.Background()

	release, ok, err := guard.Lock(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// the lock expires and someone else takes it
	mr.FastForward(2 * time.Second)
	_, ok, err = guard.Lock(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release()
	assert.True(t, mr.Exists("lock:a"))
}

func TestMemoryGuard_Expiry(t *testing.T) {
	guard := NewMemoryGuard()
	now := time.Now()
	guard.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = guard.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryGuard_ReleaseKeepsForeignLock(t *testing.T) {
	guard := NewMemoryGuard()
	now := time.Now()
	guard.now = func() time.Time { return now }
	ctx := context.Background()

	release, ok, err := guard.Lock(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// the lock expires and someone else takes it
	now = now.Add(2 * time.Second)
	releaseOther, ok, err := guard.Lock(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release()
	_, ok, err = guard.Lock(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	releaseOther()
	_, ok, err = guard.Lock(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
