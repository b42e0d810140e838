// internal/domain/cart/guard.go
package cart

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard provides the short-lived locks and one-time claims used by merges
type Guard interface {
	// Lock acquires key for ttl. ok is false when someone else holds it.
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
	// Claim marks key as used for ttl and reports whether this call was first.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// releaseScript deletes the lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard implements Guard with SET NX
type RedisGuard struct {
	client *redis.Client
}

// NewRedisGuard creates a Redis backed guard
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Lock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(ctx, g.client, []string{key}, token)
	}
	return release, true, nil
}

func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, key, "1", ttl).Result()
}

// MemoryGuard implements Guard for a single process
type MemoryGuard struct {
	mu    sync.Mutex
	keys  map[string]memoryLease
	now   func() time.Time
	token uint64
}

type memoryLease struct {
	token   uint64
	expires time.Time
}

// NewMemoryGuard creates an in-process guard
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{keys: make(map[string]memoryLease), now: time.Now}
}

func (g *MemoryGuard) Lock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token, ok := g.take(key, ttl)
	if !ok {
		return func() {}, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			// an expired lease may already belong to someone else
			if lease, ok := g.keys[key]; ok && lease.token == token {
				delete(g.keys, key)
			}
		})
	}
	return release, true, nil
}

func (g *MemoryGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	_, ok := g.take(key, ttl)
	return ok, nil
}

func (g *MemoryGuard) take(key string, ttl time.Duration) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if lease, ok := g.keys[key]; ok && now.Before(lease.expires) {
		return 0, false
	}
	g.token++
	g.keys[key] = memoryLease{token: g.token, expires: now.Add(ttl)}
	return g.token, true
}
