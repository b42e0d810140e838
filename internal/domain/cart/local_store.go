// internal/domain/cart/local_store.go
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LocalStore holds guest carts that have not been merged into a user cart.
// Reads never fail on corrupt data: a damaged cart reads as empty.
type LocalStore interface {
	Read(ctx context.Context, sessionID string) ([]LocalItem, error)
	Write(ctx context.Context, sessionID string, items []LocalItem) error
	AddOrMerge(ctx context.Context, sessionID string, item LocalItem) ([]LocalItem, error)
	SetQuantity(ctx context.Context, sessionID string, variantID uint, quantity int) ([]LocalItem, error)
	Remove(ctx context.Context, sessionID string, variantID uint) error
}

// DecodeLocalCart parses a stored guest cart. Invalid JSON, a non-array
// payload and malformed entries are dropped instead of reported.
func DecodeLocalCart(data []byte, maxQuantity int) []LocalItem {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return []LocalItem{}
	}

	items := make([]LocalItem, 0, len(raw))
	for _, entry := range raw {
		if item, ok := decodeLocalItem(entry); ok {
			items = append(items, item)
		}
	}

	return normalizeLocalItems(items, maxQuantity)
}

// decodeLocalItem accepts both the API field names and the camelCase names
// browser carts use, with numbers or numeric strings as values.
func decodeLocalItem(entry json.RawMessage) (LocalItem, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return LocalItem{}, false
	}

	var variantID int64
	var found bool
	for _, name := range []string{"product_variant_id", "productVariantId", "variantId"} {
		if value, ok := fields[name]; ok {
			if variantID, found = parseWholeNumber(value); found {
				break
			}
		}
	}
	if !found || variantID <= 0 {
		return LocalItem{}, false
	}

	quantity, ok := parseWholeNumber(fields["quantity"])
	if !ok || quantity <= 0 {
		return LocalItem{}, false
	}

	item := LocalItem{ProductVariantID: uint(variantID), Quantity: int(min(quantity, int64(MaxLineQuantity)))}
	item.AddedAt = parseTimestamp(fields, "added_at", "addedAt")
	item.UpdatedAt = parseTimestamp(fields, "updated_at", "updatedAt")
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.AddedAt
	}

	return item, true
}

func parseTimestamp(fields map[string]json.RawMessage, names ...string) time.Time {
	for _, name := range names {
		var ts string
		if value, ok := fields[name]; ok && json.Unmarshal(value, &ts) == nil {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}

func parseWholeNumber(raw json.RawMessage) (int64, bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, false
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(s)
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// normalizeLocalItems folds duplicate variants together, drops empty lines
// and clamps quantities. First occurrence order is kept.
func normalizeLocalItems(items []LocalItem, maxQuantity int) []LocalItem {
	result := make([]LocalItem, 0, len(items))
	index := make(map[uint]int, len(items))

	for _, item := range items {
		if item.ProductVariantID == 0 || item.Quantity <= 0 {
			continue
		}
		if i, ok := index[item.ProductVariantID]; ok {
			result[i].Quantity = clampQuantity(result[i].Quantity+item.Quantity, maxQuantity)
			if item.UpdatedAt.After(result[i].UpdatedAt) {
				result[i].UpdatedAt = item.UpdatedAt
			}
			continue
		}
		item.Quantity = clampQuantity(item.Quantity, maxQuantity)
		index[item.ProductVariantID] = len(result)
		result = append(result, item)
	}

	return result
}

// mergeLocalItem increments an existing line or appends a new one stamped with now
func mergeLocalItem(items []LocalItem, item LocalItem, maxQuantity int, now time.Time) []LocalItem {
	now = now.UTC()
	for i := range items {
		if items[i].ProductVariantID == item.ProductVariantID {
			items[i].Quantity = clampQuantity(items[i].Quantity+item.Quantity, maxQuantity)
			items[i].UpdatedAt = now
			return items
		}
	}

	item.Quantity = clampQuantity(item.Quantity, maxQuantity)
	item.AddedAt = now
	item.UpdatedAt = now
	return append(items, item)
}

func setLocalQuantity(items []LocalItem, variantID uint, quantity int, now time.Time) ([]LocalItem, error) {
	for i := range items {
		if items[i].ProductVariantID != variantID {
			continue
		}
		if quantity == 0 {
			return append(items[:i], items[i+1:]...), nil
		}
		items[i].Quantity = quantity
		items[i].UpdatedAt = now.UTC()
		return items, nil
	}
	return nil, ErrItemNotFound
}

func clampQuantity(quantity, maxQuantity int) int {
	if maxQuantity <= 0 || maxQuantity > MaxLineQuantity {
		maxQuantity = MaxLineQuantity
	}
	if quantity > maxQuantity {
		return maxQuantity
	}
	return quantity
}

// RedisLocalStore keeps guest carts as JSON documents under cart:session:<id>
type RedisLocalStore struct {
	client      *redis.Client
	ttl         time.Duration
	maxQuantity int
	now         func() time.Time
}

// NewRedisLocalStore creates a Redis backed guest cart store
func NewRedisLocalStore(client *redis.Client, ttl time.Duration, maxQuantity int) *RedisLocalStore {
	return &RedisLocalStore{
		client:      client,
		ttl:         ttl,
		maxQuantity: maxQuantity,
		now:         time.Now,
	}
}

const maxWatchRetries = 5

func guestCartKey(sessionID string) string {
	return fmt.Sprintf("cart:session:%s", sessionID)
}

// Read returns the guest cart, or an empty cart when none is stored
func (s *RedisLocalStore) Read(ctx context.Context, sessionID string) ([]LocalItem, error) {
	data, err := s.client.Get(ctx, guestCartKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []LocalItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read guest cart: %w", err)
	}
	return DecodeLocalCart(data, s.maxQuantity), nil
}

// Write replaces the guest cart wholesale. An empty list deletes it.
func (s *RedisLocalStore) Write(ctx context.Context, sessionID string, items []LocalItem) error {
	items = normalizeLocalItems(items, s.maxQuantity)
	if len(items) == 0 {
		return s.client.Del(ctx, guestCartKey(sessionID)).Err()
	}

	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, guestCartKey(sessionID), data, s.ttl).Err()
}

// AddOrMerge adds quantity to an existing line or appends a new one
func (s *RedisLocalStore) AddOrMerge(ctx context.Context, sessionID string, item LocalItem) ([]LocalItem, error) {
	now := s.now()
	return s.update(ctx, sessionID, func(items []LocalItem) ([]LocalItem, error) {
		return mergeLocalItem(items, item, s.maxQuantity, now), nil
	})
}

// SetQuantity sets an explicit quantity; zero removes the line
func (s *RedisLocalStore) SetQuantity(ctx context.Context, sessionID string, variantID uint, quantity int) ([]LocalItem, error) {
	now := s.now()
	return s.update(ctx, sessionID, func(items []LocalItem) ([]LocalItem, error) {
		return setLocalQuantity(items, variantID, quantity, now)
	})
}

// Remove deletes one line from the guest cart
func (s *RedisLocalStore) Remove(ctx context.Context, sessionID string, variantID uint) error {
	_, err := s.SetQuantity(ctx, sessionID, variantID, 0)
	return err
}

// update runs a read-modify-write under WATCH so concurrent requests from the
// same browser do not overwrite each other.
func (s *RedisLocalStore) update(ctx context.Context, sessionID string, fn func([]LocalItem) ([]LocalItem, error)) ([]LocalItem, error) {
	key := guestCartKey(sessionID)

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		var result []LocalItem

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			next, err := fn(DecodeLocalCart(data, s.maxQuantity))
			if err != nil {
				return err
			}

			payload, err := json.Marshal(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(next) == 0 {
					pipe.Del(ctx, key)
				} else {
					pipe.Set(ctx, key, payload, s.ttl)
				}
				return nil
			})
			result = next
			return err
		}, key)

		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to update guest cart %s: too many concurrent writes", sessionID)
}

// MemoryLocalStore is an in-process LocalStore
type MemoryLocalStore struct {
	mu          sync.Mutex
	carts       map[string][]LocalItem
	maxQuantity int
	now         func() time.Time
}

// NewMemoryLocalStore creates an empty in-memory guest cart store
func NewMemoryLocalStore(maxQuantity int) *MemoryLocalStore {
	return &MemoryLocalStore{
		carts:       make(map[string][]LocalItem),
		maxQuantity: maxQuantity,
		now:         time.Now,
	}
}

func (s *MemoryLocalStore) Read(_ context.Context, sessionID string) ([]LocalItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLocalItems(s.carts[sessionID]), nil
}

func (s *MemoryLocalStore) Write(_ context.Context, sessionID string, items []LocalItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(sessionID, normalizeLocalItems(items, s.maxQuantity))
	return nil
}

func (s *MemoryLocalStore) AddOrMerge(_ context.Context, sessionID string, item LocalItem) ([]LocalItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := mergeLocalItem(cloneLocalItems(s.carts[sessionID]), item, s.maxQuantity, s.now())
	s.store(sessionID, items)
	return cloneLocalItems(items), nil
}

func (s *MemoryLocalStore) SetQuantity(_ context.Context, sessionID string, variantID uint, quantity int) ([]LocalItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := setLocalQuantity(cloneLocalItems(s.carts[sessionID]), variantID, quantity, s.now())
	if err != nil {
		return nil, err
	}
	s.store(sessionID, items)
	return cloneLocalItems(items), nil
}

func (s *MemoryLocalStore) Remove(ctx context.Context, sessionID string, variantID uint) error {
	_, err := s.SetQuantity(ctx, sessionID, variantID, 0)
	return err
}

func (s *MemoryLocalStore) store(sessionID string, items []LocalItem) {
	if len(items) == 0 {
		delete(s.carts, sessionID)
		return
	}
	s.carts[sessionID] = items
}

func cloneLocalItems(items []LocalItem) []LocalItem {
	out := make([]LocalItem, len(items))
	copy(out, items)
	return out
}
