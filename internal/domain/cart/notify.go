// internal/domain/cart/notify.go
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EventCartUpdate is the only event type observers need: re-read the cart
const EventCartUpdate = "cart:update"

// WildcardOwner subscribes to events of every owner
const WildcardOwner = "*"

// Cart mutation actions carried on events
const (
	ActionAdd    = "add"
	ActionUpdate = "update"
	ActionRemove = "remove"
	ActionClear  = "clear"
	ActionMerge  = "merge"
)

const redisChannelPrefix = "cart:update:"

// Event tells observers that an owner's cart changed
type Event struct {
	Type             string    `json:"type"`
	Owner            string    `json:"owner"`
	Action           string    `json:"action"`
	ProductVariantID uint      `json:"product_variant_id,omitempty"`
	At               time.Time `json:"at"`
}

// NewEvent builds a cart:update event for the owner
func NewEvent(owner Owner, action string, variantID uint) Event {
	return Event{
		Type:             EventCartUpdate,
		Owner:            owner.Key(),
		Action:           action,
		ProductVariantID: variantID,
		At:               time.Now().UTC(),
	}
}

// Handler receives published events
type Handler func(Event)

// Bus is the cart notification publish/subscribe signal
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ownerKey string, handler Handler) (unsubscribe func())
}

// LocalBus delivers events to subscribers in this process
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
	logger *logrus.Logger
}

// NewLocalBus creates an in-process bus
func NewLocalBus(logger *logrus.Logger) *LocalBus {
	return &LocalBus{
		subs:   make(map[string]map[uint64]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for an owner key, or WildcardOwner for all.
// The returned function unsubscribes and is safe to call more than once.
func (b *LocalBus) Subscribe(ownerKey string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[ownerKey] == nil {
		b.subs[ownerKey] = make(map[uint64]Handler)
	}
	b.subs[ownerKey][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[ownerKey], id)
			if len(b.subs[ownerKey]) == 0 {
				delete(b.subs, ownerKey)
			}
		})
	}
}

// Publish calls every handler subscribed to the event's owner and every
// wildcard handler. A panicking handler does not affect the others.
func (b *LocalBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Owner])+len(b.subs[WildcardOwner]))
	for _, h := range b.subs[event.Owner] {
		handlers = append(handlers, h)
	}
	if event.Owner != WildcardOwner {
		for _, h := range b.subs[WildcardOwner] {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, event)
	}
	return nil
}

// Subscribers returns the number of handlers registered for an owner key
func (b *LocalBus) Subscribers(ownerKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ownerKey])
}

func (b *LocalBus) deliver(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.WithFields(logrus.Fields{
				"owner": event.Owner,
				"panic": r,
			}).Error("Cart event handler panicked")
		}
	}()
	h(event)
}

// RedisBus fans events out through Redis pub/sub so subscribers connected
// to any instance are notified. Delivery to local handlers always goes
// through the Redis relay, including for events this instance published.
type RedisBus struct {
	client *redis.Client
	local  *LocalBus
	logger *logrus.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBus creates a Redis backed bus relaying into local subscribers
func NewRedisBus(client *redis.Client, logger *logrus.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		local:  NewLocalBus(logger),
		logger: logger,
	}
}

// Start subscribes to every cart channel and relays messages until Close
func (b *RedisBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub != nil {
		return nil
	}

	pubsub := b.client.PSubscribe(ctx, redisChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to cart events: %w", err)
	}

	b.pubsub = pubsub
	b.done = make(chan struct{})
	go b.relay(pubsub.Channel(), b.done)

	b.logger.Info("Cart event relay started")
	return nil
}

func (b *RedisBus) relay(messages <-chan *redis.Message, done chan struct{}) {
	defer close(done)

	for msg := range messages {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			b.logger.WithError(err).WithField("channel", msg.Channel).Warn("Dropping malformed cart event")
			continue
		}
		if event.Owner == "" {
			event.Owner = strings.TrimPrefix(msg.Channel, redisChannelPrefix)
		}
		b.local.Publish(context.Background(), event)
	}
}

// Publish sends the event to every instance. When Redis is unreachable the
// event is still delivered to this instance's subscribers.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, redisChannelPrefix+event.Owner, payload).Err(); err != nil {
		b.local.Publish(ctx, event)
		return fmt.Errorf("failed to publish cart event: %w", err)
	}
	return nil
}

// Subscribe registers a local handler; see LocalBus.Subscribe
func (b *RedisBus) Subscribe(ownerKey string, handler Handler) func() {
	return b.local.Subscribe(ownerKey, handler)
}

// Close stops the relay and waits for it to drain
func (b *RedisBus) Close() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub, b.done = nil, nil
	b.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
