package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the part of Redis pub/sub the bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, func() error, error)
}

type RedisMessage struct {
	Channel string
	Payload string
}

type RedisEventBusConfig struct {
	Client RedisClient

	// Channel defaults to "focus-league:events".
	Channel string

	// InstanceID marks our own messages so they are not replayed;
	// a random one is used when empty.
	InstanceID string

	// PublishTimeout bounds one Redis publish. Default 2s.
	PublishTimeout time.Duration

	Local  InMemoryEventBusConfig
	Logger *slog.Logger
}

// RedisEventBus delivers every event to local handlers and to the shared
// channel. Events of other instances are replayed on the local bus with a
// map payload, so handlers must read events through Payload.
type RedisEventBus struct {
	client   RedisClient
	local    *InMemoryEventBus
	channel  string
	instance string
	timeout  time.Duration
	logger   *slog.Logger

	stop     context.CancelFunc
	closeSub func() error
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRedisEventBus subscribes before returning, so nothing published by
// another instance after this call is missed.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "focus-league:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Local.Logger == nil {
		cfg.Local.Logger = cfg.Logger
	}

	ctx, stop := context.WithCancel(context.Background())
	messages, closeSub, err := cfg.Client.Subscribe(ctx, cfg.Channel)
	if err != nil {
		stop()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Channel, err)
	}

	b := &RedisEventBus{
		client:   cfg.Client,
		local:    NewInMemoryEventBus(cfg.Local),
		channel:  cfg.Channel,
		instance: cfg.InstanceID,
		timeout:  cfg.PublishTimeout,
		logger:   cfg.Logger.With("component", "event_bus", "instance", cfg.InstanceID),
		stop:     stop,
		closeSub: closeSub,
	}
	b.wg.Add(1)
	go b.listen(ctx, messages)
	return b, nil
}

func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish never fails because Redis is down; other instances then simply
// miss the event and local handlers still run.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(envelope{
		Instance:  b.instance,
		Type:      event.EventType(),
		Aggregate: event.AggregateID(),
		At:        event.OccurredAt(),
		Data:      event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data); err != nil {
		b.logger.Warn("redis publish failed, delivering locally only", "event_type", event.EventType(), "error", err)
	}
	return b.local.Publish(event)
}

func (b *RedisEventBus) listen(ctx context.Context, messages <-chan RedisMessage) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.replay(msg)
		}
	}
}

func (b *RedisEventBus) replay(msg RedisMessage) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Error("dropping malformed event", "channel", msg.Channel, "error", err)
		return
	}
	if env.Instance == b.instance {
		return
	}
	if err := b.local.Publish(remoteEvent{env}); err != nil && !errors.Is(err, ErrEventBusClosed) {
		b.logger.Error("replay failed", "event_type", env.Type, "error", err)
	}
}

func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.stop()
	if b.closeSub != nil {
		_ = b.closeSub()
	}
	b.wg.Wait()
	return b.local.Close()
}

// Local returns the in-process bus that runs the handlers.
func (b *RedisEventBus) Local() *InMemoryEventBus {
	return b.local
}

// envelope is the wire form of an event on the channel.
type envelope struct {
	Instance  string           `json:"instance_id"`
	Type      shared.EventType `json:"event_type"`
	Aggregate string           `json:"aggregate_id"`
	At        time.Time        `json:"occurred_at"`
	Data      map[string]any   `json:"payload"`
}

type remoteEvent struct{ env envelope }

func (e remoteEvent) EventType() shared.EventType { return e.env.Type }
func (e remoteEvent) AggregateID() string         { return e.env.Aggregate }
func (e remoteEvent) OccurredAt() time.Time       { return e.env.At }
func (e remoteEvent) Payload() map[string]any     { return e.env.Data }

// ══════════════════════════════════════════════════════════════════════════════
// GO-REDIS ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// GoRedisClient adapts *redis.Client to RedisClient.
type GoRedisClient struct {
	client *goredis.Client
}

func NewGoRedisClient(client *goredis.Client) *GoRedisClient {
	return &GoRedisClient{client: client}
}

func (c *GoRedisClient) Publish(ctx context.Context, channel string, message []byte) error {
	return c.client.Publish(ctx, channel, message).Err()
}

// Subscribe waits for the subscription confirmation so that publishes made
// right after it returns are received.
func (c *GoRedisClient) Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, func() error, error) {
	sub := c.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close, nil
}
