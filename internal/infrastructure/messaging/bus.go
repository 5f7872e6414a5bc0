// Package messaging implements the league event bus: an in-memory bus for a
// single process and a Redis pub/sub bus that fans events out to every
// server and worker instance.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrNilHandler     = errors.New("handler cannot be nil")
	ErrNilEvent       = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures NewInMemoryEventBus.
type InMemoryEventBusConfig struct {
	// Async runs handlers on at most Workers goroutines; Publish returns
	// immediately. Otherwise Publish returns after every handler ran.
	Async   bool
	Workers int
	Logger  *slog.Logger
}

// DefaultInMemoryEventBusConfig is async with 10 workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{Async: true, Workers: 10}
}

// InMemoryEventBus dispatches events to handlers registered in this process.
// Handler errors and panics are logged and counted; they never reach the
// publisher.
type InMemoryEventBus struct {
	async  bool
	slots  chan struct{}
	logger *slog.Logger
	stats  *Stats

	mu     sync.RWMutex
	byType map[shared.EventType][]shared.EventHandler
	any    []shared.EventHandler
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	return &InMemoryEventBus{
		async:  cfg.Async,
		slots:  make(chan struct{}, cfg.Workers),
		logger: cfg.Logger,
		stats:  newStats(),
		byType: make(map[shared.EventType][]shared.EventHandler),
		done:   make(chan struct{}),
	}
}

func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(handler, func() { b.byType[eventType] = append(b.byType[eventType], handler) })
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(handler, func() { b.any = append(b.any, handler) })
}

func (b *InMemoryEventBus) add(handler shared.EventHandler, register func()) error {
	if handler == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	register()
	return nil
}

func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	targets := make([]shared.EventHandler, 0, len(typed)+len(b.any))
	targets = append(append(targets, typed...), b.any...)
	// registered under the read lock so Close waits for these deliveries
	if b.async {
		b.wg.Add(len(targets))
	}
	b.mu.RUnlock()

	b.stats.published(event.EventType())
	for _, h := range targets {
		if b.async {
			go b.deliverAsync(event, h)
		} else {
			b.deliver(event, h)
		}
	}
	return nil
}

func (b *InMemoryEventBus) deliverAsync(event shared.Event, h shared.EventHandler) {
	defer b.wg.Done()
	select {
	case b.slots <- struct{}{}:
		defer func() { <-b.slots }()
	case <-b.done:
		return
	}
	b.deliver(event, h)
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	err := safeCall(h, event)
	b.stats.handled(err == nil)
	if err != nil {
		b.logger.Error("event handler failed", "event_type", event.EventType(), "aggregate_id", event.AggregateID(), "error", err)
	}
}

func safeCall(h shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h(event)
}

// Wait blocks until in-flight async deliveries finish.
func (b *InMemoryEventBus) Wait() {
	b.wg.Wait()
}

// Close refuses new events and drops deliveries still waiting for a worker
// slot. Running handlers are waited for.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *InMemoryEventBus) Stats() *Stats {
	return b.stats
}
