package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{})
}

func TestInMemoryEventBus_DispatchesByType(t *testing.T) {
	bus := syncBus()
	var tier, all int
	require.NoError(t, bus.Subscribe(shared.EventTierChanged, func(shared.Event) error { tier++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(shared.NewTierChangedEvent("u1", "2024-03-11", 1, 2, "up")))
	require.NoError(t, bus.Publish(shared.NewBadgeGrantedEvent("u1", "gold-league", "2024-03-11")))

	assert.Equal(t, 1, tier)
	assert.Equal(t, 2, all)
	assert.EqualValues(t, 1, bus.Stats().Published(shared.EventTierChanged))
}

func TestInMemoryEventBus_HandlerFailuresDoNotPropagate(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))

	assert.NoError(t, bus.Publish(shared.NewLeaderboardInvalidatedEvent("2024-03-11", "", "test")))
	assert.EqualValues(t, 2, bus.Stats().Failures())
}

func TestInMemoryEventBus_AsyncAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Async: true, Workers: 2})
	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { n.Add(1); return nil }))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewLeaderboardInvalidatedEvent("2024-03-11", "", "test")))
	}
	bus.Wait()
	assert.EqualValues(t, 5, n.Load())

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(shared.NewLeaderboardInvalidatedEvent("2024-03-11", "", "x")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventWeekClosed, func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(nil), ErrNilHandler)
}

// loopback delivers published messages to every subscriber of the channel.
type loopback struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

func (l *loopback) Publish(_ context.Context, channel string, message []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.subs {
		s <- RedisMessage{Channel: channel, Payload: string(message)}
	}
	return nil
}

func (l *loopback) Subscribe(context.Context, string) (<-chan RedisMessage, func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	l.subs = append(l.subs, ch)
	return ch, func() error { return nil }, nil
}

func TestRedisEventBus_FansOutToOtherInstances(t *testing.T) {
	lb := &loopback{}
	a, err := NewRedisEventBus(RedisEventBusConfig{Client: lb, InstanceID: "a"})
	require.NoError(t, err)
	b, err := NewRedisEventBus(RedisEventBusConfig{Client: lb, InstanceID: "b"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	var onA, onB atomic.Int32
	require.NoError(t, a.Subscribe(shared.EventWeekClosed, func(shared.Event) error { onA.Add(1); return nil }))
	gotB := make(chan shared.Event, 1)
	require.NoError(t, b.Subscribe(shared.EventWeekClosed, func(e shared.Event) error {
		onB.Add(1)
		gotB <- e
		return nil
	}))

	require.NoError(t, a.Publish(shared.NewWeekClosedEvent("run-1", "2024-03-11", "2024-03-18", 3, 0, 2)))

	select {
	case e := <-gotB:
		assert.Equal(t, "2024-03-11", e.Payload()["week_start"])
	case <-time.After(2 * time.Second):
		t.Fatal("event did not reach the other instance")
	}
	a.Local().Wait()
	b.Local().Wait()
	assert.EqualValues(t, 1, onA.Load(), "own message must not be replayed")
	assert.EqualValues(t, 1, onB.Load())
}

type failingClient struct{ loopback }

func (f *failingClient) Publish(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func TestRedisEventBus_PublishFailureStillDeliversLocally(t *testing.T) {
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: &failingClient{}, Local: InMemoryEventBusConfig{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	got := 0
	require.NoError(t, bus.Subscribe(shared.EventLeaderboardInvalidated, func(shared.Event) error { got++; return nil }))
	require.NoError(t, bus.Publish(shared.NewLeaderboardInvalidatedEvent("2024-03-11", "", "session")))
	assert.Equal(t, 1, got)
}

func TestRedisEventBus_MalformedMessageIgnored(t *testing.T) {
	lb := &loopback{}
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: lb, InstanceID: "a", Local: InMemoryEventBusConfig{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	got := make(chan shared.Event, 2)
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error { got <- e; return nil }))

	require.NoError(t, lb.Publish(context.Background(), "focus-league:events", []byte("{not json")))
	require.NoError(t, lb.Publish(context.Background(), "focus-league:events",
		[]byte(`{"instance_id":"b","event_type":"league.week_closed","aggregate_id":"run-9","payload":{"week_start":"2024-03-11"}}`)))

	select {
	case e := <-got:
		assert.Equal(t, shared.EventWeekClosed, e.EventType())
		assert.Equal(t, "run-9", e.AggregateID())
	case <-time.After(2 * time.Second):
		t.Fatal("valid message after a malformed one was not delivered")
	}
}
