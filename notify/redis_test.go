package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestRedisBus(t *testing.T) *RedisBus {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { require.NoError(t, client.Close()) })
	return NewRedisBus(RedisBusConfig{Client: client})
}

func TestRedisBusPublishWakesSubscriber(t *testing.T) {
	bus := newTestRedisBus(t)
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, "wf-1/topic")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bus.Publish(ctx, "wf-1/topic"))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not woken by publish")
	}
}

func TestRedisBusChannelsAreNamespacedByPrefix(t *testing.T) {
	server := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: server.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		require.NoError(t, clientA.Close())
		require.NoError(t, clientB.Close())
	})

	busA := NewRedisBus(RedisBusConfig{Client: clientA, Prefix: "app-a:"})
	busB := NewRedisBus(RedisBusConfig{Client: clientB, Prefix: "app-b:"})
	ctx := context.Background()

	chA, cancelA, err := busA.Subscribe(ctx, "wf-1/topic")
	require.NoError(t, err)
	defer cancelA()

	require.NoError(t, busB.Publish(ctx, "wf-1/topic"))

	select {
	case <-chA:
		t.Fatal("a publish under a different prefix should not wake this subscriber")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusCancelStopsDelivery(t *testing.T) {
	bus := newTestRedisBus(t)
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, "wf-2/topic")
	require.NoError(t, err)
	cancel()

	require.NoError(t, bus.Publish(ctx, "wf-2/topic"))

	select {
	case _, ok := <-ch:
		require.False(t, ok, "cancelled subscriber channel should not receive further values")
	case <-time.After(100 * time.Millisecond):
	}
}
