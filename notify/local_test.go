package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalBusPublishWakesSubscriber(t *testing.T) {
	bus := NewLocalBus()
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

func TestLocalBusPublishWithNoSubscribersIsNotAnError(t *testing.T) {
	bus := NewLocalBus()
	require.NoError(t, bus.Publish(context.Background(), "nobody/listening"))
}

func TestLocalBusCancelStopsDelivery(t *testing.T) {
	bus := NewLocalBus()
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

func TestLocalBusIndependentChannelsDoNotCrossDeliver(t *testing.T) {
	bus := NewLocalBus()
	ctx := context.Background()

	chA, cancelA, err := bus.Subscribe(ctx, "a")
	require.NoError(t, err)
	defer cancelA()
	chB, cancelB, err := bus.Subscribe(ctx, "b")
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, bus.Publish(ctx, "a"))

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("channel a should have been woken")
	}

	select {
	case <-chB:
		t.Fatal("channel b should not have been woken by a publish on a")
	case <-time.After(50 * time.Millisecond):
	}
}
