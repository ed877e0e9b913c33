package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitSyncDeliversToAllHandlers(t *testing.T) {
	bus := NewEventBus()

	var calls atomic.Int32
	for _, name := range []string{"journal", "feed"} {
		bus.Subscribe(EventFeed, name, func(ctx context.Context, ev Event) error {
			calls.Add(1)
			require.Equal(t, EventFeed, ev.Type)
			return nil
		})
	}

	err := bus.EmitSync(context.Background(), Event{
		Type:    EventFeed,
		Source:  "session",
		Payload: FeedPayload{Kind: FeedKindFrag, Actor: "A", Target: "B"},
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestEmitSyncReturnsHandlerError(t *testing.T) {
	bus := NewEventBus()
	wantErr := errors.New("journal write failed")

	bus.Subscribe(EventAlertRaised, "journal", func(ctx context.Context, ev Event) error {
		return wantErr
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventAlertRaised})
	require.ErrorIs(t, err, wantErr)
}

func TestEmitAsyncAndPanicRecovery(t *testing.T) {
	bus := NewEventBus()
	done := make(chan struct{})

	bus.Subscribe(EventPeerJoined, "panics", func(ctx context.Context, ev Event) error {
		panic("handler bug")
	})
	bus.Subscribe(EventPeerJoined, "survives", func(ctx context.Context, ev Event) error {
		close(done)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventPeerJoined})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("surviving handler never ran")
	}
	bus.Stop()
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventShutdown, "a", func(ctx context.Context, ev Event) error { return nil })
	bus.Subscribe(EventShutdown, "b", func(ctx context.Context, ev Event) error { return nil })
	require.Equal(t, 2, bus.HandlerCount(EventShutdown))

	bus.Unsubscribe(EventShutdown, "a")
	require.Equal(t, 1, bus.HandlerCount(EventShutdown))
}

func TestStoppedBusDropsEvents(t *testing.T) {
	bus := NewEventBus()

	var calls atomic.Int32
	bus.Subscribe(EventFeed, "counter", func(ctx context.Context, ev Event) error {
		calls.Add(1)
		return nil
	})

	bus.Stop()
	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventFeed}))
	require.Equal(t, int32(0), calls.Load())

	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel should be closed")
	}
}

func TestLinkStatusStrings(t *testing.T) {
	require.Equal(t, "up", LinkStatusUp.String())
	require.Equal(t, "degraded", LinkStatusDegraded.String())
	require.Equal(t, "down", LinkStatus(99).String())

	b, err := LinkStatusDisabled.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"disabled"`, string(b))
}
