package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/event"
)

type collector struct {
	mu     sync.Mutex
	events []string
}

func (c *collector) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt.EventType)
	return nil
}

func (c *collector) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func TestBus_DispatchesInOrder(t *testing.T) {
	bus := New(8, zap.NewNop())
	c := &collector{}
	bus.Subscribe("collector", c)
	bus.Subscribe("failing", HandlerFunc(func(context.Context, event.DomainEvent) error {
		return errors.New("boom")
	}))
	bus.Start(context.Background())

	bus.Publish(context.Background(), event.NewComputationMerged(event.ComputationMergedPayload{SessionID: "s"}))
	bus.Publish(context.Background(), event.NewComputationFailed(event.ComputationFailedPayload{SessionID: "s"}))
	bus.Stop()

	assert.Equal(t, []string{event.TypeComputationMerged, event.TypeComputationFailed}, c.seen())
}

func TestBus_PublishAfterStopIsDropped(t *testing.T) {
	bus := New(1, nil)
	bus.Start(context.Background())
	bus.Stop()

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), event.NewComputationMerged(event.ComputationMergedPayload{}))
	})
	assert.NotPanics(t, bus.Stop)
}

func TestBus_ContextCancelDrains(t *testing.T) {
	bus := New(4, nil)
	c := &collector{}
	bus.Subscribe("collector", c)

	bus.Publish(context.Background(), event.NewComputationMerged(event.ComputationMergedPayload{}))
	bus.Publish(context.Background(), event.NewComputationMerged(event.ComputationMergedPayload{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Start(ctx)

	select {
	case <-bus.done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not exit")
	}
	require.Len(t, c.seen(), 2)
}

func TestMetricsConsumer_IgnoresOtherEvents(t *testing.T) {
	c := NewMetricsConsumer()
	ctx := context.Background()
	assert.NoError(t, c.HandleEvent(ctx, event.NewComputationMerged(event.ComputationMergedPayload{})))
	assert.NoError(t, c.HandleEvent(ctx, event.NewConfirmationBlocked(event.ConfirmationBlockedPayload{
		SessionID: "s", ProductType: "door", Fields: []string{"width"},
	})))
	assert.NoError(t, NewLogConsumer(nil).HandleEvent(ctx, event.NewConfirmationBlocked(event.ConfirmationBlockedPayload{
		SessionID: "0123456789abcdef",
	})))
}
