package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowgate/pkg/channels/gochannel"
	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{}, false)
	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())

	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	bus := newBus(t)
	received := make(chan *events.AssignmentNotice, 1)

	require.NoError(t, bus.Handle(events.AssignmentNoticeEvent, func(_ context.Context, event any) error {
		received <- event.(*events.AssignmentNotice)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := bus.Publish(t.Context(), "req-1", &events.AssignmentNotice{
		BaseEvent:    events.BaseEvent{ID: bus.GenerateID(), Type: events.AssignmentNoticeEvent, RequestID: "req-1"},
		StepID:       "step-1",
		WorkflowName: "Purchase",
		StepName:     "Manager review",
		Deadline:     deadline,
	})
	require.NoError(t, err)

	select {
	case notice := <-received:
		assert.Equal(t, "req-1", notice.RequestID)
		assert.Equal(t, "Manager review", notice.StepName)
		assert.True(t, deadline.Equal(notice.Deadline))
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_RedeliversOnHandlerError(t *testing.T) {
	bus := newBus(t)

	var attempts atomic.Int32

	done := make(chan struct{})

	require.NoError(t, bus.Handle(events.BreachNoticeEvent, func(context.Context, any) error {
		if attempts.Add(1) == 1 {
			return errors.New("smtp unavailable")
		}

		close(done)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	require.NoError(t, bus.Publish(t.Context(), "req-2", &events.BreachNotice{
		BaseEvent:    events.BaseEvent{RequestID: "req-2"},
		Emails:       []string{"admin@workflow-platform.com"},
		WorkflowName: "Purchase",
		StepName:     "Finance review",
	}))

	select {
	case <-done:
		assert.Equal(t, int32(2), attempts.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("event was not redelivered")
	}
}
