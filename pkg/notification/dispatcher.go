// Package notification hands assignment and SLA breach notices to an asynchronous
// queue and delivers them from a worker. Enqueueing is fire-and-forget with
// at-least-once delivery.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
)

// DefaultPublishTimeout bounds how long callers wait for an enqueue.
const DefaultPublishTimeout = 5 * time.Second

type AssignmentNotice struct {
	StepID       string
	RequestID    string
	WorkflowName string
	StepName     string
	Deadline     time.Time
}

type BreachNotice struct {
	Emails       []string
	WorkflowName string
	StepName     string
	RequestID    string
	Deadline     time.Time
}

// Dispatcher enqueues notices. Implementations must return within a bounded time.
type Dispatcher interface {
	EnqueueAssignmentNotice(ctx context.Context, notice AssignmentNotice) error
	EnqueueBreachNotice(ctx context.Context, notice BreachNotice) error
}

// EventBusDispatcher publishes notices as events on the notification topic.
type EventBusDispatcher struct {
	publisher eventbus.EventPublisher
	ids       func() string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewEventBusDispatcher(bus eventbus.EventBus, logger *slog.Logger) *EventBusDispatcher {
	return &EventBusDispatcher{
		publisher: bus,
		ids:       bus.GenerateID,
		timeout:   DefaultPublishTimeout,
		logger:    logger.With("module", "notification_dispatcher"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithTimeout overrides the publish timeout.
func (d *EventBusDispatcher) WithTimeout(timeout time.Duration) *EventBusDispatcher {
	d.timeout = timeout

	return d
}

func (d *EventBusDispatcher) EnqueueAssignmentNotice(ctx context.Context, notice AssignmentNotice) error {
	event := &events.AssignmentNotice{
		BaseEvent:    d.base(events.AssignmentNoticeEvent, notice.RequestID),
		StepID:       notice.StepID,
		WorkflowName: notice.WorkflowName,
		StepName:     notice.StepName,
		Deadline:     notice.Deadline,
	}

	if err := event.Validate(); err != nil {
		return err
	}

	return d.publish(ctx, notice.RequestID, event)
}

func (d *EventBusDispatcher) EnqueueBreachNotice(ctx context.Context, notice BreachNotice) error {
	event := &events.BreachNotice{
		BaseEvent:    d.base(events.BreachNoticeEvent, notice.RequestID),
		Emails:       notice.Emails,
		WorkflowName: notice.WorkflowName,
		StepName:     notice.StepName,
		Deadline:     notice.Deadline,
	}

	if err := event.Validate(); err != nil {
		return err
	}

	return d.publish(ctx, notice.RequestID, event)
}

func (d *EventBusDispatcher) base(eventType events.EventType, requestID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        d.ids(),
		Type:      eventType,
		Timestamp: d.now(),
		RequestID: requestID,
	}
}

func (d *EventBusDispatcher) publish(ctx context.Context, key string, event eventbus.Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- d.publisher.Publish(ctx, key, event)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", event.GetType(), err)
		}

		d.logger.DebugContext(ctx, "Notice enqueued", "event_type", event.GetType(), "request_id", key)

		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to enqueue %s: %w", event.GetType(), ctx.Err())
	}
}
