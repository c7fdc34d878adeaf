package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/template"
)

var (
	assignmentBody = template.MustParse("assignment", `You have a new task in workflow {{quote .WorkflowName}}.

Step: {{.StepName}}
Request: {{.RequestID}}
Due: {{deadline .Deadline}}

Review it at {{.ActionURL}}
`)

	breachBody = template.MustParse("sla_breach", `The SLA for step {{quote .StepName}} in workflow {{quote .WorkflowName}} has been breached.

Request: {{.RequestID}}
Deadline: {{deadline .Deadline}}

Investigate at {{.ActionURL}}
`)
)

type bodyData struct {
	WorkflowName string
	StepName     string
	RequestID    string
	Deadline     time.Time
	ActionURL    string
}

// Worker consumes notification events and delivers one email per recipient.
type Worker struct {
	store       persistence.Store
	mailer      Mailer
	deduper     Deduper
	frontendURL string
	from        string
	logger      *slog.Logger
}

type WorkerOption func(*Worker)

func WithDeduper(deduper Deduper) WorkerOption {
	return func(w *Worker) { w.deduper = deduper }
}

func WithFrontendURL(url string) WorkerOption {
	return func(w *Worker) { w.frontendURL = strings.TrimRight(url, "/") }
}

func WithSender(from string) WorkerOption {
	return func(w *Worker) { w.from = from }
}

func NewWorker(store persistence.Store, mailer Mailer, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:       store,
		mailer:      mailer,
		frontendURL: "http://localhost:3000",
		from:        "noreply@workflow-platform.com",
		logger:      logger.With("module", "notification_worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Register subscribes the worker's handlers on bus.
func (w *Worker) Register(bus eventbus.EventSubscriber) error {
	if err := bus.Handle(events.AssignmentNoticeEvent, w.HandleAssignment); err != nil {
		return fmt.Errorf("failed to register assignment handler: %w", err)
	}

	if err := bus.Handle(events.BreachNoticeEvent, w.HandleBreach); err != nil {
		return fmt.Errorf("failed to register breach handler: %w", err)
	}

	return nil
}

// HandleAssignment notifies active users holding the step's required role.
func (w *Worker) HandleAssignment(ctx context.Context, event any) error {
	notice, ok := event.(*events.AssignmentNotice)
	if !ok {
		return fmt.Errorf("%w: expected assignment notice, got %T", events.ErrInvalidEventData, event)
	}

	logger := w.logger.With("request_id", notice.RequestID, "step_id", notice.StepID)

	step, err := w.store.Templates().StepByID(ctx, notice.StepID)
	if err != nil {
		if persistence.IsNotFound(err) {
			logger.WarnContext(ctx, "Step no longer exists, dropping assignment notice")

			return nil
		}

		return fmt.Errorf("failed to load step %s: %w", notice.StepID, err)
	}

	if step.RequiredRoleID == nil {
		logger.InfoContext(ctx, "Step has no required role, nobody to notify")

		return nil
	}

	emails, err := w.store.Actors().EmailsForRole(ctx, *step.RequiredRoleID)
	if err != nil {
		return fmt.Errorf("failed to resolve assignees for role %s: %w", *step.RequiredRoleID, err)
	}

	if len(emails) == 0 {
		logger.WarnContext(ctx, "No active users hold the required role", "role_id", *step.RequiredRoleID)

		return nil
	}

	msg := Message{
		From:      w.from,
		Subject:   "Task Assignment: " + notice.WorkflowName,
		ActionURL: w.requestURL(notice.RequestID),
	}
	msg.Body, err = template.Render(assignmentBody, bodyData{
		WorkflowName: notice.WorkflowName,
		StepName:     notice.StepName,
		RequestID:    notice.RequestID,
		Deadline:     notice.Deadline,
		ActionURL:    msg.ActionURL,
	})
	if err != nil {
		return err
	}

	return w.deliverAll(ctx, notice.ID, emails, msg)
}

// HandleBreach alerts every address on the notice's distribution list.
func (w *Worker) HandleBreach(ctx context.Context, event any) error {
	notice, ok := event.(*events.BreachNotice)
	if !ok {
		return fmt.Errorf("%w: expected breach notice, got %T", events.ErrInvalidEventData, event)
	}

	msg := Message{
		From:      w.from,
		Subject:   "URGENT: SLA Breach - " + notice.WorkflowName,
		ActionURL: w.requestURL(notice.RequestID),
	}

	body, err := template.Render(breachBody, bodyData{
		WorkflowName: notice.WorkflowName,
		StepName:     notice.StepName,
		RequestID:    notice.RequestID,
		Deadline:     notice.Deadline,
		ActionURL:    msg.ActionURL,
	})
	if err != nil {
		return err
	}

	msg.Body = body

	w.logger.WarnContext(ctx, "Delivering SLA breach notice", "request_id", notice.RequestID, "recipients", len(notice.Emails))

	return w.deliverAll(ctx, notice.ID, notice.Emails, msg)
}

func (w *Worker) deliverAll(ctx context.Context, noticeID string, recipients []string, msg Message) error {
	var errs []error

	for _, to := range recipients {
		msg.To = to

		if err := w.deliver(ctx, noticeID, msg); err != nil {
			w.logger.ErrorContext(ctx, "Failed to deliver notification", "to", to, "subject", msg.Subject, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (w *Worker) deliver(ctx context.Context, noticeID string, msg Message) error {
	if w.deduper == nil || noticeID == "" {
		return w.mailer.Send(ctx, msg)
	}

	key := noticeID + ":" + strings.ToLower(msg.To)

	claimed, err := w.deduper.Claim(ctx, key)
	if err != nil {
		return err
	}

	if !claimed {
		w.logger.DebugContext(ctx, "Notification already delivered", "to", msg.To, "notice_id", noticeID)

		return nil
	}

	if err := w.mailer.Send(ctx, msg); err != nil {
		if relErr := w.deduper.Release(ctx, key); relErr != nil {
			return errors.Join(err, relErr)
		}

		return err
	}

	return nil
}

func (w *Worker) requestURL(requestID string) string {
	return w.frontendURL + "/requests/" + requestID
}
