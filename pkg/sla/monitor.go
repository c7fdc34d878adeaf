// Package sla detects step executions that outlived their deadline, records the
// breach and escalation, and alerts the admin distribution list.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/notification"
	"github.com/dukex/flowgate/pkg/otelhelper"
	"github.com/dukex/flowgate/pkg/persistence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultAdminEmail receives breach notices when no list is configured.
const DefaultAdminEmail = "admin@workflow-platform.com"

// FirstEscalationLevel is the level of the record created by a sweep.
const FirstEscalationLevel = 1

// DefaultNotifyTimeout bounds the time a sweep spends enqueueing all of its breach notices.
const DefaultNotifyTimeout = 10 * time.Second

type Monitor struct {
	persistence persistence.Persistence
	dispatcher  notification.Dispatcher
	adminEmails []string
	recorder    *audit.Recorder
	notifyLimit time.Duration
	tracer      trace.Tracer
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Monitor)

func WithAdminEmails(emails ...string) Option {
	return func(m *Monitor) {
		if len(emails) > 0 {
			m.adminEmails = emails
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
		m.recorder = m.recorder.WithClock(now)
	}
}

// WithNotifyTimeout overrides the deadline shared by every breach notice of one sweep.
func WithNotifyTimeout(timeout time.Duration) Option {
	return func(m *Monitor) { m.notifyLimit = timeout }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Monitor) { m.tracer = tracer }
}

func NewMonitor(p persistence.Persistence, dispatcher notification.Dispatcher, logger *slog.Logger, opts ...Option) *Monitor {
	logger = logger.With("module", "sla_monitor")

	m := &Monitor{
		persistence: p,
		dispatcher:  dispatcher,
		adminEmails: []string{DefaultAdminEmail},
		recorder:    audit.NewRecorder(logger),
		notifyLimit: DefaultNotifyTimeout,
		tracer:      otel.Tracer("github.com/dukex/flowgate/pkg/sla"),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ScanForBreaches marks every open, unbreached execution whose deadline has
// passed and returns how many were newly breached. Each execution is handled in
// its own savepoint so one failure does not abort the sweep. A sweep that finds
// nothing writes nothing.
func (m *Monitor) ScanForBreaches(ctx context.Context) (int, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "sla.ScanForBreaches")
	defer span.End()

	var (
		count   int
		notices []notification.BreachNotice
	)

	err := m.persistence.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
		count, notices = 0, nil
		now := m.now()

		overdue, err := tx.Executions().Overdue(ctx, now)
		if err != nil {
			return fmt.Errorf("failed to query overdue step executions: %w", err)
		}

		for _, execution := range overdue {
			var notice *notification.BreachNotice

			err := tx.Savepoint(ctx, func(ctx context.Context) error {
				var err error

				notice, err = m.markBreached(ctx, tx, execution, now)

				return err
			})
			if err != nil {
				m.logger.ErrorContext(ctx, "Failed to process SLA breach",
					"execution_id", execution.ID,
					"request_id", execution.RequestID,
					"error", err)

				continue
			}

			count++

			notices = append(notices, *notice)
		}

		if count == 0 {
			return persistence.ErrRollback
		}

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return 0, fmt.Errorf("failed to scan for SLA breaches: %w", err)
	}

	span.SetAttributes(attribute.Int(otelhelper.BreachCountKey, count))

	m.notifyBreaches(ctx, notices)

	return count, nil
}

// notifyBreaches enqueues the notices of one sweep under a single deadline.
// Notices left when the deadline passes are dropped and logged.
func (m *Monitor) notifyBreaches(ctx context.Context, notices []notification.BreachNotice) {
	if m.dispatcher == nil || len(notices) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.notifyLimit)
	defer cancel()

	for i, notice := range notices {
		if ctx.Err() != nil {
			m.logger.ErrorContext(ctx, "Dropping breach notices, notification deadline exceeded",
				"dropped", len(notices)-i,
				"error", ctx.Err())

			return
		}

		if err := m.dispatcher.EnqueueBreachNotice(ctx, notice); err != nil {
			m.logger.ErrorContext(ctx, "Failed to enqueue breach notice", "request_id", notice.RequestID, "error", err)
		}
	}
}

func (m *Monitor) markBreached(
	ctx context.Context,
	tx persistence.Tx,
	execution *models.StepExecution,
	now time.Time,
) (*notification.BreachNotice, error) {
	request, err := tx.Requests().ByID(ctx, execution.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request %s: %w", execution.RequestID, err)
	}

	template, err := tx.Templates().ByID(ctx, request.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", request.TemplateID, err)
	}

	stepName := execution.StepID
	if step := template.StepByID(execution.StepID); step != nil {
		stepName = step.Name
	}

	execution.Breached = true

	if err := tx.Executions().Update(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to flag execution %s: %w", execution.ID, err)
	}

	err = tx.Escalations().Create(ctx, &models.EscalationRecord{
		ExecutionID: execution.ID,
		Level:       FirstEscalationLevel,
		EscalatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to escalate execution %s: %w", execution.ID, err)
	}

	_, err = m.recorder.LogAction(ctx, tx, audit.Action{
		Action:       models.AuditSLABreachDetected,
		ResourceType: models.ResourceRequestStep,
		ResourceID:   execution.ID,
		RequestID:    &execution.RequestID,
		Metadata:     map[string]any{"deadline": execution.Deadline.UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return nil, err
	}

	m.logger.WarnContext(ctx, "SLA breach detected",
		"execution_id", execution.ID,
		"request_id", execution.RequestID,
		"step_id", execution.StepID,
		"deadline", execution.Deadline)

	return &notification.BreachNotice{
		Emails:       m.adminEmails,
		WorkflowName: template.Name,
		StepName:     stepName,
		RequestID:    execution.RequestID,
		Deadline:     execution.Deadline,
	}, nil
}
