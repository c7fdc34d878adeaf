// Package engine drives workflow requests through their templates: it starts
// requests, records step decisions, follows conditional transitions and
// finalizes requests, keeping every write of an operation in one transaction.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/condition"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/notification"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/statemachine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dukex/flowgate/pkg/engine"

type Engine struct {
	persistence persistence.Persistence
	dispatcher  notification.Dispatcher
	evaluator   *condition.Evaluator
	recorder    *audit.Recorder
	tracer      trace.Tracer
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Engine)

// WithClock replaces the time source used for timestamps and deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.recorder = e.recorder.WithClock(now)
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func New(p persistence.Persistence, dispatcher notification.Dispatcher, logger *slog.Logger, opts ...Option) *Engine {
	logger = logger.With("module", "engine")

	e := &Engine{
		persistence: p,
		dispatcher:  dispatcher,
		evaluator:   condition.NewEvaluator(logger),
		recorder:    audit.NewRecorder(logger),
		tracer:      otel.Tracer(tracerName),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// transition validates and applies a request-level status change and records it in the history.
func (e *Engine) transition(
	ctx context.Context,
	tx persistence.Tx,
	request *models.WorkflowRequest,
	to models.RequestStatus,
	actorID *string,
	reason string,
	at time.Time,
) error {
	from := request.Status

	if err := statemachine.ValidateTransition(from, to); err != nil {
		e.logger.WarnContext(ctx, "Rejected request transition",
			"request_id", request.ID, "from", from, "to", to)

		return err
	}

	err := tx.Requests().AppendHistory(ctx, &models.StateHistoryEntry{
		RequestID:  request.ID,
		FromStatus: &from,
		ToStatus:   to,
		ActorID:    actorID,
		Reason:     reason,
		CreatedAt:  at,
	})
	if err != nil {
		return err
	}

	request.Status = to
	request.UpdatedAt = at

	return nil
}

// openExecution creates the PENDING execution of step for request and points the request at it.
func (e *Engine) openExecution(
	ctx context.Context,
	tx persistence.Tx,
	request *models.WorkflowRequest,
	step *models.StepDefinition,
	at time.Time,
) (*models.StepExecution, error) {
	execution := &models.StepExecution{
		RequestID: request.ID,
		StepID:    step.ID,
		Status:    string(models.StepStatusPending),
		StartedAt: at,
		Deadline:  step.Deadline(at),
	}

	if err := tx.Executions().Create(ctx, execution); err != nil {
		return nil, err
	}

	request.CurrentStepID = &step.ID
	request.UpdatedAt = at

	return execution, nil
}

// notifyAssignment enqueues a best-effort notice. Failures are logged only.
func (e *Engine) notifyAssignment(ctx context.Context, notice *notification.AssignmentNotice) {
	if notice == nil || e.dispatcher == nil {
		return
	}

	if err := e.dispatcher.EnqueueAssignmentNotice(ctx, *notice); err != nil {
		e.logger.ErrorContext(ctx, "Failed to enqueue assignment notice",
			"request_id", notice.RequestID,
			"step_id", notice.StepID,
			"error", err)
	}
}

func assignmentNotice(template *models.WorkflowTemplate, step *models.StepDefinition, execution *models.StepExecution) *notification.AssignmentNotice {
	return &notification.AssignmentNotice{
		StepID:       step.ID,
		RequestID:    execution.RequestID,
		WorkflowName: template.Name,
		StepName:     step.Name,
		Deadline:     execution.Deadline,
	}
}

// logFailure logs domain errors at WARN and everything else at ERROR.
func (e *Engine) logFailure(ctx context.Context, msg string, err error, args ...any) {
	args = append(args, "error", err)

	if models.ErrorCode(err) != models.CodeInternal {
		e.logger.WarnContext(ctx, msg, args...)

		return
	}

	e.logger.ErrorContext(ctx, msg, args...)
}
