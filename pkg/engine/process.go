package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/notification"
	"github.com/dukex/flowgate/pkg/otelhelper"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/rbac"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProcessStep records actor's decision on the open step of requestID and either
// advances the request to the next step or finalizes it. The request row is
// locked for the whole transaction so concurrent decisions on the same step
// cannot both succeed.
func (e *Engine) ProcessStep(
	ctx context.Context,
	requestID string,
	actor *models.Actor,
	outcome models.Outcome,
	decision map[string]any,
) (*models.WorkflowRequest, error) {
	const op = "ProcessStep"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.ProcessStep",
		attribute.String(otelhelper.RequestIDKey, requestID),
		attribute.String(otelhelper.OutcomeKey, string(outcome)),
	)
	defer span.End()

	if err := outcome.Validate(); err != nil {
		return nil, models.NewWorkflowEngineError(op, err.Error(), nil)
	}

	if actor == nil {
		return nil, models.NewPermissionDenied(op, "authenticated actor")
	}

	span.SetAttributes(attribute.String(otelhelper.ActorIDKey, actor.ID))

	var (
		request *models.WorkflowRequest
		notice  *notification.AssignmentNotice
	)

	err := e.persistence.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error

		request, err = tx.Requests().LockByID(ctx, requestID)
		if err != nil {
			if persistence.IsRequestNotFound(err) {
				return models.NewWorkflowEngineError(op, fmt.Sprintf("workflow request %s not found", requestID), err)
			}

			return fmt.Errorf("failed to lock workflow request %s: %w", requestID, err)
		}

		if request.CurrentStepID == nil {
			return models.NewWorkflowEngineError(op,
				fmt.Sprintf("logical conflict: request %s has no open step execution", requestID), nil)
		}

		execution, err := tx.Executions().Open(ctx, request.ID, *request.CurrentStepID)
		if err != nil {
			if persistence.IsNotFound(err) {
				return models.NewWorkflowEngineError(op,
					fmt.Sprintf("logical conflict: request %s has no open step execution", requestID), err)
			}

			return fmt.Errorf("failed to load open step execution: %w", err)
		}

		template, err := tx.Templates().ByID(ctx, request.TemplateID)
		if err != nil {
			if persistence.IsTemplateNotFound(err) {
				return models.NewWorkflowEngineError(op, fmt.Sprintf("workflow template %s not found", request.TemplateID), err)
			}

			return fmt.Errorf("failed to load workflow template %s: %w", request.TemplateID, err)
		}

		step := template.StepByID(execution.StepID)
		if step == nil {
			return models.NewWorkflowEngineError(op, fmt.Sprintf("step %s is not part of template %s", execution.StepID, template.ID), nil)
		}

		span.SetAttributes(
			attribute.String(otelhelper.StepIDKey, step.ID),
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		)

		if err := rbac.AuthorizeStep(actor, step); err != nil {
			return err
		}

		now := e.now()
		previous := execution.Status

		execution.Status = string(outcome)
		execution.AssigneeID = &actor.ID
		execution.DecisionData = decision
		execution.CompletedAt = &now

		if comment, ok := decision["comment"].(string); ok {
			execution.Comment = comment
		}

		if err := tx.Executions().Update(ctx, execution); err != nil {
			return fmt.Errorf("failed to close step execution %s: %w", execution.ID, err)
		}

		evaluation := map[string]any{
			"request_data":  request.Payload,
			"decision_data": decisionData(decision),
		}

		next, err := e.resolveNextStep(ctx, tx, template, step, outcome, evaluation)
		if err != nil {
			return err
		}

		if next != nil {
			opened, err := e.openExecution(ctx, tx, request, next, now)
			if err != nil {
				return fmt.Errorf("failed to create step execution for %s: %w", next.ID, err)
			}

			notice = assignmentNotice(template, next, opened)

			e.logger.InfoContext(ctx, "Request advanced", "request_id", request.ID, "from_step", step.ID, "to_step", next.ID)
		} else if err := e.finalize(ctx, tx, request, actor, outcome, now); err != nil {
			return err
		}

		if err := tx.Requests().Update(ctx, request); err != nil {
			return fmt.Errorf("failed to update workflow request: %w", err)
		}

		_, err = e.recorder.LogAction(ctx, tx, audit.Action{
			ActorID:      &actor.ID,
			Action:       models.AuditStepCompleted,
			ResourceType: models.ResourceRequestStep,
			ResourceID:   execution.ID,
			RequestID:    &request.ID,
			OldValue:     map[string]any{"status": previous},
			NewValue:     map[string]any{"status": execution.Status},
			Metadata:     map[string]any{"outcome": string(outcome), "step_id": step.ID},
		})
		if err != nil {
			return err
		}

		request.Executions, err = tx.Executions().ByRequest(ctx, request.ID)
		if err != nil {
			return fmt.Errorf("failed to load step executions: %w", err)
		}

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)
		e.logFailure(ctx, "Failed to process step", err, "request_id", requestID, "actor_id", actor.ID, "outcome", outcome)

		return nil, err
	}

	span.AddEvent("step_processed", trace.WithAttributes(attribute.String("flowgate.request.status", string(request.Status))))

	e.notifyAssignment(ctx, notice)

	return request, nil
}

// resolveNextStep follows the first transition for (step, outcome) whose condition
// is empty or holds. No transition, a terminal transition or no matching
// condition all finalize the request.
func (e *Engine) resolveNextStep(
	ctx context.Context,
	tx persistence.Tx,
	template *models.WorkflowTemplate,
	step *models.StepDefinition,
	outcome models.Outcome,
	evaluation map[string]any,
) (*models.StepDefinition, error) {
	transitions, err := tx.Templates().Transitions(ctx, step.ID, outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to load transitions of step %s: %w", step.ID, err)
	}

	for _, transition := range transitions {
		if !transition.Condition.Empty() && !e.evaluator.Evaluate(transition.Condition, evaluation) {
			continue
		}

		if transition.Terminal() {
			return nil, nil
		}

		next := template.StepByID(*transition.ToStepID)
		if next == nil {
			return nil, models.NewWorkflowEngineError("ProcessStep",
				fmt.Sprintf("transition %s targets unknown step %s", transition.ID, *transition.ToStepID), nil)
		}

		return next, nil
	}

	if len(transitions) > 0 {
		e.logger.DebugContext(ctx, "No transition condition matched, finalizing", "step_id", step.ID, "outcome", outcome)
	}

	return nil, nil
}

// finalize moves the request through the intermediate outcome status into COMPLETED.
// Both hops are validated and recorded separately.
func (e *Engine) finalize(
	ctx context.Context,
	tx persistence.Tx,
	request *models.WorkflowRequest,
	actor *models.Actor,
	outcome models.Outcome,
	now time.Time,
) error {
	final := outcome.FinalStatus()

	if err := e.transition(ctx, tx, request, final, &actor.ID, "Final step outcome: "+string(outcome), now); err != nil {
		return err
	}

	if err := e.transition(ctx, tx, request, models.RequestStatusCompleted, &actor.ID, "Workflow completion", now); err != nil {
		return err
	}

	request.CurrentStepID = nil
	request.CompletedAt = &now

	_, err := e.recorder.LogAction(ctx, tx, audit.Action{
		ActorID:      &actor.ID,
		Action:       models.AuditWorkflowCompleted,
		ResourceType: models.ResourceWorkflowRequest,
		ResourceID:   request.ID,
		RequestID:    &request.ID,
		NewValue:     map[string]any{"status": string(request.Status)},
		Metadata:     map[string]any{"final_outcome": string(outcome), "final_status": string(final)},
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Request finalized", "request_id", request.ID, "outcome", outcome, "final_status", final)

	return nil
}

func decisionData(decision map[string]any) map[string]any {
	if decision == nil {
		return map[string]any{}
	}

	return decision
}
