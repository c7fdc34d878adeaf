package engine

import (
	"context"
	"fmt"

	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/notification"
	"github.com/dukex/flowgate/pkg/otelhelper"
	"github.com/dukex/flowgate/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// StartWorkflow creates a request for templateID, moves it to IN_PROGRESS and
// opens the execution of the entry step. The assignment notice is enqueued
// after the transaction commits.
func (e *Engine) StartWorkflow(ctx context.Context, templateID, requesterID string, payload map[string]any) (*models.WorkflowRequest, error) {
	const op = "StartWorkflow"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.StartWorkflow",
		attribute.String(otelhelper.TemplateIDKey, templateID),
		attribute.String(otelhelper.ActorIDKey, requesterID),
	)
	defer span.End()

	if payload == nil {
		payload = map[string]any{}
	}

	var (
		request *models.WorkflowRequest
		notice  *notification.AssignmentNotice
	)

	err := e.persistence.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
		template, err := tx.Templates().ByID(ctx, templateID)
		if err != nil {
			if persistence.IsTemplateNotFound(err) {
				return models.NewWorkflowEngineError(op, fmt.Sprintf("workflow template %s not found", templateID), err)
			}

			return fmt.Errorf("failed to load workflow template %s: %w", templateID, err)
		}

		if !template.Active {
			return models.NewWorkflowEngineError(op, fmt.Sprintf("workflow template %s is inactive", templateID), nil)
		}

		now := e.now()
		request = &models.WorkflowRequest{
			TemplateID:  template.ID,
			RequesterID: requesterID,
			Status:      models.RequestStatusCreated,
			Payload:     payload,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := tx.Requests().Create(ctx, request); err != nil {
			return fmt.Errorf("failed to create workflow request: %w", err)
		}

		if err := e.transition(ctx, tx, request, models.RequestStatusInProgress, &requesterID, "Workflow initiation", now); err != nil {
			return err
		}

		entry := template.EntryStep()
		if entry == nil {
			return models.NewWorkflowEngineError(op, fmt.Sprintf("workflow template %s has no entry step", template.ID), nil)
		}

		execution, err := e.openExecution(ctx, tx, request, entry, now)
		if err != nil {
			return fmt.Errorf("failed to create entry step execution: %w", err)
		}

		if err := tx.Requests().Update(ctx, request); err != nil {
			return fmt.Errorf("failed to update workflow request: %w", err)
		}

		_, err = e.recorder.LogAction(ctx, tx, audit.Action{
			ActorID:      &requesterID,
			Action:       models.AuditWorkflowStarted,
			ResourceType: models.ResourceWorkflowRequest,
			ResourceID:   request.ID,
			RequestID:    &request.ID,
			NewValue:     map[string]any{"status": string(request.Status), "current_step_id": entry.ID},
			Metadata:     map[string]any{"workflow_id": template.ID},
		})
		if err != nil {
			return err
		}

		request.Executions = []*models.StepExecution{execution}
		notice = assignmentNotice(template, entry, execution)

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)
		e.logFailure(ctx, "Failed to start workflow", err, "template_id", templateID, "requester_id", requesterID)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.RequestIDKey, request.ID))
	e.logger.InfoContext(ctx, "Workflow started",
		"request_id", request.ID,
		"template_id", templateID,
		"step_id", *request.CurrentStepID)

	e.notifyAssignment(ctx, notice)

	return request, nil
}
