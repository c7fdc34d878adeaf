package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/flowgate/pkg/engine"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// Decision actions accepted by Decide besides raw outcome labels.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Requests exposes request operations and read projections.
type Requests struct {
	persistence persistence.Persistence
	engine      *engine.Engine
}

func NewRequests(persistence persistence.Persistence, engine *engine.Engine) *Requests {
	return &Requests{persistence: persistence, engine: engine}
}

// Start creates a request on behalf of actor.
func (r *Requests) Start(ctx context.Context, actor *models.Actor, templateID string, payload map[string]any) (*models.WorkflowRequest, error) {
	return r.engine.StartWorkflow(ctx, templateID, actor.ID, payload)
}

// Process records an outcome label on the current step of the request.
func (r *Requests) Process(
	ctx context.Context,
	actor *models.Actor,
	requestID, outcome string,
	decision map[string]any,
) (*models.WorkflowRequest, error) {
	return r.engine.ProcessStep(ctx, requestID, actor, models.Outcome(outcome), decision)
}

// Decide maps a decision action to an outcome label and processes it.
// approve and reject map to APPROVED and REJECTED; anything else is upper-cased.
func (r *Requests) Decide(ctx context.Context, actor *models.Actor, requestID, action, comment string) (*models.WorkflowRequest, error) {
	var decision map[string]any
	if comment != "" {
		decision = map[string]any{"comment": comment}
	}

	return r.Process(ctx, actor, requestID, string(OutcomeForAction(action)), decision)
}

func OutcomeForAction(action string) models.Outcome {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionApprove:
		return models.OutcomeApproved
	case ActionReject:
		return models.OutcomeRejected
	default:
		return models.Outcome(strings.ToUpper(strings.TrimSpace(action)))
	}
}

// Request returns the request with its step executions.
func (r *Requests) Request(ctx context.Context, id string) (*models.WorkflowRequest, error) {
	request, err := r.load(ctx, "Request", id)
	if err != nil {
		return nil, err
	}

	request.Executions, err = r.persistence.Executions().ByRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get step executions of request %s: %w", id, err)
	}

	return request, nil
}

// History returns the state history of a request in order.
func (r *Requests) History(ctx context.Context, id string) ([]*models.StateHistoryEntry, error) {
	if _, err := r.load(ctx, "History", id); err != nil {
		return nil, err
	}

	history, err := r.persistence.Requests().History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get history of request %s: %w", id, err)
	}

	return history, nil
}

// AuditTrail returns the audit entries attached to a request.
func (r *Requests) AuditTrail(ctx context.Context, id string) ([]*models.AuditLogEntry, error) {
	if _, err := r.load(ctx, "AuditTrail", id); err != nil {
		return nil, err
	}

	entries, err := r.persistence.AuditLogs().ByRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail of request %s: %w", id, err)
	}

	return entries, nil
}

func (r *Requests) load(ctx context.Context, op, id string) (*models.WorkflowRequest, error) {
	request, err := r.persistence.Requests().ByID(ctx, id)
	if err != nil {
		if persistence.IsRequestNotFound(err) {
			return nil, models.NewResourceNotFound(op, "workflow request", id, err)
		}

		return nil, fmt.Errorf("failed to get workflow request %s: %w", id, err)
	}

	return request, nil
}
