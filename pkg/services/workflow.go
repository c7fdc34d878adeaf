package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/condition"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/rbac"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// DefaultPageSize is the template page size used when no limit is given.
	DefaultPageSize = 20
	maxPageSize     = 100
)

// TemplateDefinition is the authoring input of a workflow template.
// Transitions reference steps by their order.
type TemplateDefinition struct {
	Name        string                 `json:"name"        validate:"required,min=1,max=255"`
	Description string                 `json:"description"`
	Steps       []StepDefinition       `json:"steps"       validate:"required,min=1,dive"`
	Transitions []TransitionDefinition `json:"transitions" validate:"dive"`
}

type StepDefinition struct {
	Order                int            `json:"step_order"             validate:"min=1"`
	Name                 string         `json:"name"                   validate:"required,min=1,max=100"`
	Description          string         `json:"description"`
	RequiredRoleID       *string        `json:"required_role_id"       validate:"omitempty,min=1"`
	RequiredPermissionID *string        `json:"required_permission_id" validate:"omitempty,min=1"`
	SLAHours             int            `json:"sla_hours"              validate:"min=0"`
	Condition            map[string]any `json:"condition_config"`
}

type TransitionDefinition struct {
	FromStepOrder int            `json:"from_step_order" validate:"min=1"`
	ToStepOrder   *int           `json:"to_step_order"   validate:"omitempty,min=1"`
	Outcome       string         `json:"outcome"         validate:"required,min=1,max=50"`
	Condition     map[string]any `json:"condition_config"`
}

type Workflow struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	recorder    *audit.Recorder
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, logger *slog.Logger) *Workflow {
	logger = logger.With("module", "workflow_service")

	return &Workflow{
		persistence: persistence,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		recorder:    audit.NewRecorder(logger),
		logger:      logger,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateTemplate validates def and stores it with its steps and transitions in one transaction.
func (w *Workflow) CreateTemplate(ctx context.Context, actor *models.Actor, def TemplateDefinition) (*models.WorkflowTemplate, error) {
	const op = "CreateTemplate"

	if err := rbac.RequireRole(actor, rbac.AdminRole); err != nil {
		return nil, err
	}

	template, err := w.buildTemplate(op, actor, def)
	if err != nil {
		return nil, err
	}

	err = w.persistence.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
		if err := tx.Templates().Create(ctx, template); err != nil {
			if persistence.IsTemplateAlreadyExists(err) {
				return &ServiceError{Op: op, Code: "TEMPLATE_NAME_TAKEN", Message: fmt.Sprintf("workflow template %q already exists", def.Name), Err: ErrTemplateNameTaken}
			}

			return fmt.Errorf("failed to create workflow template: %w", err)
		}

		_, err := w.recorder.LogAction(ctx, tx, audit.Action{
			ActorID:      &actor.ID,
			Action:       models.AuditWorkflowCreated,
			ResourceType: models.ResourceWorkflow,
			ResourceID:   template.ID,
			NewValue: map[string]any{
				"name":        template.Name,
				"steps":       len(template.Steps),
				"transitions": len(template.Transitions),
			},
		})

		return err
	})
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "Workflow template created", "template_id", template.ID, "name", template.Name, "actor_id", actor.ID)

	return template, nil
}

func (w *Workflow) buildTemplate(op string, actor *models.Actor, def TemplateDefinition) (*models.WorkflowTemplate, error) {
	if err := w.validator.Struct(def); err != nil {
		return nil, NewValidationError(op, "VALIDATION_ERROR", err.Error(), ErrInvalidRequest)
	}

	template := &models.WorkflowTemplate{
		ID:          newID(),
		Name:        strings.TrimSpace(def.Name),
		Description: def.Description,
		Active:      true,
		CreatedBy:   &actor.ID,
	}

	byOrder := make(map[int]*models.StepDefinition, len(def.Steps))

	for _, input := range def.Steps {
		if _, dup := byOrder[input.Order]; dup {
			return nil, NewValidationError(op, "DUPLICATE_STEP_ORDER",
				fmt.Sprintf("step order %d is used more than once", input.Order), ErrInvalidStepOrder)
		}

		cond, err := condition.Parse(input.Condition)
		if err != nil {
			return nil, NewValidationError(op, "INVALID_CONDITION",
				fmt.Sprintf("step %q: %v", input.Name, err), ErrInvalidCondition)
		}

		slaHours := input.SLAHours
		if slaHours == 0 {
			slaHours = models.DefaultSLAHours
		}

		step := &models.StepDefinition{
			ID:                   newID(),
			TemplateID:           template.ID,
			Order:                input.Order,
			Name:                 input.Name,
			Description:          input.Description,
			RequiredRoleID:       input.RequiredRoleID,
			RequiredPermissionID: input.RequiredPermissionID,
			SLAHours:             slaHours,
			Condition:            cond,
		}

		byOrder[input.Order] = step
		template.Steps = append(template.Steps, step)
	}

	if template.EntryStep() == nil {
		return nil, NewValidationError(op, "MISSING_ENTRY_STEP",
			fmt.Sprintf("a step with order %d is required", models.EntryStepOrder), ErrInvalidStepOrder)
	}

	for i, input := range def.Transitions {
		from, ok := byOrder[input.FromStepOrder]
		if !ok {
			w.logger.Warn("Skipping transition from unknown step order", "from_step_order", input.FromStepOrder)

			continue
		}

		outcome := models.Outcome(input.Outcome)

		cond, err := condition.Parse(input.Condition)
		if err != nil {
			return nil, NewValidationError(op, "INVALID_CONDITION",
				fmt.Sprintf("transition %d: %v", i, err), ErrInvalidCondition)
		}

		transition := &models.StepTransition{
			ID:         newID(),
			FromStepID: from.ID,
			Outcome:    outcome,
			Condition:  cond,
		}

		if input.ToStepOrder != nil {
			to, ok := byOrder[*input.ToStepOrder]
			if !ok {
				return nil, NewValidationError(op, "UNKNOWN_STEP_ORDER",
					fmt.Sprintf("transition %d targets unknown step order %d", i, *input.ToStepOrder), ErrInvalidStepOrder)
			}

			transition.ToStepID = &to.ID
		}

		template.Transitions = append(template.Transitions, transition)
	}

	if err := checkFallbacks(op, template.Transitions); err != nil {
		return nil, err
	}

	return template, nil
}

// checkFallbacks rejects sibling transitions (same step and outcome) that cannot all be reached:
// at most one of them may be unconditioned and it must come last.
func checkFallbacks(op string, transitions []*models.StepTransition) error {
	type group struct {
		stepID  string
		outcome models.Outcome
	}

	fallback := make(map[group]int)

	for i, transition := range transitions {
		key := group{stepID: transition.FromStepID, outcome: transition.Outcome}

		if first, ok := fallback[key]; ok {
			return NewValidationError(op, "AMBIGUOUS_TRANSITION",
				fmt.Sprintf("transition %d is unreachable, transition %d already matches outcome %s unconditionally",
					i, first, transition.Outcome), ErrInvalidStepOrder)
		}

		if transition.Condition.Empty() {
			fallback[key] = i
		}
	}

	return nil
}

// Template returns one template with its steps and transitions.
func (w *Workflow) Template(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	template, err := w.persistence.Templates().ByID(ctx, id)
	if err != nil {
		if persistence.IsTemplateNotFound(err) {
			return nil, models.NewResourceNotFound("Template", "workflow template", id, err)
		}

		return nil, fmt.Errorf("failed to get workflow template %s: %w", id, err)
	}

	return template, nil
}

// Templates lists templates newest first. A zero limit selects the default page size.
func (w *Workflow) Templates(ctx context.Context, limit, offset int) ([]*models.WorkflowTemplate, error) {
	if limit == 0 {
		limit = DefaultPageSize
	}

	if limit < 0 || limit > maxPageSize || offset < 0 {
		return nil, NewValidationError("Templates", "INVALID_PAGINATION",
			fmt.Sprintf("limit must be between 1 and %d and offset must not be negative", maxPageSize), ErrInvalidPagination)
	}

	templates, err := w.persistence.Templates().List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow templates: %w", err)
	}

	return templates, nil
}

// DeleteTemplate removes a template that has never been instantiated.
func (w *Workflow) DeleteTemplate(ctx context.Context, actor *models.Actor, id string) error {
	const op = "DeleteTemplate"

	if err := rbac.RequireRole(actor, rbac.AdminRole); err != nil {
		return err
	}

	err := w.persistence.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
		template, err := tx.Templates().ByID(ctx, id)
		if err != nil {
			if persistence.IsTemplateNotFound(err) {
				return models.NewResourceNotFound(op, "workflow template", id, err)
			}

			return fmt.Errorf("failed to get workflow template %s: %w", id, err)
		}

		count, err := tx.Requests().CountByTemplate(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to count requests of template %s: %w", id, err)
		}

		if count > 0 {
			return models.NewWorkflowEngineError(op,
				fmt.Sprintf("workflow template %s has %d requests and cannot be deleted", id, count), nil)
		}

		if err := tx.Templates().Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete workflow template %s: %w", id, err)
		}

		_, err = w.recorder.LogAction(ctx, tx, audit.Action{
			ActorID:      &actor.ID,
			Action:       models.AuditWorkflowDeleted,
			ResourceType: models.ResourceWorkflow,
			ResourceID:   id,
			OldValue:     map[string]any{"name": template.Name},
		})

		return err
	})
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Workflow template deleted", "template_id", id, "actor_id", actor.ID)

	return nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
