package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/persistence/sqlbase"
	"github.com/google/uuid"
)

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// TemplateRepository handles workflow template database operations.
type TemplateRepository struct {
	db     sqlbase.Queryer
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db sqlbase.Queryer, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

// Create inserts a template with its steps and transitions. Missing ids are generated.
func (r *TemplateRepository) Create(ctx context.Context, template *models.WorkflowTemplate) error {
	now := time.Now().UTC()

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	if template.ID == "" {
		template.ID = newID()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		template.ID,
		template.Name,
		template.Description,
		template.Active,
		template.CreatedBy,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewEntityError("Create", "template", template.Name, persistence.ErrTemplateAlreadyExists)
		}

		return fmt.Errorf("failed to insert workflow template: %w", err)
	}

	for _, step := range template.Steps {
		err = r.insertStep(ctx, template, step)
		if err != nil {
			return err
		}
	}

	for position, transition := range template.Transitions {
		transition.Position = position

		err = r.insertTransition(ctx, transition)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *TemplateRepository) insertStep(ctx context.Context, template *models.WorkflowTemplate, step *models.StepDefinition) error {
	if step.ID == "" {
		step.ID = newID()
	}

	step.TemplateID = template.ID

	if step.CreatedAt.IsZero() {
		step.CreatedAt = template.CreatedAt
	}

	conditionJSON, err := marshalCondition(step.Condition)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (id, workflow_id, step_order, name, description,
			required_role_id, required_permission_id, sla_hours, condition_config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		step.ID,
		step.TemplateID,
		step.Order,
		step.Name,
		step.Description,
		step.RequiredRoleID,
		step.RequiredPermissionID,
		step.SLAHours,
		conditionJSON,
		step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step %d: %w", step.Order, err)
	}

	return nil
}

func (r *TemplateRepository) insertTransition(ctx context.Context, transition *models.StepTransition) error {
	if transition.ID == "" {
		transition.ID = newID()
	}

	conditionJSON, err := marshalCondition(transition.Condition)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO step_transitions (id, from_step_id, to_step_id, outcome, condition_config, position)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		transition.ID,
		transition.FromStepID,
		transition.ToStepID,
		transition.Outcome,
		conditionJSON,
		transition.Position,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition %s: %w", transition.ID, err)
	}

	return nil
}

// ByID returns the template with its steps ordered by step order and its transitions by position.
func (r *TemplateRepository) ByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), is_active, created_by, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`, id)

	template, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "template", id, persistence.ErrTemplateNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow template: %w", err)
	}

	err = r.loadStepsAndTransitions(ctx, template)
	if err != nil {
		return nil, err
	}

	return template, nil
}

// List returns templates, newest first.
func (r *TemplateRepository) List(ctx context.Context, limit, offset int) ([]*models.WorkflowTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), is_active, created_by, created_at, updated_at
		FROM workflows
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow templates: %w", err)
	}

	defer r.closeRows(ctx, rows)

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow template: %w", err)
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow templates: %w", err)
	}

	for _, template := range templates {
		err = r.loadStepsAndTransitions(ctx, template)
		if err != nil {
			return nil, err
		}
	}

	return templates, nil
}

// Delete removes the template; steps and transitions cascade.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Delete", "template", id, persistence.ErrTemplateNotFound)
	}

	return nil
}

// StepByID returns a single step definition.
func (r *TemplateRepository) StepByID(ctx context.Context, id string) (*models.StepDefinition, error) {
	row := r.db.QueryRowContext(ctx, stepColumns+" WHERE id = $1", id)

	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("StepByID", "step", id, persistence.ErrStepNotFound)
		}

		return nil, fmt.Errorf("failed to scan step: %w", err)
	}

	return step, nil
}

// Transitions returns the transitions leaving fromStepID for outcome, in authoring order.
func (r *TemplateRepository) Transitions(ctx context.Context, fromStepID string, outcome models.Outcome) ([]*models.StepTransition, error) {
	rows, err := r.db.QueryContext(ctx, transitionColumns+`
		WHERE from_step_id = $1 AND outcome = $2
		ORDER BY position
	`, fromStepID, outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	return scanTransitions(rows)
}

func (r *TemplateRepository) loadStepsAndTransitions(ctx context.Context, template *models.WorkflowTemplate) error {
	rows, err := r.db.QueryContext(ctx, stepColumns+" WHERE workflow_id = $1 ORDER BY step_order", template.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps: %w", err)
	}

	defer r.closeRows(ctx, rows)

	template.Steps = make([]*models.StepDefinition, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		template.Steps = append(template.Steps, step)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	transitionRows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.from_step_id, t.to_step_id, t.outcome, t.condition_config, t.position
		FROM step_transitions t
		JOIN workflow_steps s ON s.id = t.from_step_id
		WHERE s.workflow_id = $1
		ORDER BY t.position
	`, template.ID)
	if err != nil {
		return fmt.Errorf("failed to query transitions: %w", err)
	}

	defer r.closeRows(ctx, transitionRows)

	template.Transitions, err = scanTransitions(transitionRows)

	return err
}

func (r *TemplateRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

const stepColumns = `
	SELECT id, workflow_id, step_order, name, COALESCE(description, ''),
		required_role_id, required_permission_id, sla_hours, condition_config, created_at
	FROM workflow_steps`

const transitionColumns = `
	SELECT id, from_step_id, to_step_id, outcome, condition_config, position
	FROM step_transitions`

func scanTemplate(row scanner) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate

	err := row.Scan(
		&template.ID,
		&template.Name,
		&template.Description,
		&template.Active,
		&template.CreatedBy,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &template, nil
}

func scanStep(row scanner) (*models.StepDefinition, error) {
	var (
		step          models.StepDefinition
		conditionJSON []byte
	)

	err := row.Scan(
		&step.ID,
		&step.TemplateID,
		&step.Order,
		&step.Name,
		&step.Description,
		&step.RequiredRoleID,
		&step.RequiredPermissionID,
		&step.SLAHours,
		&conditionJSON,
		&step.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.Condition, err = unmarshalCondition(conditionJSON)
	if err != nil {
		return nil, err
	}

	return &step, nil
}

func scanTransitions(rows *sql.Rows) ([]*models.StepTransition, error) {
	transitions := make([]*models.StepTransition, 0)

	for rows.Next() {
		var (
			transition    models.StepTransition
			conditionJSON []byte
		)

		err := rows.Scan(
			&transition.ID,
			&transition.FromStepID,
			&transition.ToStepID,
			&transition.Outcome,
			&conditionJSON,
			&transition.Position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		transition.Condition, err = unmarshalCondition(conditionJSON)
		if err != nil {
			return nil, err
		}

		transitions = append(transitions, &transition)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return transitions, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
