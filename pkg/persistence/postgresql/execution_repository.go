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
)

// ExecutionRepository handles step execution database operations.
type ExecutionRepository struct {
	db     sqlbase.Queryer
	logger *slog.Logger
}

// NewExecutionRepository creates a new step execution repository.
func NewExecutionRepository(db sqlbase.Queryer, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	SELECT id, request_id, step_id, status, assigned_to, started_at, completed_at,
		sla_deadline, is_sla_breached, decision_data, COALESCE(comments, '')
	FROM request_steps`

// Create inserts a new step execution.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.StepExecution) error {
	if execution.ID == "" {
		execution.ID = newID()
	}

	decisionJSON, err := marshalMap(execution.DecisionData)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO request_steps (id, request_id, step_id, status, assigned_to, started_at, completed_at,
			sla_deadline, is_sla_breached, decision_data, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		execution.ID,
		execution.RequestID,
		execution.StepID,
		execution.Status,
		execution.AssigneeID,
		execution.StartedAt,
		execution.CompletedAt,
		execution.Deadline,
		execution.Breached,
		decisionJSON,
		execution.Comment,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step execution: %w", err)
	}

	return nil
}

// Update persists the mutable execution fields. A breached execution stays breached.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.StepExecution) error {
	decisionJSON, err := marshalMap(execution.DecisionData)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE request_steps
		SET status = $2, assigned_to = $3, completed_at = $4, is_sla_breached = is_sla_breached OR $5,
			decision_data = $6, comments = $7
		WHERE id = $1
	`,
		execution.ID,
		execution.Status,
		execution.AssigneeID,
		execution.CompletedAt,
		execution.Breached,
		decisionJSON,
		execution.Comment,
	)
	if err != nil {
		return fmt.Errorf("failed to update step execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Update", "step execution", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// Open returns the uncompleted execution of stepID within requestID and locks it,
// so a concurrent breach sweep skips the row until the caller commits.
func (r *ExecutionRepository) Open(ctx context.Context, requestID, stepID string) (*models.StepExecution, error) {
	row := r.db.QueryRowContext(ctx, executionColumns+`
		WHERE request_id = $1 AND step_id = $2 AND completed_at IS NULL
		LIMIT 1
		FOR UPDATE
	`, requestID, stepID)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("Open", "step execution", requestID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan step execution: %w", err)
	}

	return execution, nil
}

// ByRequest returns every execution of a request, oldest first.
func (r *ExecutionRepository) ByRequest(ctx context.Context, requestID string) ([]*models.StepExecution, error) {
	return r.list(ctx, executionColumns+" WHERE request_id = $1 ORDER BY started_at, id", requestID)
}

// Overdue returns the open executions past their deadline that were not flagged yet.
// Rows locked by a concurrent sweep are skipped.
func (r *ExecutionRepository) Overdue(ctx context.Context, now time.Time) ([]*models.StepExecution, error) {
	return r.list(ctx, executionColumns+`
		WHERE completed_at IS NULL
		  AND is_sla_breached = false
		  AND status IN ('PENDING', 'IN_PROGRESS')
		  AND sla_deadline < $1
		ORDER BY sla_deadline
		FOR UPDATE SKIP LOCKED
	`, now)
}

func (r *ExecutionRepository) list(ctx context.Context, query string, args ...any) ([]*models.StepExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.StepExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row scanner) (*models.StepExecution, error) {
	var (
		execution    models.StepExecution
		decisionJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.RequestID,
		&execution.StepID,
		&execution.Status,
		&execution.AssigneeID,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.Deadline,
		&execution.Breached,
		&decisionJSON,
		&execution.Comment,
	)
	if err != nil {
		return nil, err
	}

	execution.DecisionData, err = unmarshalMap(decisionJSON)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}
