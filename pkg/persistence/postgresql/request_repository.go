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

// RequestRepository handles workflow request database operations.
type RequestRepository struct {
	db     sqlbase.Queryer
	logger *slog.Logger
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(db sqlbase.Queryer, logger *slog.Logger) *RequestRepository {
	return &RequestRepository{db: db, logger: logger}
}

const requestColumns = `
	SELECT id, workflow_id, requester_id, current_status, current_step_id,
		request_data, created_at, updated_at, completed_at
	FROM workflow_requests`

// Create inserts a new request.
func (r *RequestRepository) Create(ctx context.Context, request *models.WorkflowRequest) error {
	now := time.Now().UTC()

	if request.ID == "" {
		request.ID = newID()
	}

	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}

	if request.UpdatedAt.IsZero() {
		request.UpdatedAt = request.CreatedAt
	}

	if request.Payload == nil {
		request.Payload = map[string]any{}
	}

	payloadJSON, err := marshalMap(request.Payload)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_requests (id, workflow_id, requester_id, current_status, current_step_id,
			request_data, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		request.ID,
		request.TemplateID,
		request.RequesterID,
		request.Status,
		request.CurrentStepID,
		payloadJSON,
		request.CreatedAt,
		request.UpdatedAt,
		request.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow request: %w", err)
	}

	return nil
}

// ByID returns a request without locking it.
func (r *RequestRepository) ByID(ctx context.Context, id string) (*models.WorkflowRequest, error) {
	return r.get(ctx, "ByID", requestColumns+" WHERE id = $1", id)
}

// LockByID returns a request and locks its row until the enclosing transaction ends.
func (r *RequestRepository) LockByID(ctx context.Context, id string) (*models.WorkflowRequest, error) {
	return r.get(ctx, "LockByID", requestColumns+" WHERE id = $1 FOR UPDATE", id)
}

func (r *RequestRepository) get(ctx context.Context, op, query, id string) (*models.WorkflowRequest, error) {
	var (
		request     models.WorkflowRequest
		payloadJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&request.ID,
		&request.TemplateID,
		&request.RequesterID,
		&request.Status,
		&request.CurrentStepID,
		&payloadJSON,
		&request.CreatedAt,
		&request.UpdatedAt,
		&request.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError(op, "request", id, persistence.ErrRequestNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow request: %w", err)
	}

	request.Payload, err = unmarshalMap(payloadJSON)
	if err != nil {
		return nil, err
	}

	return &request, nil
}

// Update persists the mutable request fields.
func (r *RequestRepository) Update(ctx context.Context, request *models.WorkflowRequest) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_requests
		SET current_status = $2, current_step_id = $3, updated_at = $4, completed_at = $5
		WHERE id = $1
	`,
		request.ID,
		request.Status,
		request.CurrentStepID,
		request.UpdatedAt,
		request.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Update", "request", request.ID, persistence.ErrRequestNotFound)
	}

	return nil
}

// CountByTemplate counts the requests ever started from templateID.
func (r *RequestRepository) CountByTemplate(ctx context.Context, templateID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_requests WHERE workflow_id = $1", templateID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflow requests: %w", err)
	}

	return count, nil
}

// AppendHistory records a status transition.
func (r *RequestRepository) AppendHistory(ctx context.Context, entry *models.StateHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO request_state_history (id, request_id, from_status, to_status, changed_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		entry.ID,
		entry.RequestID,
		entry.FromStatus,
		entry.ToStatus,
		entry.ActorID,
		entry.Reason,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert state history: %w", err)
	}

	return nil
}

// History returns the request's transitions in the order they happened.
func (r *RequestRepository) History(ctx context.Context, requestID string) ([]*models.StateHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, from_status, to_status, changed_by, COALESCE(reason, ''), created_at
		FROM request_state_history
		WHERE request_id = $1
		ORDER BY created_at, id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query state history: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.StateHistoryEntry, 0)

	for rows.Next() {
		var entry models.StateHistoryEntry

		err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.FromStatus,
			&entry.ToStatus,
			&entry.ActorID,
			&entry.Reason,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state history: %w", err)
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating state history: %w", err)
	}

	return entries, nil
}
