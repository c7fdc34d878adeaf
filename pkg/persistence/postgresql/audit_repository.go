package postgresql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence/sqlbase"
)

// AuditRepository appends audit log entries. Entries are never updated or deleted.
type AuditRepository struct {
	db     sqlbase.Queryer
	logger *slog.Logger
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db sqlbase.Queryer, logger *slog.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// Append inserts an audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	oldJSON, err := marshalMap(entry.OldValue)
	if err != nil {
		return err
	}

	newJSON, err := marshalMap(entry.NewValue)
	if err != nil {
		return err
	}

	metadataJSON, err := marshalMap(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, request_id,
			old_value, new_value, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID,
		entry.ActorID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.RequestID,
		oldJSON,
		newJSON,
		metadataJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// ByRequest returns a request's audit trail in chronological order.
func (r *AuditRepository) ByRequest(ctx context.Context, requestID string) ([]*models.AuditLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action, resource_type, resource_id, request_id,
			old_value, new_value, metadata, created_at
		FROM audit_logs
		WHERE request_id = $1
		ORDER BY created_at, id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.AuditLogEntry, 0)

	for rows.Next() {
		var (
			entry                      models.AuditLogEntry
			oldJSON, newJSON, metaJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.ActorID,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&entry.RequestID,
			&oldJSON,
			&newJSON,
			&metaJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if entry.OldValue, err = unmarshalMap(oldJSON); err != nil {
			return nil, err
		}

		if entry.NewValue, err = unmarshalMap(newJSON); err != nil {
			return nil, err
		}

		if entry.Metadata, err = unmarshalMap(metaJSON); err != nil {
			return nil, err
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return entries, nil
}

// EscalationRepository handles escalation record database operations.
type EscalationRepository struct {
	db     sqlbase.Queryer
	logger *slog.Logger
}

// NewEscalationRepository creates a new escalation repository.
func NewEscalationRepository(db sqlbase.Queryer, logger *slog.Logger) *EscalationRepository {
	return &EscalationRepository{db: db, logger: logger}
}

// Create inserts an escalation record.
func (r *EscalationRepository) Create(ctx context.Context, record *models.EscalationRecord) error {
	if record.ID == "" {
		record.ID = newID()
	}

	if record.Level == 0 {
		record.Level = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO escalations (id, request_step_id, escalation_level, escalated_at, resolved_at, resolution_notes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		record.ID,
		record.ExecutionID,
		record.Level,
		record.EscalatedAt,
		record.ResolvedAt,
		record.ResolutionNotes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert escalation: %w", err)
	}

	return nil
}

// ByExecution returns the escalations of one step execution by level.
func (r *EscalationRepository) ByExecution(ctx context.Context, executionID string) ([]*models.EscalationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_step_id, escalation_level, escalated_at, resolved_at, COALESCE(resolution_notes, '')
		FROM escalations
		WHERE request_step_id = $1
		ORDER BY escalation_level, escalated_at
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalations: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.EscalationRecord, 0)

	for rows.Next() {
		var record models.EscalationRecord

		err := rows.Scan(
			&record.ID,
			&record.ExecutionID,
			&record.Level,
			&record.EscalatedAt,
			&record.ResolvedAt,
			&record.ResolutionNotes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}

		records = append(records, &record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating escalations: %w", err)
	}

	return records, nil
}
