// Package audit records immutable audit log entries inside the caller's transaction.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// Action describes one auditable action. ActorID is nil for system actions.
type Action struct {
	ActorID      *string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    *string
	OldValue     map[string]any
	NewValue     map[string]any
	Metadata     map[string]any
}

// Recorder appends audit entries. A failed write is returned to the caller,
// which must abort its transaction.
type Recorder struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		logger: logger.With("module", "audit"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock returns a copy of the recorder stamping entries with now.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	return &Recorder{logger: r.logger, now: now}
}

// LogAction writes one entry through store, normally the Tx of the enclosing operation.
func (r *Recorder) LogAction(ctx context.Context, store persistence.Store, action Action) (*models.AuditLogEntry, error) {
	entry := &models.AuditLogEntry{
		ActorID:      action.ActorID,
		Action:       action.Action,
		ResourceType: action.ResourceType,
		ResourceID:   action.ResourceID,
		RequestID:    action.RequestID,
		OldValue:     action.OldValue,
		NewValue:     action.NewValue,
		Metadata:     action.Metadata,
		CreatedAt:    r.now(),
	}

	err := store.AuditLogs().Append(ctx, entry)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to create audit log",
			"action", action.Action,
			"resource_type", action.ResourceType,
			"resource_id", action.ResourceID,
			"error", err)

		return nil, fmt.Errorf("failed to record %s audit entry: %w", action.Action, err)
	}

	r.logger.DebugContext(ctx, "Audit entry recorded", "action", entry.Action, "resource_id", entry.ResourceID)

	return entry, nil
}
