package models

import "time"

// Audit action labels.
const (
	AuditWorkflowCreated   = "WORKFLOW_CREATED"
	AuditWorkflowDeleted   = "WORKFLOW_DELETED"
	AuditWorkflowStarted   = "WORKFLOW_STARTED"
	AuditStepCompleted     = "STEP_COMPLETED"
	AuditWorkflowCompleted = "WORKFLOW_COMPLETED"
	AuditSLABreachDetected = "SLA_BREACH_DETECTED"
)

// Audit resource types.
const (
	ResourceWorkflow        = "workflow"
	ResourceWorkflowRequest = "workflow_request"
	ResourceRequestStep     = "request_step"
)

// AuditLogEntry is an immutable record of an action. ActorID is nil for system actions.
type AuditLogEntry struct {
	ID           string         `json:"id"`
	ActorID      *string        `json:"user_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	RequestID    *string        `json:"request_id,omitempty"`
	OldValue     map[string]any `json:"old_value,omitempty"`
	NewValue     map[string]any `json:"new_value,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
