package models

import "time"

// RequestStatus is the lifecycle status of a WorkflowRequest.
type RequestStatus string

const (
	RequestStatusCreated    RequestStatus = "CREATED"
	RequestStatusInProgress RequestStatus = "IN_PROGRESS"
	RequestStatusApproved   RequestStatus = "APPROVED"
	RequestStatusRejected   RequestStatus = "REJECTED"
	RequestStatusEscalated  RequestStatus = "ESCALATED"
	RequestStatusCompleted  RequestStatus = "COMPLETED"
)

// RequestStatuses lists every request status in lifecycle order.
var RequestStatuses = []RequestStatus{
	RequestStatusCreated,
	RequestStatusInProgress,
	RequestStatusApproved,
	RequestStatusRejected,
	RequestStatusEscalated,
	RequestStatusCompleted,
}

// StepStatus is the status of an open StepExecution. Once an execution is
// closed its status holds the actor's outcome label instead.
type StepStatus string

const (
	StepStatusPending    StepStatus = "PENDING"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusApproved   StepStatus = "APPROVED"
	StepStatusRejected   StepStatus = "REJECTED"
	StepStatusSkipped    StepStatus = "SKIPPED"
)

// OpenStepStatuses are the statuses an execution can have while it is awaiting a decision.
var OpenStepStatuses = []StepStatus{StepStatusPending, StepStatusInProgress}

// WorkflowRequest is one live instance of a WorkflowTemplate.
type WorkflowRequest struct {
	ID            string           `json:"id"`
	TemplateID    string           `json:"workflow_id"`
	RequesterID   string           `json:"requester_id"`
	Status        RequestStatus    `json:"current_status"`
	CurrentStepID *string          `json:"current_step_id,omitempty"`
	Payload       map[string]any   `json:"request_data"`
	Executions    []*StepExecution `json:"step_executions,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// StepExecution is one attempt at a StepDefinition within a WorkflowRequest.
type StepExecution struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	StepID    string `json:"step_id"`
	// Status holds a StepStatus while open and the literal outcome label once completed.
	Status       string         `json:"status"`
	AssigneeID   *string        `json:"assignee_id,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Deadline     time.Time      `json:"sla_deadline"`
	Breached     bool           `json:"is_sla_breached"`
	DecisionData map[string]any `json:"decision_data,omitempty"`
	Comment      string         `json:"comments,omitempty"`
}

// Open reports whether the execution is still awaiting a decision.
func (e *StepExecution) Open() bool {
	return e.CompletedAt == nil
}

// Overdue reports whether the execution is open, unbreached and past its deadline at now.
func (e *StepExecution) Overdue(now time.Time) bool {
	if !e.Open() || e.Breached {
		return false
	}

	status := StepStatus(e.Status)
	if status != StepStatusPending && status != StepStatusInProgress {
		return false
	}

	return e.Deadline.Before(now)
}

// StateHistoryEntry records one request-level status transition.
type StateHistoryEntry struct {
	ID         string         `json:"id"`
	RequestID  string         `json:"request_id"`
	FromStatus *RequestStatus `json:"from_status,omitempty"`
	ToStatus   RequestStatus  `json:"to_status"`
	ActorID    *string        `json:"changed_by,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EscalationRecord is created when a StepExecution breaches its SLA.
type EscalationRecord struct {
	ID              string     `json:"id"`
	ExecutionID     string     `json:"step_execution_id"`
	Level           int        `json:"escalation_level"`
	EscalatedAt     time.Time  `json:"escalated_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}
