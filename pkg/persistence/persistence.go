// Package persistence provides the transactional storage abstraction for workflow templates, requests and their audit trail.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowgate/pkg/models"
)

// Store groups the repositories. Inside Transact every repository works on the same transaction.
type Store interface {
	Templates() TemplateRepository
	Requests() RequestRepository
	Executions() ExecutionRepository
	Escalations() EscalationRepository
	AuditLogs() AuditRepository
	Actors() ActorRepository
}

// Tx is a Store bound to one transaction.
type Tx interface {
	Store

	// Savepoint runs fn as a nested unit of work. When fn fails its writes are
	// discarded and the enclosing transaction remains usable.
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// Persistence is the storage entry point used by the engine, the SLA monitor and the services.
type Persistence interface {
	Store

	// Transact runs fn in a single transaction, committing when fn returns nil.
	// Returning ErrRollback discards the transaction without reporting an error.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TemplateRepository stores workflow templates together with their steps and transitions.
type TemplateRepository interface {
	Create(ctx context.Context, template *models.WorkflowTemplate) error
	ByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	List(ctx context.Context, limit, offset int) ([]*models.WorkflowTemplate, error)
	Delete(ctx context.Context, id string) error
	StepByID(ctx context.Context, id string) (*models.StepDefinition, error)
	// Transitions returns the transitions leaving fromStepID for outcome ordered by position.
	Transitions(ctx context.Context, fromStepID string, outcome models.Outcome) ([]*models.StepTransition, error)
}

// RequestRepository stores workflow requests and their state history.
type RequestRepository interface {
	Create(ctx context.Context, request *models.WorkflowRequest) error
	ByID(ctx context.Context, id string) (*models.WorkflowRequest, error)
	// LockByID loads the request and holds an exclusive lock on it until the transaction ends.
	LockByID(ctx context.Context, id string) (*models.WorkflowRequest, error)
	Update(ctx context.Context, request *models.WorkflowRequest) error
	CountByTemplate(ctx context.Context, templateID string) (int, error)
	AppendHistory(ctx context.Context, entry *models.StateHistoryEntry) error
	History(ctx context.Context, requestID string) ([]*models.StateHistoryEntry, error)
}

// ExecutionRepository stores step executions.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.StepExecution) error
	Update(ctx context.Context, execution *models.StepExecution) error
	// Open returns the execution of stepID in requestID that has not completed yet.
	Open(ctx context.Context, requestID, stepID string) (*models.StepExecution, error)
	ByRequest(ctx context.Context, requestID string) ([]*models.StepExecution, error)
	// Overdue returns open, unbreached executions whose deadline is strictly before now.
	Overdue(ctx context.Context, now time.Time) ([]*models.StepExecution, error)
}

// EscalationRepository stores SLA escalation records.
type EscalationRepository interface {
	Create(ctx context.Context, record *models.EscalationRecord) error
	ByExecution(ctx context.Context, executionID string) ([]*models.EscalationRecord, error)
}

// AuditRepository is append only.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	ByRequest(ctx context.Context, requestID string) ([]*models.AuditLogEntry, error)
}

// ActorRepository resolves actors with their roles and permissions.
type ActorRepository interface {
	ByID(ctx context.Context, id string) (*models.Actor, error)
	Save(ctx context.Context, actor *models.Actor) error
	// EmailsForRole returns the emails of active actors holding roleID.
	EmailsForRole(ctx context.Context, roleID string) ([]string, error)
}
