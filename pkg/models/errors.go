package models

import (
	"errors"
	"fmt"
	"strings"
)

// Domain error kinds. They propagate unmodified to the transport boundary.
var (
	// ErrInvalidStateTransition indicates a status change outside the lifecycle table.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrPermissionDenied indicates an actor failed an authorization check.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrResourceNotFound indicates a referenced entity does not exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrWorkflowEngine indicates a structural defect in a template or request.
	ErrWorkflowEngine = errors.New("workflow engine error")

	// ErrConditionEvaluation is reserved for a strict evaluation mode; the evaluator fails closed instead.
	ErrConditionEvaluation = errors.New("condition evaluation error")
)

// Machine readable error codes.
const (
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodePermissionDenied       = "PERMISSION_DENIED"
	CodeResourceNotFound       = "RESOURCE_NOT_FOUND"
	CodeWorkflowEngine         = "WORKFLOW_ENGINE_ERROR"
	CodeConditionEvaluation    = "CONDITION_EVALUATION_ERROR"
	CodeInternal               = "INTERNAL_ERROR"
)

// DomainError wraps a domain error kind with the failing operation and details.
type DomainError struct {
	Op      string // Operation being performed (e.g., "StartWorkflow", "Authorize")
	Kind    error  // One of the Err* kinds above
	Message string // Human readable detail, safe to expose to clients
	Err     error  // Underlying error, if any
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches both the kind and the wrapped error.
func (e *DomainError) Is(target error) bool {
	return e.Kind == target
}

// NewInvalidStateTransition reports a rejected status change.
func NewInvalidStateTransition(op string, from, to RequestStatus) *DomainError {
	return &DomainError{
		Op:      op,
		Kind:    ErrInvalidStateTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

// NewPermissionDenied reports every missing requirement at once.
func NewPermissionDenied(op string, missing ...string) *DomainError {
	return &DomainError{
		Op:      op,
		Kind:    ErrPermissionDenied,
		Message: "missing " + strings.Join(missing, ", "),
	}
}

// NewResourceNotFound reports a missing entity.
func NewResourceNotFound(op, resource, id string, err error) *DomainError {
	return &DomainError{
		Op:      op,
		Kind:    ErrResourceNotFound,
		Message: fmt.Sprintf("%s %s not found", resource, id),
		Err:     err,
	}
}

// NewWorkflowEngineError reports a structural defect.
func NewWorkflowEngineError(op, message string, err error) *DomainError {
	return &DomainError{
		Op:      op,
		Kind:    ErrWorkflowEngine,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the machine readable code for err, or CodeInternal.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidStateTransition):
		return CodeInvalidStateTransition
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrResourceNotFound):
		return CodeResourceNotFound
	case errors.Is(err, ErrWorkflowEngine):
		return CodeWorkflowEngine
	case errors.Is(err, ErrConditionEvaluation):
		return CodeConditionEvaluation
	default:
		return CodeInternal
	}
}

// Detail returns the client safe message of a domain error.
func Detail(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}

	return ""
}
