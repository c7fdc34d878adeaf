package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrTemplateNotFound indicates a workflow template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("workflow template not found")

	// ErrTemplateAlreadyExists indicates a template with the same name already exists.
	ErrTemplateAlreadyExists = errors.New("workflow template already exists")

	// ErrStepNotFound indicates a step definition was not found.
	ErrStepNotFound = errors.New("step definition not found")

	// ErrRequestNotFound indicates a workflow request was not found.
	ErrRequestNotFound = errors.New("workflow request not found")

	// ErrExecutionNotFound indicates no matching step execution exists.
	ErrExecutionNotFound = errors.New("step execution not found")

	// ErrActorNotFound indicates an actor was not found.
	ErrActorNotFound = errors.New("actor not found")

	// ErrRollback is returned from a Transact callback to discard the transaction silently.
	ErrRollback = errors.New("rollback transaction")
)

// EntityError wraps repository errors with the operation and the entity involved.
type EntityError struct {
	Op       string // Operation being performed (e.g., "ByID", "Create", "Delete")
	Entity   string // Entity kind (e.g., "template", "request")
	EntityID string // Entity ID if applicable
	Err      error  // Underlying error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.EntityID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, entity, id string, err error) *EntityError {
	return &EntityError{
		Op:       op,
		Entity:   entity,
		EntityID: id,
		Err:      err,
	}
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrActorNotFound)
}

// IsTemplateNotFound checks if an error indicates a template was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsRequestNotFound checks if an error indicates a request was not found.
func IsRequestNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound)
}

// IsTemplateAlreadyExists checks if an error indicates a duplicate template name.
func IsTemplateAlreadyExists(err error) bool {
	return errors.Is(err, ErrTemplateAlreadyExists)
}
