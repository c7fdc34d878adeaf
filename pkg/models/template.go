// Package models defines the core domain models for approval workflow orchestration
package models

import "time"

// EntryStepOrder is the order of the step every request starts at.
const EntryStepOrder = 1

// DefaultSLAHours is applied to steps authored without an explicit SLA.
const DefaultSLAHours = 24

// WorkflowTemplate is the reusable definition of a workflow's steps and transitions.
// It is immutable once published; it is only ever deleted as a whole.
type WorkflowTemplate struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"                  validate:"required,min=1,max=255"`
	Description string            `json:"description,omitempty"`
	Active      bool              `json:"is_active"`
	CreatedBy   *string           `json:"created_by,omitempty"`
	Steps       []*StepDefinition `json:"steps"`
	Transitions []*StepTransition `json:"transitions"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// EntryStep returns the step with order 1, or nil when the template has none.
func (t *WorkflowTemplate) EntryStep() *StepDefinition {
	return t.StepByOrder(EntryStepOrder)
}

// StepByOrder returns the step with the given order, or nil.
func (t *WorkflowTemplate) StepByOrder(order int) *StepDefinition {
	for _, step := range t.Steps {
		if step.Order == order {
			return step
		}
	}

	return nil
}

// StepByID returns the step with the given id, or nil.
func (t *WorkflowTemplate) StepByID(id string) *StepDefinition {
	for _, step := range t.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// StepDefinition is one step of a WorkflowTemplate.
type StepDefinition struct {
	ID                   string     `json:"id"`
	TemplateID           string     `json:"workflow_id"`
	Order                int        `json:"step_order"                       validate:"min=1"`
	Name                 string     `json:"name"                             validate:"required,min=1,max=100"`
	Description          string     `json:"description,omitempty"`
	RequiredRoleID       *string    `json:"required_role_id,omitempty"`
	RequiredPermissionID *string    `json:"required_permission_id,omitempty"`
	SLAHours             int        `json:"sla_hours"                        validate:"min=1"`
	Condition            *Condition `json:"condition_config,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Deadline computes the SLA deadline of an execution of this step started at startedAt.
func (s *StepDefinition) Deadline(startedAt time.Time) time.Time {
	return startedAt.Add(time.Duration(s.SLAHours) * time.Hour)
}

// StepTransition is a directed edge keyed by (from step, outcome label).
// A nil ToStepID finalizes the request with the outcome.
type StepTransition struct {
	ID         string     `json:"id"`
	FromStepID string     `json:"from_step_id"`
	ToStepID   *string    `json:"to_step_id,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	Condition  *Condition `json:"condition_config,omitempty"`
	// Position preserves authoring order; siblings are evaluated by ascending position.
	Position int `json:"position"`
}

// Terminal reports whether following this transition finalizes the request.
func (t *StepTransition) Terminal() bool {
	return t.ToStepID == nil
}
