// Package events defines the asynchronous notification events exchanged between
// the orchestration services and the notifier.
package events

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

type EventType string

// Topic carries every notification event.
const Topic = "flowgate.notifications"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	AssignmentNoticeEvent EventType = "notification.assignment"
	BreachNoticeEvent     EventType = "notification.sla_breach"
)

// ErrInvalidEventData is returned when an event is missing required data.
var ErrInvalidEventData = errors.New("invalid event data")

var validate = validator.New(validator.WithRequiredStructEnabled())

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id" validate:"required"`
}

// AssignmentNotice asks the notifier to tell the eligible assignees of a step
// that work is waiting for them.
type AssignmentNotice struct {
	BaseEvent

	StepID       string    `json:"step_id"       validate:"required"`
	WorkflowName string    `json:"workflow_name" validate:"required"`
	StepName     string    `json:"step_name"     validate:"required"`
	Deadline     time.Time `json:"deadline"`
}

func (AssignmentNotice) GetType() EventType {
	return AssignmentNoticeEvent
}

func (e *AssignmentNotice) Validate() error {
	return validateEvent(e)
}

// BreachNotice asks the notifier to alert a distribution list about an overdue step.
type BreachNotice struct {
	BaseEvent

	Emails       []string  `json:"emails"        validate:"required,min=1,dive,email"`
	WorkflowName string    `json:"workflow_name" validate:"required"`
	StepName     string    `json:"step_name"     validate:"required"`
	Deadline     time.Time `json:"deadline"`
}

func (BreachNotice) GetType() EventType {
	return BreachNoticeEvent
}

func (e *BreachNotice) Validate() error {
	return validateEvent(e)
}

func validateEvent(e any) error {
	if err := validate.Struct(e); err != nil {
		return errors.Join(ErrInvalidEventData, err)
	}

	return nil
}
