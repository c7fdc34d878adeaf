package models

import (
	"fmt"
	"strings"
)

// MaxOutcomeLength mirrors the width of the outcome column.
const MaxOutcomeLength = 50

// Outcome is the actor-supplied decision label. It closes a step execution
// and selects the outgoing transition. The label is kept verbatim.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
)

// Validate checks the label can be used to match transitions.
func (o Outcome) Validate() error {
	label := string(o)

	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("outcome label is required")
	}

	if len(label) > MaxOutcomeLength {
		return fmt.Errorf("outcome label exceeds %d characters", MaxOutcomeLength)
	}

	return nil
}

// FinalStatus maps the outcome that ended a request to its intermediate terminal status.
//
// Only the literal "APPROVED" maps to APPROVED. Every other label, including typos
// and labels such as "ESCALATE", maps to REJECTED. This is a known simplification
// pending product review and must not be widened silently.
func (o Outcome) FinalStatus() RequestStatus {
	if o == OutcomeApproved {
		return RequestStatusApproved
	}

	return RequestStatusRejected
}
