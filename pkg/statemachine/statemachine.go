// Package statemachine validates lifecycle transitions of workflow requests.
package statemachine

import (
	"slices"

	"github.com/dukex/flowgate/pkg/models"
)

// transitions is the fixed adjacency table of the request lifecycle. It is never mutated.
var transitions = map[models.RequestStatus][]models.RequestStatus{
	models.RequestStatusCreated:    {models.RequestStatusInProgress},
	models.RequestStatusInProgress: {models.RequestStatusApproved, models.RequestStatusRejected, models.RequestStatusEscalated},
	models.RequestStatusApproved:   {models.RequestStatusCompleted},
	models.RequestStatusRejected:   {models.RequestStatusCompleted},
	models.RequestStatusEscalated:  {models.RequestStatusInProgress},
	models.RequestStatusCompleted:  {},
}

// IsValidTransition reports whether a request may move from one status to another.
// A self transition is always valid.
func IsValidTransition(from, to models.RequestStatus) bool {
	if from == to {
		return true
	}

	return slices.Contains(transitions[from], to)
}

// ValidateTransition returns an InvalidStateTransition error when the move is not allowed.
func ValidateTransition(from, to models.RequestStatus) error {
	if !IsValidTransition(from, to) {
		return models.NewInvalidStateTransition("ValidateTransition", from, to)
	}

	return nil
}

// AllowedNextStates returns a copy of the statuses reachable from status.
func AllowedNextStates(status models.RequestStatus) []models.RequestStatus {
	return slices.Clone(transitions[status])
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status models.RequestStatus) bool {
	return len(transitions[status]) == 0
}
