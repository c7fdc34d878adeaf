package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignmentNotice_Validate(t *testing.T) {
	notice := &AssignmentNotice{
		BaseEvent:    BaseEvent{RequestID: "req-1"},
		StepID:       "step-1",
		WorkflowName: "Purchase",
		StepName:     "Manager review",
		Deadline:     time.Now(),
	}
	require.NoError(t, notice.Validate())
	assert.Equal(t, AssignmentNoticeEvent, notice.GetType())

	notice.StepID = ""
	assert.ErrorIs(t, notice.Validate(), ErrInvalidEventData)
}

func TestBreachNotice_Validate(t *testing.T) {
	tests := []struct {
		name    string
		emails  []string
		wantErr bool
	}{
		{name: "single recipient", emails: []string{"admin@workflow-platform.com"}},
		{name: "no recipients", emails: nil, wantErr: true},
		{name: "malformed address", emails: []string{"not-an-email"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notice := &BreachNotice{
				BaseEvent:    BaseEvent{RequestID: "req-1"},
				Emails:       tt.emails,
				WorkflowName: "Purchase",
				StepName:     "Finance review",
			}

			err := notice.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEventData)

				return
			}

			assert.NoError(t, err)
		})
	}
}
