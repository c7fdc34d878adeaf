// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/dukex/flowgate/pkg/models"

// StartRequestRequest represents the request body for starting a workflow request.
type StartRequestRequest struct {
	TemplateID string         `json:"workflow_id" validate:"required"`
	Data       map[string]any `json:"request_data"`
}

// ProcessStepRequest records an outcome label on the current step.
type ProcessStepRequest struct {
	Outcome string         `json:"outcome" validate:"required,max=50"`
	Context map[string]any `json:"context"`
}

// DecisionRequest is the reviewer form: approve, reject or a raw outcome label.
type DecisionRequest struct {
	Action  string `json:"action"  validate:"required,max=50"`
	Comment string `json:"comment" validate:"max=2000"`
}

// ListTemplatesResponse is the paginated template listing.
type ListTemplatesResponse struct {
	Templates []*models.WorkflowTemplate `json:"templates"`
	Limit     int                        `json:"limit"`
	Offset    int                        `json:"offset"`
}
