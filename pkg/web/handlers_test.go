package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/flowgate/pkg/engine"
	"github.com/dukex/flowgate/pkg/mocks"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence/file"
	"github.com/dukex/flowgate/pkg/services"
	"github.com/dukex/flowgate/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	adminID    = "user-admin"
	managerID  = "user-manager"
	clerkID    = "user-clerk"
	inactiveID = "user-gone"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	manager := &models.Role{ID: "role-manager", Name: "manager"}

	for _, actor := range []*models.Actor{
		{ID: adminID, Email: "admin@example.com", Active: true, Roles: []*models.Role{{ID: "role-admin", Name: "admin"}}},
		{ID: managerID, Email: "manager@example.com", Active: true, Roles: []*models.Role{manager}},
		{ID: clerkID, Email: "clerk@example.com", Active: true},
		{ID: inactiveID, Email: "gone@example.com", Active: false},
	} {
		require.NoError(t, store.Actors().Save(t.Context(), actor))
	}

	dispatcher := &mocks.MockDispatcher{}
	dispatcher.On("EnqueueAssignmentNotice", mock.Anything, mock.Anything).Return(nil)

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(store, slog.Default()),
		services.NewRequests(store, engine.New(store, dispatcher, slog.Default())),
		store.Actors(),
		validator.New(validator.WithRequiredStructEnabled()),
		slog.Default(),
	)

	app := fiber.New()
	handlers.Register(app)

	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path, actorID string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if actorID != "" {
		req.Header.Set(web.ActorIDHeader, actorID)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	kind, _ := problem["type"].(string)

	return kind
}

func createTemplate(t *testing.T, app *fiber.App) *models.WorkflowTemplate {
	t.Helper()

	roleID := "role-manager"
	status, body := doRequest(t, app, http.MethodPost, "/workflows", adminID, services.TemplateDefinition{
		Name:  "Purchase order",
		Steps: []services.StepDefinition{{Order: 1, Name: "Manager review", RequiredRoleID: &roleID}},
		Transitions: []services.TransitionDefinition{
			{FromStepOrder: 1, Outcome: "APPROVED"},
			{FromStepOrder: 1, Outcome: "REJECTED"},
		},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var template models.WorkflowTemplate
	require.NoError(t, json.Unmarshal(body, &template))

	return &template
}

func TestAPIHandlers_ActorResolution(t *testing.T) {
	app := setupTestApp(t)

	tests := []struct {
		name         string
		actorID      string
		expectedCode int
		expectedType string
	}{
		{name: "missing header", actorID: "", expectedCode: http.StatusUnauthorized, expectedType: "UNAUTHORIZED"},
		{name: "unknown actor", actorID: "nobody", expectedCode: http.StatusUnauthorized, expectedType: "UNAUTHORIZED"},
		{name: "inactive actor", actorID: inactiveID, expectedCode: http.StatusForbidden, expectedType: models.CodePermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, http.MethodGet, "/workflows", tt.actorID, nil)
			assert.Equal(t, tt.expectedCode, status)
			assert.Equal(t, tt.expectedType, problemType(t, body))
		})
	}

	status, _ := doRequest(t, app, http.MethodGet, "/workflows", clerkID, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPIHandlers_Workflows(t *testing.T) {
	app := setupTestApp(t)
	template := createTemplate(t, app)

	t.Run("non admin cannot author templates", func(t *testing.T) {
		status, body := doRequest(t, app, http.MethodPost, "/workflows", clerkID, services.TemplateDefinition{
			Name:  "Other",
			Steps: []services.StepDefinition{{Order: 1, Name: "Review"}},
		})
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, models.CodePermissionDenied, problemType(t, body))
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		status, _ := doRequest(t, app, http.MethodPost, "/workflows", adminID, services.TemplateDefinition{
			Name:  "Purchase order",
			Steps: []services.StepDefinition{{Order: 1, Name: "Review"}},
		})
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("invalid definition", func(t *testing.T) {
		status, body := doRequest(t, app, http.MethodPost, "/workflows", adminID, services.TemplateDefinition{Name: "No steps"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "VALIDATION_ERROR", problemType(t, body))
	})

	t.Run("get and list", func(t *testing.T) {
		status, body := doRequest(t, app, http.MethodGet, "/workflows/"+template.ID, clerkID, nil)
		require.Equal(t, http.StatusOK, status)

		var loaded models.WorkflowTemplate
		require.NoError(t, json.Unmarshal(body, &loaded))
		assert.Equal(t, "Purchase order", loaded.Name)
		assert.Len(t, loaded.Steps, 1)

		status, body = doRequest(t, app, http.MethodGet, "/workflows?limit=10", clerkID, nil)
		require.Equal(t, http.StatusOK, status)

		var list web.ListTemplatesResponse
		require.NoError(t, json.Unmarshal(body, &list))
		assert.Len(t, list.Templates, 1)
		assert.Equal(t, 10, list.Limit)

		status, _ = doRequest(t, app, http.MethodGet, "/workflows?limit=abc", clerkID, nil)
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = doRequest(t, app, http.MethodGet, "/workflows?limit=500", clerkID, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("missing template", func(t *testing.T) {
		status, body := doRequest(t, app, http.MethodGet, "/workflows/missing", clerkID, nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, models.CodeResourceNotFound, problemType(t, body))
	})

	t.Run("delete", func(t *testing.T) {
		status, _ := doRequest(t, app, http.MethodDelete, "/workflows/"+template.ID, adminID, nil)
		assert.Equal(t, http.StatusNoContent, status)

		status, _ = doRequest(t, app, http.MethodGet, "/workflows/"+template.ID, adminID, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestAPIHandlers_RequestLifecycle(t *testing.T) {
	app := setupTestApp(t)
	template := createTemplate(t, app)

	status, body := doRequest(t, app, http.MethodPost, "/requests", clerkID, web.StartRequestRequest{
		TemplateID: template.ID,
		Data:       map[string]any{"amount": 250},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var request models.WorkflowRequest
	require.NoError(t, json.Unmarshal(body, &request))
	assert.Equal(t, models.RequestStatusInProgress, request.Status)
	assert.Equal(t, clerkID, request.RequesterID)
	require.NotNil(t, request.CurrentStepID)

	path := "/requests/" + request.ID

	status, body = doRequest(t, app, http.MethodPost, path+"/decision", clerkID, web.DecisionRequest{Action: "approve"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, models.CodePermissionDenied, problemType(t, body))

	status, body = doRequest(t, app, http.MethodPost, path+"/process", managerID, web.ProcessStepRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", problemType(t, body))

	status, body = doRequest(t, app, http.MethodPost, path+"/decision", managerID, web.DecisionRequest{Action: "approve", Comment: "ok"})
	require.Equal(t, http.StatusOK, status, string(body))
	require.NoError(t, json.Unmarshal(body, &request))
	assert.Equal(t, models.RequestStatusCompleted, request.Status)
	assert.Nil(t, request.CurrentStepID)

	status, body = doRequest(t, app, http.MethodPost, path+"/process", managerID, web.ProcessStepRequest{Outcome: "APPROVED"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, models.CodeWorkflowEngine, problemType(t, body))

	status, body = doRequest(t, app, http.MethodGet, path, clerkID, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &request))
	require.Len(t, request.Executions, 1)
	assert.Equal(t, "APPROVED", request.Executions[0].Status)

	status, body = doRequest(t, app, http.MethodGet, path+"/history", clerkID, nil)
	require.Equal(t, http.StatusOK, status)

	var history []models.StateHistoryEntry
	require.NoError(t, json.Unmarshal(body, &history))
	assert.Len(t, history, 3)

	status, body = doRequest(t, app, http.MethodGet, path+"/audit", clerkID, nil)
	require.Equal(t, http.StatusOK, status)

	var trail []models.AuditLogEntry
	require.NoError(t, json.Unmarshal(body, &trail))
	assert.Len(t, trail, 3)

	status, _ = doRequest(t, app, http.MethodGet, "/requests/missing/history", clerkID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, app, http.MethodPost, "/requests", clerkID, web.StartRequestRequest{TemplateID: "missing"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_InternalErrorHidesDetails(t *testing.T) {
	handlers := web.NewAPIHandlers(nil, nil, failingActors{}, validator.New(), slog.Default())
	app := fiber.New()
	handlers.Register(app)

	req := httptest.NewRequest(http.MethodGet, "/workflows", nil)
	req.Header.Set(web.ActorIDHeader, "someone")
	req.Header.Set(web.CorrelationIDHeader, "corr-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "corr-1", resp.Header.Get(web.CorrelationIDHeader))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, models.CodeInternal, problemType(t, body))
	assert.NotContains(t, string(body), "connection refused")
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}

type failingActors struct{}

func (failingActors) ByID(context.Context, string) (*models.Actor, error) {
	return nil, errors.New("connection refused")
}

func (failingActors) Save(context.Context, *models.Actor) error {
	return errors.New("connection refused")
}

func (failingActors) EmailsForRole(context.Context, string) ([]string, error) {
	return nil, errors.New("connection refused")
}
