package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowgate/pkg/engine"
	"github.com/dukex/flowgate/pkg/mocks"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/notification"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

const (
	managerRoleID   = "role-manager"
	approvePermID   = "perm-approve"
	financeStepID   = "step-finance"
	managerStepID   = "step-manager"
	requesterUserID = "user-requester"
)

func strPtr(s string) *string { return &s }

func newEngine(t *testing.T, dispatcher notification.Dispatcher) (*engine.Engine, *file.Persistence) {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	return engine.New(store, dispatcher, slog.Default(), engine.WithClock(func() time.Time { return fixedNow })), store
}

func acceptingDispatcher() *mocks.MockDispatcher {
	dispatcher := &mocks.MockDispatcher{}
	dispatcher.On("EnqueueAssignmentNotice", mock.Anything, mock.Anything).Return(nil)

	return dispatcher
}

func singleStepTemplate() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		Name:   "Leave request",
		Active: true,
		Steps: []*models.StepDefinition{
			{ID: managerStepID, Order: 1, Name: "Manager review", SLAHours: 24, RequiredRoleID: strPtr(managerRoleID)},
		},
	}
}

func branchingTemplate() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		Name:   "Purchase order",
		Active: true,
		Steps: []*models.StepDefinition{
			{ID: managerStepID, Order: 1, Name: "Manager review", SLAHours: 24},
			{ID: financeStepID, Order: 2, Name: "Finance review", SLAHours: 8},
		},
		Transitions: []*models.StepTransition{
			{
				FromStepID: managerStepID,
				ToStepID:   strPtr(financeStepID),
				Outcome:    models.OutcomeApproved,
				Condition:  &models.Condition{Field: "request_data.amount", Operator: models.OperatorGreater, Value: 1000},
			},
			{
				FromStepID: managerStepID,
				Outcome:    models.OutcomeApproved,
				Condition:  &models.Condition{Field: "request_data.amount", Operator: models.OperatorLessOrEqual, Value: 1000},
			},
		},
	}
}

func seedTemplate(t *testing.T, store persistence.Persistence, template *models.WorkflowTemplate) *models.WorkflowTemplate {
	t.Helper()

	require.NoError(t, store.Templates().Create(t.Context(), template))

	return template
}

func manager() *models.Actor {
	return &models.Actor{
		ID:     "user-manager",
		Email:  "manager@example.com",
		Active: true,
		Roles: []*models.Role{{
			ID:          managerRoleID,
			Name:        "manager",
			Permissions: []*models.Permission{{ID: approvePermID, Name: "request.approve"}},
		}},
	}
}

func admin() *models.Actor {
	return &models.Actor{
		ID:     "user-admin",
		Email:  "admin@example.com",
		Active: true,
		Roles:  []*models.Role{{ID: "role-admin", Name: "Admin"}},
	}
}

func countActions(entries []*models.AuditLogEntry, action string) int {
	count := 0

	for _, entry := range entries {
		if entry.Action == action {
			count++
		}
	}

	return count
}

func TestStartWorkflow(t *testing.T) {
	dispatcher := acceptingDispatcher()
	eng, store := newEngine(t, dispatcher)
	template := seedTemplate(t, store, singleStepTemplate())

	request, err := eng.StartWorkflow(t.Context(), template.ID, requesterUserID, map[string]any{"days": 3})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusInProgress, request.Status)
	require.NotNil(t, request.CurrentStepID)
	assert.Equal(t, managerStepID, *request.CurrentStepID)
	require.Len(t, request.Executions, 1)
	assert.Equal(t, string(models.StepStatusPending), request.Executions[0].Status)
	assert.Equal(t, fixedNow.Add(24*time.Hour), request.Executions[0].Deadline)

	history, err := store.Requests().History(t.Context(), request.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.RequestStatusCreated, *history[0].FromStatus)
	assert.Equal(t, models.RequestStatusInProgress, history[0].ToStatus)
	assert.Equal(t, "Workflow initiation", history[0].Reason)
	assert.Equal(t, requesterUserID, *history[0].ActorID)

	entries, err := store.AuditLogs().ByRequest(t.Context(), request.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditWorkflowStarted, entries[0].Action)
	assert.Equal(t, models.ResourceWorkflowRequest, entries[0].ResourceType)
	assert.Equal(t, template.ID, entries[0].Metadata["workflow_id"])

	dispatcher.AssertCalled(t, "EnqueueAssignmentNotice", mock.Anything, notification.AssignmentNotice{
		StepID:       managerStepID,
		RequestID:    request.ID,
		WorkflowName: "Leave request",
		StepName:     "Manager review",
		Deadline:     fixedNow.Add(24 * time.Hour),
	})
}

func TestStartWorkflow_TemplateDefects(t *testing.T) {
	tests := []struct {
		name     string
		template func() *models.WorkflowTemplate
	}{
		{
			name: "inactive template",
			template: func() *models.WorkflowTemplate {
				tpl := singleStepTemplate()
				tpl.Active = false

				return tpl
			},
		},
		{
			name: "no entry step",
			template: func() *models.WorkflowTemplate {
				tpl := singleStepTemplate()
				tpl.Steps[0].Order = 2

				return tpl
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := &mocks.MockDispatcher{}
			eng, store := newEngine(t, dispatcher)
			template := seedTemplate(t, store, tt.template())

			_, err := eng.StartWorkflow(t.Context(), template.ID, requesterUserID, nil)
			require.ErrorIs(t, err, models.ErrWorkflowEngine)

			count, err := store.Requests().CountByTemplate(t.Context(), template.ID)
			require.NoError(t, err)
			assert.Zero(t, count, "nothing is persisted")
			dispatcher.AssertNotCalled(t, "EnqueueAssignmentNotice", mock.Anything, mock.Anything)
		})
	}

	t.Run("missing template", func(t *testing.T) {
		eng, _ := newEngine(t, &mocks.MockDispatcher{})

		_, err := eng.StartWorkflow(t.Context(), "does-not-exist", requesterUserID, nil)
		require.ErrorIs(t, err, models.ErrWorkflowEngine)
		assert.Equal(t, models.CodeWorkflowEngine, models.ErrorCode(err))
	})
}

func TestStartWorkflow_NotificationFailureDoesNotFail(t *testing.T) {
	dispatcher := &mocks.MockDispatcher{}
	dispatcher.On("EnqueueAssignmentNotice", mock.Anything, mock.Anything).Return(errors.New("queue unavailable"))

	eng, store := newEngine(t, dispatcher)
	template := seedTemplate(t, store, singleStepTemplate())

	request, err := eng.StartWorkflow(t.Context(), template.ID, requesterUserID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusInProgress, request.Status)
	dispatcher.AssertNumberOfCalls(t, "EnqueueAssignmentNotice", 1)
}

func TestProcessStep_RoundTrip(t *testing.T) {
	eng, store := newEngine(t, acceptingDispatcher())
	template := seedTemplate(t, store, singleStepTemplate())

	request, err := eng.StartWorkflow(t.Context(), template.ID, requesterUserID, nil)
	require.NoError(t, err)

	request, err = eng.ProcessStep(t.Context(), request.ID, manager(), models.OutcomeApproved,
		map[string]any{"comment": "enjoy"})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusCompleted, request.Status)
	assert.Nil(t, request.CurrentStepID)
	require.NotNil(t, request.CompletedAt)
	assert.Equal(t, fixedNow, *request.CompletedAt)

	require.Len(t, request.Executions, 1)
	closed := request.Executions[0]
	assert.Equal(t, "APPROVED", closed.Status)
	assert.Equal(t, "user-manager", *closed.AssigneeID)
	assert.Equal(t, "enjoy", closed.Comment)
	assert.False(t, closed.Open())

	history, err := store.Requests().History(t.Context(), request.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.RequestStatusApproved, history[1].ToStatus)
	assert.Equal(t, "Final step outcome: APPROVED", history[1].Reason)
	assert.Equal(t, models.RequestStatusApproved, *history[2].FromStatus)
	assert.Equal(t, models.RequestStatusCompleted, history[2].ToStatus)
	assert.Equal(t, "Workflow completion", history[2].Reason)

	entries, err := store.AuditLogs().ByRequest(t.Context(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countActions(entries, models.AuditWorkflowStarted))
	assert.Equal(t, 1, countActions(entries, models.AuditStepCompleted))
	assert.Equal(t, 1, countActions(entries, models.AuditWorkflowCompleted))

	for _, entry := range entries {
		if entry.Action == models.AuditStepCompleted {
			assert.Equal(t, closed.ID, entry.ResourceID)
			assert.Equal(t, "APPROVED", entry.Metadata["outcome"])
			assert.Equal(t, managerStepID, entry.Metadata["step_id"])
		}
	}
}

func TestProcessStep_Branching(t *testing.T) {
	tests := []struct {
		name        string
		amount      int
		wantStatus  models.RequestStatus
		wantStep    *string
		wantNotices int
	}{
		{name: "small amount finalizes", amount: 500, wantStatus: models.RequestStatusCompleted, wantNotices: 1},
		{name: "large amount goes to finance", amount: 5000, wantStatus: models.RequestStatusInProgress, wantStep: strPtr(financeStepID), wantNotices: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := acceptingDispatcher()
			eng, store := newEngine(t, dispatcher)
			template := seedTemplate(t, store, branchingTemplate())

			request, err := eng.StartWorkflow(t.Context(), template.ID, requesterUserID, map[string]any{"amount": tt.amount})
			require.NoError(t, err)

			request, err = eng.ProcessStep(t.Context(), request.ID, manager(), models.OutcomeApproved, nil)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, request.Status)
			assert.Equal(t, tt.wantStep, request.CurrentStepID)
			dispatcher.AssertNumberOfCalls(t, "EnqueueAssignmentNotice", tt.wantNotices)

			entries, err := store.AuditLogs().ByRequest(t.Context(), request.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, countActions(entries, models.AuditStepCompleted))

			if tt.wantStep != nil {
				assert.Zero(t, countActions(entries, models.AuditWorkflowCompleted))
				require.Len(t, request.Executions, 2)

				open, err := store.Executions().Open(t.Context(), request.ID, financeStepID)
				require.NoError(t, err)
				assert.Equal(t, fixedNow.Add(8*time.Hour), open.Deadline)
			}
		})
	}
}

func TestProcessStep_NonApprovedLabelFinalizesAsRejected(t *testing.T) {
	eng, store := newEngine(t, acceptingDispatcher())
	template := seedTemplate(t, store, singleStepTemplate())

	request, err := eng.StartWorkflow(t.Context(), template.ID, requesterUserID, nil)
	require.NoError(t, err)

	request, err = eng.ProcessStep(t.Context(), request.ID, manager(), models.Outcome("ESCALATE"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, request.Status)
	assert.Equal(t, "ESCALATE", request.Executions[0].Status, "the label is kept verbatim")

	history, err := store.Requests().History(t.Context(), request.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.RequestStatusRejected, history[1].ToStatus)
	assert.Equal(t, "Final step outcome: ESCALATE", history[1].Reason)
}

func TestProcessStep_Authorization(t *testing.T) {
	template := singleStepTemplate()
	template.Steps[0].RequiredPermissionID = strPtr(approvePermID)

	t.Run("admin bypasses role and permission", func(t *testing.T) {
		eng, store := newEngine(t, acceptingDispatcher())
		seedTemplate(t, store, template)

		request, err := eng.StartWorkflow(t.Context(), template.ID, requesterUserID, nil)
		require.NoError(t, err)

		request, err = eng.ProcessStep(t.Context(), request.ID, admin(), models.OutcomeRejected, nil)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusCompleted, request.Status)
	})

	t.Run("missing role is denied and nothing is written", func(t *testing.T) {
		eng, store := newEngine(t, acceptingDispatcher())
		tpl := singleStepTemplate()
		seedTemplate(t, store, tpl)

		request, err := eng.StartWorkflow(t.Context(), tpl.ID, requesterUserID, nil)
		require.NoError(t, err)

		outsider := &models.Actor{ID: "user-outsider", Active: true}

		_, err = eng.ProcessStep(t.Context(), request.ID, outsider, models.OutcomeApproved, nil)
		require.ErrorIs(t, err, models.ErrPermissionDenied)
		assert.Contains(t, models.Detail(err), "required role "+managerRoleID)

		open, err := store.Executions().Open(t.Context(), request.ID, managerStepID)
		require.NoError(t, err)
		assert.Nil(t, open.AssigneeID)

		entries, err := store.AuditLogs().ByRequest(t.Context(), request.ID)
		require.NoError(t, err)
		assert.Zero(t, countActions(entries, models.AuditStepCompleted))
	})

	t.Run("role without permission is denied", func(t *testing.T) {
		eng, store := newEngine(t, acceptingDispatcher())
		tpl := singleStepTemplate()
		tpl.Steps[0].RequiredPermissionID = strPtr("perm-other")
		seedTemplate(t, store, tpl)

		request, err := eng.StartWorkflow(t.Context(), tpl.ID, requesterUserID, nil)
		require.NoError(t, err)

		_, err = eng.ProcessStep(t.Context(), request.ID, manager(), models.OutcomeApproved, nil)
		require.ErrorIs(t, err, models.ErrPermissionDenied)
		assert.Contains(t, models.Detail(err), "required permission perm-other")
		assert.NotContains(t, models.Detail(err), "required role")
	})
}

func TestProcessStep_Conflicts(t *testing.T) {
	eng, store := newEngine(t, acceptingDispatcher())
	template := seedTemplate(t, store, singleStepTemplate())

	_, err := eng.ProcessStep(t.Context(), "missing-request", manager(), models.OutcomeApproved, nil)
	require.ErrorIs(t, err, models.ErrWorkflowEngine)

	request, err := eng.StartWorkflow(t.Context(), template.ID, requesterUserID, nil)
	require.NoError(t, err)

	_, err = eng.ProcessStep(t.Context(), request.ID, manager(), models.Outcome(""), nil)
	require.ErrorIs(t, err, models.ErrWorkflowEngine)

	_, err = eng.ProcessStep(t.Context(), request.ID, manager(), models.OutcomeApproved, nil)
	require.NoError(t, err)

	_, err = eng.ProcessStep(t.Context(), request.ID, manager(), models.OutcomeApproved, nil)
	require.ErrorIs(t, err, models.ErrWorkflowEngine)
	assert.Contains(t, models.Detail(err), "logical conflict")
}

func TestProcessStep_ConcurrentDecisions(t *testing.T) {
	eng, store := newEngine(t, acceptingDispatcher())
	template := seedTemplate(t, store, singleStepTemplate())

	request, err := eng.StartWorkflow(t.Context(), template.ID, requesterUserID, nil)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := eng.ProcessStep(context.Background(), request.ID, manager(), models.OutcomeApproved, nil); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)

	entries, err := store.AuditLogs().ByRequest(t.Context(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countActions(entries, models.AuditStepCompleted))
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, *models.AuditLogEntry) error {
	return errors.New("audit table unavailable")
}

func (failingAudit) ByRequest(context.Context, string) ([]*models.AuditLogEntry, error) {
	return nil, nil
}

type failingAuditTx struct {
	persistence.Tx
}

func (failingAuditTx) AuditLogs() persistence.AuditRepository { return failingAudit{} }

type failingAuditPersistence struct {
	*file.Persistence
}

func (p failingAuditPersistence) Transact(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	return p.Persistence.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
		return fn(ctx, failingAuditTx{tx})
	})
}

func TestStartWorkflow_AuditFailureRollsBack(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	template := seedTemplate(t, store, singleStepTemplate())
	dispatcher := &mocks.MockDispatcher{}
	eng := engine.New(failingAuditPersistence{store}, dispatcher, slog.Default())

	_, err = eng.StartWorkflow(t.Context(), template.ID, requesterUserID, nil)
	require.Error(t, err)
	assert.Equal(t, models.CodeInternal, models.ErrorCode(err))

	count, err := store.Requests().CountByTemplate(t.Context(), template.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	overdue, err := store.Executions().Overdue(t.Context(), time.Now().Add(1000*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, overdue, "no step execution survived the rollback")
	dispatcher.AssertNotCalled(t, "EnqueueAssignmentNotice", mock.Anything, mock.Anything)
}
