package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	p, err := NewPersistence(t.TempDir())
	require.NoError(t, err)

	return p
}

func sampleTemplate(name string) *models.WorkflowTemplate {
	step1 := &models.StepDefinition{ID: "step-1", Order: 1, Name: "Manager review", SLAHours: 24}
	step2 := &models.StepDefinition{ID: "step-2", Order: 2, Name: "Finance review", SLAHours: 8}

	return &models.WorkflowTemplate{
		Name:   name,
		Active: true,
		Steps:  []*models.StepDefinition{step1, step2},
		Transitions: []*models.StepTransition{
			{FromStepID: "step-1", ToStepID: &step2.ID, Outcome: models.OutcomeApproved, Condition: &models.Condition{Field: "request_data.amount", Operator: ">", Value: 1000.0}},
			{FromStepID: "step-1", Outcome: models.OutcomeApproved},
			{FromStepID: "step-1", Outcome: models.OutcomeRejected},
		},
	}
}

func TestNewPersistence(t *testing.T) {
	dir := t.TempDir()

	p, err := NewPersistence("file://" + dir)
	require.NoError(t, err)
	assert.Equal(t, dir, p.root)
	assert.NoError(t, p.HealthCheck(t.Context()))
	assert.NoError(t, p.Close(t.Context()))
}

func TestPersistence_ReloadsState(t *testing.T) {
	dir := t.TempDir()

	p, err := NewPersistence(dir)
	require.NoError(t, err)

	template := sampleTemplate("Purchase")
	require.NoError(t, p.Templates().Create(t.Context(), template))

	_, err = os.Stat(filepath.Join(dir, stateFile))
	require.NoError(t, err)

	reopened, err := NewPersistence(dir)
	require.NoError(t, err)

	loaded, err := reopened.Templates().ByID(t.Context(), template.ID)
	require.NoError(t, err)
	assert.Equal(t, "Purchase", loaded.Name)
	assert.Len(t, loaded.Steps, 2)
}

func TestTemplateRepository(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	template := sampleTemplate("Purchase")
	require.NoError(t, p.Templates().Create(ctx, template))
	assert.NotEmpty(t, template.ID)
	assert.Equal(t, template.ID, template.Steps[0].TemplateID)

	err := p.Templates().Create(ctx, sampleTemplate("Purchase"))
	assert.ErrorIs(t, err, persistence.ErrTemplateAlreadyExists)

	transitions, err := p.Templates().Transitions(ctx, "step-1", models.OutcomeApproved)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.False(t, transitions[0].Terminal())
	assert.True(t, transitions[1].Terminal())

	step, err := p.Templates().StepByID(ctx, "step-2")
	require.NoError(t, err)
	assert.Equal(t, 8, step.SLAHours)

	_, err = p.Templates().StepByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrStepNotFound)

	loaded, err := p.Templates().ByID(ctx, template.ID)
	require.NoError(t, err)

	loaded.Name = "mutated"

	again, err := p.Templates().ByID(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, "Purchase", again.Name, "returned values are copies")

	time.Sleep(time.Millisecond)
	require.NoError(t, p.Templates().Create(ctx, sampleTemplate("Travel")))

	list, err := p.Templates().List(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Travel", list[0].Name)

	list, err = p.Templates().List(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, p.Templates().Delete(ctx, template.ID))
	assert.ErrorIs(t, p.Templates().Delete(ctx, template.ID), persistence.ErrTemplateNotFound)
}

func TestExecutionRepository_OpenAndOverdue(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()
	now := time.Now().UTC()

	late := &models.StepExecution{RequestID: "req-1", StepID: "step-1", Status: "PENDING", StartedAt: now.Add(-2 * time.Hour), Deadline: now.Add(-time.Hour)}
	onTime := &models.StepExecution{RequestID: "req-2", StepID: "step-1", Status: "PENDING", StartedAt: now, Deadline: now.Add(time.Hour)}
	flagged := &models.StepExecution{RequestID: "req-3", StepID: "step-1", Status: "PENDING", StartedAt: now, Deadline: now.Add(-time.Hour), Breached: true}

	for _, e := range []*models.StepExecution{late, onTime, flagged} {
		require.NoError(t, p.Executions().Create(ctx, e))
	}

	err := p.Executions().Create(ctx, &models.StepExecution{RequestID: "req-1", StepID: "step-2", Status: "PENDING", StartedAt: now, Deadline: now})
	assert.Error(t, err, "a request has at most one open execution")

	overdue, err := p.Executions().Overdue(ctx, now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)

	open, err := p.Executions().Open(ctx, "req-1", "step-1")
	require.NoError(t, err)

	completed := now
	open.CompletedAt = &completed
	open.Status = "APPROVED"
	require.NoError(t, p.Executions().Update(ctx, open))

	_, err = p.Executions().Open(ctx, "req-1", "step-1")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	overdue, err = p.Executions().Overdue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

func TestTransact(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	t.Run("error discards all writes", func(t *testing.T) {
		boom := errors.New("boom")

		err := p.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
			require.NoError(t, tx.Requests().Create(ctx, &models.WorkflowRequest{ID: "req-a", TemplateID: "tpl"}))

			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = p.Requests().ByID(ctx, "req-a")
		assert.ErrorIs(t, err, persistence.ErrRequestNotFound)
	})

	t.Run("ErrRollback is not reported", func(t *testing.T) {
		err := p.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
			require.NoError(t, tx.Requests().Create(ctx, &models.WorkflowRequest{ID: "req-b", TemplateID: "tpl"}))

			return persistence.ErrRollback
		})
		require.NoError(t, err)

		_, err = p.Requests().ByID(ctx, "req-b")
		assert.ErrorIs(t, err, persistence.ErrRequestNotFound)
	})

	t.Run("savepoint failure restores only nested work", func(t *testing.T) {
		err := p.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
			require.NoError(t, tx.Requests().Create(ctx, &models.WorkflowRequest{ID: "req-c", TemplateID: "tpl"}))

			err := tx.Savepoint(ctx, func(ctx context.Context) error {
				require.NoError(t, tx.Requests().Create(ctx, &models.WorkflowRequest{ID: "req-d", TemplateID: "tpl"}))

				return errors.New("nested failure")
			})
			require.Error(t, err)

			return nil
		})
		require.NoError(t, err)

		_, err = p.Requests().ByID(ctx, "req-c")
		require.NoError(t, err)

		_, err = p.Requests().ByID(ctx, "req-d")
		assert.ErrorIs(t, err, persistence.ErrRequestNotFound)
	})

	t.Run("transactions are serialized", func(t *testing.T) {
		require.NoError(t, p.Requests().Create(ctx, &models.WorkflowRequest{ID: "counter", TemplateID: "tpl", Status: models.RequestStatusInProgress}))

		var wg sync.WaitGroup

		for range 10 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_ = p.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
					return tx.Requests().AppendHistory(ctx, &models.StateHistoryEntry{RequestID: "counter", ToStatus: models.RequestStatusInProgress})
				})
			}()
		}

		wg.Wait()

		history, err := p.Requests().History(ctx, "counter")
		require.NoError(t, err)
		assert.Len(t, history, 10)
	})
}

func TestActorRepository(t *testing.T) {
	p := newTestPersistence(t)
	ctx := t.Context()

	finance := &models.Role{ID: "role-finance", Name: "finance", Permissions: []*models.Permission{{Name: "finance.approve"}}}

	require.NoError(t, p.Actors().Save(ctx, &models.Actor{ID: "u2", Email: "zoe@example.com", Active: true, Roles: []*models.Role{finance}}))
	require.NoError(t, p.Actors().Save(ctx, &models.Actor{ID: "u1", Email: "amy@example.com", Active: true, Roles: []*models.Role{finance}}))
	require.NoError(t, p.Actors().Save(ctx, &models.Actor{ID: "u3", Email: "old@example.com", Active: false, Roles: []*models.Role{finance}}))

	err := p.Actors().Save(ctx, &models.Actor{ID: "u4", Email: "AMY@example.com", Active: true})
	assert.Error(t, err)

	emails, err := p.Actors().EmailsForRole(ctx, "role-finance")
	require.NoError(t, err)
	assert.Equal(t, []string{"amy@example.com", "zoe@example.com"}, emails)

	actor, err := p.Actors().ByID(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, actor.Roles[0].Permissions[0].ID)

	_, err = p.Actors().ByID(ctx, "nobody")
	assert.ErrorIs(t, err, persistence.ErrActorNotFound)
}
