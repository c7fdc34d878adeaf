package notification_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/notification"
	"github.com/dukex/flowgate/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []notification.Message
	fail map[string]error
}

func (m *recordingMailer) Send(_ context.Context, msg notification.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail[msg.To]; err != nil {
		return err
	}

	m.sent = append(m.sent, msg)

	return nil
}

type memoryDeduper struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (d *memoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.keys[key] {
		return false, nil
	}

	d.keys[key] = true

	return true, nil
}

func (d *memoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.keys, key)

	return nil
}

func seedStore(t *testing.T) *file.Persistence {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	roleID := "role-manager"
	template := &models.WorkflowTemplate{
		Name:   "Purchase",
		Active: true,
		Steps: []*models.StepDefinition{
			{ID: "step-1", Order: 1, Name: "Manager review", SLAHours: 24, RequiredRoleID: &roleID},
			{ID: "step-2", Order: 2, Name: "Archive", SLAHours: 24},
		},
	}
	require.NoError(t, store.Templates().Create(t.Context(), template))

	manager := &models.Role{ID: roleID, Name: "manager"}
	require.NoError(t, store.Actors().Save(t.Context(), &models.Actor{ID: "u1", Email: "ann@example.com", Active: true, Roles: []*models.Role{manager}}))
	require.NoError(t, store.Actors().Save(t.Context(), &models.Actor{ID: "u2", Email: "bob@example.com", Active: true, Roles: []*models.Role{manager}}))
	require.NoError(t, store.Actors().Save(t.Context(), &models.Actor{ID: "u3", Email: "gone@example.com", Active: false, Roles: []*models.Role{manager}}))

	return store
}

func assignment(stepID string) *events.AssignmentNotice {
	return &events.AssignmentNotice{
		BaseEvent:    events.BaseEvent{ID: "evt-1", Type: events.AssignmentNoticeEvent, RequestID: "req-1"},
		StepID:       stepID,
		WorkflowName: "Purchase",
		StepName:     "Manager review",
		Deadline:     time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestWorker_HandleAssignment(t *testing.T) {
	store := seedStore(t)
	mailer := &recordingMailer{}
	worker := notification.NewWorker(store, mailer, slog.Default(), notification.WithFrontendURL("https://app.example.com/"))

	require.NoError(t, worker.HandleAssignment(t.Context(), assignment("step-1")))

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "ann@example.com", mailer.sent[0].To)
	assert.Equal(t, "bob@example.com", mailer.sent[1].To)
	assert.Equal(t, "Task Assignment: Purchase", mailer.sent[0].Subject)
	assert.Equal(t, "https://app.example.com/requests/req-1", mailer.sent[0].ActionURL)
	assert.Contains(t, mailer.sent[0].Body, "2026-05-01 09:00 UTC")
}

func TestWorker_HandleAssignment_NobodyToNotify(t *testing.T) {
	store := seedStore(t)
	mailer := &recordingMailer{}
	worker := notification.NewWorker(store, mailer, slog.Default())

	require.NoError(t, worker.HandleAssignment(t.Context(), assignment("step-2")), "step without a role")
	require.NoError(t, worker.HandleAssignment(t.Context(), assignment("deleted-step")), "unknown step")
	assert.Empty(t, mailer.sent)

	err := worker.HandleAssignment(t.Context(), &events.BreachNotice{})
	assert.ErrorIs(t, err, events.ErrInvalidEventData)
}

func TestWorker_HandleBreach(t *testing.T) {
	mailer := &recordingMailer{}
	worker := notification.NewWorker(seedStore(t), mailer, slog.Default())

	err := worker.HandleBreach(t.Context(), &events.BreachNotice{
		BaseEvent:    events.BaseEvent{ID: "evt-2", RequestID: "req-9"},
		Emails:       []string{"admin@workflow-platform.com", "ops@example.com"},
		WorkflowName: "Purchase",
		StepName:     "Finance review",
	})
	require.NoError(t, err)

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "URGENT: SLA Breach - Purchase", mailer.sent[0].Subject)
	assert.Equal(t, "http://localhost:3000/requests/req-9", mailer.sent[1].ActionURL)
}

func TestWorker_RedeliverySkipsDeliveredRecipients(t *testing.T) {
	store := seedStore(t)
	mailer := &recordingMailer{fail: map[string]error{"bob@example.com": errors.New("mailbox full")}}
	deduper := &memoryDeduper{keys: map[string]bool{}}
	worker := notification.NewWorker(store, mailer, slog.Default(), notification.WithDeduper(deduper))

	err := worker.HandleAssignment(t.Context(), assignment("step-1"))
	require.Error(t, err)
	require.Len(t, mailer.sent, 1)

	delete(mailer.fail, "bob@example.com")

	require.NoError(t, worker.HandleAssignment(t.Context(), assignment("step-1")))
	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "bob@example.com", mailer.sent[1].To)
}
