package file

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/google/uuid"
)

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

type templateRepository struct {
	session session
}

func (r *templateRepository) Create(_ context.Context, template *models.WorkflowTemplate) error {
	now := time.Now().UTC()

	if template.ID == "" {
		template.ID = newID()
	}

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	for _, step := range template.Steps {
		if step.ID == "" {
			step.ID = newID()
		}

		step.TemplateID = template.ID

		if step.CreatedAt.IsZero() {
			step.CreatedAt = template.CreatedAt
		}
	}

	for position, transition := range template.Transitions {
		if transition.ID == "" {
			transition.ID = newID()
		}

		transition.Position = position
	}

	stored, err := cloneValue(template)
	if err != nil {
		return err
	}

	return r.session.write(func(s *state) error {
		for _, existing := range s.Templates {
			if existing.Name == template.Name {
				return persistence.NewEntityError("Create", "template", template.Name, persistence.ErrTemplateAlreadyExists)
			}
		}

		s.Templates[template.ID] = stored

		return nil
	})
}

func (r *templateRepository) ByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	var template *models.WorkflowTemplate

	err := r.session.read(func(s *state) error {
		stored, ok := s.Templates[id]
		if !ok {
			return persistence.NewEntityError("ByID", "template", id, persistence.ErrTemplateNotFound)
		}

		var err error

		template, err = cloneValue(stored)

		return err
	})

	return template, err
}

func (r *templateRepository) List(_ context.Context, limit, offset int) ([]*models.WorkflowTemplate, error) {
	templates := make([]*models.WorkflowTemplate, 0)

	err := r.session.read(func(s *state) error {
		all := make([]*models.WorkflowTemplate, 0, len(s.Templates))
		for _, template := range s.Templates {
			all = append(all, template)
		}

		sort.Slice(all, func(i, j int) bool {
			if all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].ID > all[j].ID
			}

			return all[i].CreatedAt.After(all[j].CreatedAt)
		})

		if offset >= len(all) {
			return nil
		}

		end := len(all)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}

		for _, stored := range all[offset:end] {
			template, err := cloneValue(stored)
			if err != nil {
				return err
			}

			templates = append(templates, template)
		}

		return nil
	})

	return templates, err
}

func (r *templateRepository) Delete(_ context.Context, id string) error {
	return r.session.write(func(s *state) error {
		if _, ok := s.Templates[id]; !ok {
			return persistence.NewEntityError("Delete", "template", id, persistence.ErrTemplateNotFound)
		}

		delete(s.Templates, id)

		return nil
	})
}

func (r *templateRepository) StepByID(_ context.Context, id string) (*models.StepDefinition, error) {
	var step *models.StepDefinition

	err := r.session.read(func(s *state) error {
		for _, template := range s.Templates {
			if stored := template.StepByID(id); stored != nil {
				var err error

				step, err = cloneValue(stored)

				return err
			}
		}

		return persistence.NewEntityError("StepByID", "step", id, persistence.ErrStepNotFound)
	})

	return step, err
}

func (r *templateRepository) Transitions(_ context.Context, fromStepID string, outcome models.Outcome) ([]*models.StepTransition, error) {
	transitions := make([]*models.StepTransition, 0)

	err := r.session.read(func(s *state) error {
		for _, template := range s.Templates {
			for _, stored := range template.Transitions {
				if stored.FromStepID != fromStepID || stored.Outcome != outcome {
					continue
				}

				transition, err := cloneValue(stored)
				if err != nil {
					return err
				}

				transitions = append(transitions, transition)
			}
		}

		return nil
	})

	sort.SliceStable(transitions, func(i, j int) bool {
		return transitions[i].Position < transitions[j].Position
	})

	return transitions, err
}

type requestRepository struct {
	session session
}

func (r *requestRepository) Create(_ context.Context, request *models.WorkflowRequest) error {
	now := time.Now().UTC()

	if request.ID == "" {
		request.ID = newID()
	}

	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}

	if request.UpdatedAt.IsZero() {
		request.UpdatedAt = request.CreatedAt
	}

	if request.Payload == nil {
		request.Payload = map[string]any{}
	}

	stored, err := cloneValue(request)
	if err != nil {
		return err
	}

	stored.Executions = nil

	return r.session.write(func(s *state) error {
		s.Requests[stored.ID] = stored

		return nil
	})
}

func (r *requestRepository) ByID(_ context.Context, id string) (*models.WorkflowRequest, error) {
	return r.get("ByID", id)
}

// LockByID relies on the store lock held by the enclosing transaction.
func (r *requestRepository) LockByID(_ context.Context, id string) (*models.WorkflowRequest, error) {
	return r.get("LockByID", id)
}

func (r *requestRepository) get(op, id string) (*models.WorkflowRequest, error) {
	var request *models.WorkflowRequest

	err := r.session.read(func(s *state) error {
		stored, ok := s.Requests[id]
		if !ok {
			return persistence.NewEntityError(op, "request", id, persistence.ErrRequestNotFound)
		}

		var err error

		request, err = cloneValue(stored)

		return err
	})

	return request, err
}

func (r *requestRepository) Update(_ context.Context, request *models.WorkflowRequest) error {
	return r.session.write(func(s *state) error {
		stored, ok := s.Requests[request.ID]
		if !ok {
			return persistence.NewEntityError("Update", "request", request.ID, persistence.ErrRequestNotFound)
		}

		stored.Status = request.Status
		stored.CurrentStepID = request.CurrentStepID
		stored.UpdatedAt = request.UpdatedAt
		stored.CompletedAt = request.CompletedAt

		return nil
	})
}

func (r *requestRepository) CountByTemplate(_ context.Context, templateID string) (int, error) {
	count := 0

	err := r.session.read(func(s *state) error {
		for _, request := range s.Requests {
			if request.TemplateID == templateID {
				count++
			}
		}

		return nil
	})

	return count, err
}

func (r *requestRepository) AppendHistory(_ context.Context, entry *models.StateHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	stored, err := cloneValue(entry)
	if err != nil {
		return err
	}

	return r.session.write(func(s *state) error {
		s.History = append(s.History, stored)

		return nil
	})
}

func (r *requestRepository) History(_ context.Context, requestID string) ([]*models.StateHistoryEntry, error) {
	entries := make([]*models.StateHistoryEntry, 0)

	err := r.session.read(func(s *state) error {
		for _, stored := range s.History {
			if stored.RequestID != requestID {
				continue
			}

			entry, err := cloneValue(stored)
			if err != nil {
				return err
			}

			entries = append(entries, entry)
		}

		return nil
	})

	return entries, err
}

type executionRepository struct {
	session session
}

func (r *executionRepository) Create(_ context.Context, execution *models.StepExecution) error {
	if execution.ID == "" {
		execution.ID = newID()
	}

	stored, err := cloneValue(execution)
	if err != nil {
		return err
	}

	return r.session.write(func(s *state) error {
		if stored.Open() {
			for _, existing := range s.Executions {
				if existing.RequestID == stored.RequestID && existing.Open() {
					return fmt.Errorf("request %s already has open step execution %s", stored.RequestID, existing.ID)
				}
			}
		}

		s.Executions[stored.ID] = stored

		return nil
	})
}

func (r *executionRepository) Update(_ context.Context, execution *models.StepExecution) error {
	stored, err := cloneValue(execution)
	if err != nil {
		return err
	}

	return r.session.write(func(s *state) error {
		existing, ok := s.Executions[execution.ID]
		if !ok {
			return persistence.NewEntityError("Update", "step execution", execution.ID, persistence.ErrExecutionNotFound)
		}

		stored.RequestID = existing.RequestID
		stored.StepID = existing.StepID
		stored.StartedAt = existing.StartedAt
		stored.Deadline = existing.Deadline
		s.Executions[execution.ID] = stored

		return nil
	})
}

func (r *executionRepository) Open(_ context.Context, requestID, stepID string) (*models.StepExecution, error) {
	var execution *models.StepExecution

	err := r.session.read(func(s *state) error {
		for _, stored := range s.Executions {
			if stored.RequestID == requestID && stored.StepID == stepID && stored.Open() {
				var err error

				execution, err = cloneValue(stored)

				return err
			}
		}

		return persistence.NewEntityError("Open", "step execution", requestID, persistence.ErrExecutionNotFound)
	})

	return execution, err
}

func (r *executionRepository) ByRequest(_ context.Context, requestID string) ([]*models.StepExecution, error) {
	executions, err := r.filter(func(e *models.StepExecution) bool {
		return e.RequestID == requestID
	})

	sort.Slice(executions, func(i, j int) bool {
		if executions[i].StartedAt.Equal(executions[j].StartedAt) {
			return executions[i].ID < executions[j].ID
		}

		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, err
}

func (r *executionRepository) Overdue(_ context.Context, now time.Time) ([]*models.StepExecution, error) {
	executions, err := r.filter(func(e *models.StepExecution) bool {
		return e.Overdue(now)
	})

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].Deadline.Before(executions[j].Deadline)
	})

	return executions, err
}

func (r *executionRepository) filter(match func(e *models.StepExecution) bool) ([]*models.StepExecution, error) {
	executions := make([]*models.StepExecution, 0)

	err := r.session.read(func(s *state) error {
		for _, stored := range s.Executions {
			if !match(stored) {
				continue
			}

			execution, err := cloneValue(stored)
			if err != nil {
				return err
			}

			executions = append(executions, execution)
		}

		return nil
	})

	return executions, err
}

type escalationRepository struct {
	session session
}

func (r *escalationRepository) Create(_ context.Context, record *models.EscalationRecord) error {
	if record.ID == "" {
		record.ID = newID()
	}

	if record.Level == 0 {
		record.Level = 1
	}

	stored, err := cloneValue(record)
	if err != nil {
		return err
	}

	return r.session.write(func(s *state) error {
		s.Escalations = append(s.Escalations, stored)

		return nil
	})
}

func (r *escalationRepository) ByExecution(_ context.Context, executionID string) ([]*models.EscalationRecord, error) {
	records := make([]*models.EscalationRecord, 0)

	err := r.session.read(func(s *state) error {
		for _, stored := range s.Escalations {
			if stored.ExecutionID != executionID {
				continue
			}

			record, err := cloneValue(stored)
			if err != nil {
				return err
			}

			records = append(records, record)
		}

		return nil
	})

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Level < records[j].Level
	})

	return records, err
}

type auditRepository struct {
	session session
}

func (r *auditRepository) Append(_ context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	stored, err := cloneValue(entry)
	if err != nil {
		return err
	}

	return r.session.write(func(s *state) error {
		s.AuditLogs = append(s.AuditLogs, stored)

		return nil
	})
}

func (r *auditRepository) ByRequest(_ context.Context, requestID string) ([]*models.AuditLogEntry, error) {
	entries := make([]*models.AuditLogEntry, 0)

	err := r.session.read(func(s *state) error {
		for _, stored := range s.AuditLogs {
			if stored.RequestID == nil || *stored.RequestID != requestID {
				continue
			}

			entry, err := cloneValue(stored)
			if err != nil {
				return err
			}

			entries = append(entries, entry)
		}

		return nil
	})

	return entries, err
}

type actorRepository struct {
	session session
}

func (r *actorRepository) ByID(_ context.Context, id string) (*models.Actor, error) {
	var actor *models.Actor

	err := r.session.read(func(s *state) error {
		stored, ok := s.Actors[id]
		if !ok {
			return persistence.NewEntityError("ByID", "actor", id, persistence.ErrActorNotFound)
		}

		var err error

		actor, err = cloneValue(stored)

		return err
	})

	return actor, err
}

func (r *actorRepository) Save(_ context.Context, actor *models.Actor) error {
	if actor.ID == "" {
		actor.ID = newID()
	}

	if actor.CreatedAt.IsZero() {
		actor.CreatedAt = time.Now().UTC()
	}

	for _, role := range actor.Roles {
		if role.ID == "" {
			role.ID = newID()
		}

		for _, permission := range role.Permissions {
			if permission.ID == "" {
				permission.ID = newID()
			}
		}
	}

	stored, err := cloneValue(actor)
	if err != nil {
		return err
	}

	return r.session.write(func(s *state) error {
		for _, existing := range s.Actors {
			if existing.ID != stored.ID && strings.EqualFold(existing.Email, stored.Email) {
				return fmt.Errorf("email %s is already registered", stored.Email)
			}
		}

		s.Actors[stored.ID] = stored

		return nil
	})
}

func (r *actorRepository) EmailsForRole(_ context.Context, roleID string) ([]string, error) {
	emails := make([]string, 0)

	err := r.session.read(func(s *state) error {
		for _, actor := range s.Actors {
			if actor.Active && actor.RoleByID(roleID) != nil {
				emails = append(emails, actor.Email)
			}
		}

		return nil
	})

	slices.Sort(emails)

	return emails, err
}
