// Package file provides file-based persistence implementation for workflow templates and requests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

const stateFile = "flowgate.json"

// state is the whole dataset, persisted as a single JSON document.
type state struct {
	Templates   map[string]*models.WorkflowTemplate `json:"templates"`
	Requests    map[string]*models.WorkflowRequest  `json:"requests"`
	Executions  map[string]*models.StepExecution    `json:"executions"`
	History     []*models.StateHistoryEntry         `json:"history"`
	Escalations []*models.EscalationRecord          `json:"escalations"`
	AuditLogs   []*models.AuditLogEntry             `json:"audit_logs"`
	Actors      map[string]*models.Actor            `json:"actors"`
}

func newState() *state {
	return &state{
		Templates:  make(map[string]*models.WorkflowTemplate),
		Requests:   make(map[string]*models.WorkflowRequest),
		Executions: make(map[string]*models.StepExecution),
		Actors:     make(map[string]*models.Actor),
	}
}

// Persistence implements the persistence.Persistence interface using the file system.
// Transactions are serialized by a store-wide lock and work on a copy of the state
// that replaces the current one on commit. The state is read from disk once, so a
// root directory must be owned by a single process.
type Persistence struct {
	root  string
	mu    sync.Mutex
	state *state
}

// NewPersistence creates a new instance of Persistence with the specified root directory,
// loading any state previously written there.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	err := os.MkdirAll(cleanRoot, 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence root: %w", err)
	}

	fp := &Persistence{root: cleanRoot, state: newState()}

	data, err := os.ReadFile(fp.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fp, nil
		}

		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	err = json.Unmarshal(data, fp.state)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}

	fp.state.ensureMaps()

	return fp, nil
}

func (s *state) ensureMaps() {
	if s.Templates == nil {
		s.Templates = make(map[string]*models.WorkflowTemplate)
	}

	if s.Requests == nil {
		s.Requests = make(map[string]*models.WorkflowRequest)
	}

	if s.Executions == nil {
		s.Executions = make(map[string]*models.StepExecution)
	}

	if s.Actors == nil {
		s.Actors = make(map[string]*models.Actor)
	}
}

func (fp *Persistence) path() string {
	return filepath.Join(fp.root, stateFile)
}

// flush writes the state atomically through a temporary file.
func (fp *Persistence) flush(s *state) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := fp.path() + ".tmp"

	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	err = os.Rename(tmp, fp.path())
	if err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Transact runs fn on a private copy of the state while holding the store lock.
func (fp *Persistence) Transact(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	working, err := cloneValue(fp.state)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &txSession{state: working}

	err = fn(ctx, &txStore{store: store{session: tx}, session: tx})
	if err != nil {
		if errors.Is(err, persistence.ErrRollback) {
			return nil
		}

		return err
	}

	err = fp.flush(tx.state)
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	fp.state = tx.state

	return nil
}

func (fp *Persistence) Templates() persistence.TemplateRepository {
	return &templateRepository{session: fp}
}

func (fp *Persistence) Requests() persistence.RequestRepository {
	return &requestRepository{session: fp}
}

func (fp *Persistence) Executions() persistence.ExecutionRepository {
	return &executionRepository{session: fp}
}

func (fp *Persistence) Escalations() persistence.EscalationRepository {
	return &escalationRepository{session: fp}
}

func (fp *Persistence) AuditLogs() persistence.AuditRepository {
	return &auditRepository{session: fp}
}

func (fp *Persistence) Actors() persistence.ActorRepository {
	return &actorRepository{session: fp}
}

// session gives repositories access to a state.
type session interface {
	read(fn func(s *state) error) error
	write(fn func(s *state) error) error
}

func (fp *Persistence) read(fn func(s *state) error) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fn(fp.state)
}

// write applies fn to a copy of the state and keeps it only when fn succeeds and the copy is flushed.
func (fp *Persistence) write(fn func(s *state) error) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	working, err := cloneValue(fp.state)
	if err != nil {
		return err
	}

	err = fn(working)
	if err != nil {
		return err
	}

	err = fp.flush(working)
	if err != nil {
		return err
	}

	fp.state = working

	return nil
}

// txSession operates on the private state of one transaction. The store lock is already held.
type txSession struct {
	state *state
}

func (t *txSession) read(fn func(s *state) error) error {
	return fn(t.state)
}

func (t *txSession) write(fn func(s *state) error) error {
	return fn(t.state)
}

// store hands out repositories bound to a session.
type store struct {
	session session
}

func (s store) Templates() persistence.TemplateRepository {
	return &templateRepository{session: s.session}
}

func (s store) Requests() persistence.RequestRepository {
	return &requestRepository{session: s.session}
}

func (s store) Executions() persistence.ExecutionRepository {
	return &executionRepository{session: s.session}
}

func (s store) Escalations() persistence.EscalationRepository {
	return &escalationRepository{session: s.session}
}

func (s store) AuditLogs() persistence.AuditRepository {
	return &auditRepository{session: s.session}
}

func (s store) Actors() persistence.ActorRepository {
	return &actorRepository{session: s.session}
}

type txStore struct {
	store

	session *txSession
}

// Savepoint restores the transaction state captured before fn when fn fails.
func (t *txStore) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot, err := cloneValue(t.session.state)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	err = fn(ctx)
	if err != nil {
		*t.session.state = *snapshot

		return err
	}

	return nil
}

// cloneValue deep copies v through its JSON form.
func cloneValue[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to copy value: %w", err)
	}

	var out T

	err = json.Unmarshal(data, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to copy value: %w", err)
	}

	return &out, nil
}
