// Package postgresql provides PostgreSQL persistence implementation for workflow templates and requests.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	*store

	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		store:  newStore(database, logger),
		db:     database,
		logger: logger,
	}

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Transact runs fn in a database transaction.
func (p *Persistence) Transact(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	return sqlbase.RunInTx(ctx, p.db, persistence.ErrRollback, func(tx *sql.Tx) error {
		return fn(ctx, &txStore{store: newStore(tx, p.logger), tx: tx})
	})
}

// store hands out repositories bound to one Queryer.
type store struct {
	q      sqlbase.Queryer
	logger *slog.Logger
}

func newStore(q sqlbase.Queryer, logger *slog.Logger) *store {
	return &store{q: q, logger: logger}
}

func (s *store) Templates() persistence.TemplateRepository {
	return NewTemplateRepository(s.q, s.logger)
}

func (s *store) Requests() persistence.RequestRepository {
	return NewRequestRepository(s.q, s.logger)
}

func (s *store) Executions() persistence.ExecutionRepository {
	return NewExecutionRepository(s.q, s.logger)
}

func (s *store) Escalations() persistence.EscalationRepository {
	return NewEscalationRepository(s.q, s.logger)
}

func (s *store) AuditLogs() persistence.AuditRepository {
	return NewAuditRepository(s.q, s.logger)
}

func (s *store) Actors() persistence.ActorRepository {
	return NewActorRepository(s.q, s.logger)
}

type txStore struct {
	*store

	tx         *sql.Tx
	savepoints int
}

func (t *txStore) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	t.savepoints++

	return sqlbase.Savepoint(ctx, t.tx, fmt.Sprintf("sp_%d", t.savepoints), fn)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return false
}
