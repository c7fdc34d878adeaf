package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Queryer is the subset of *sql.DB and *sql.Tx used by repositories.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RunInTx runs fn inside a transaction. The transaction commits when fn returns nil
// and rolls back otherwise. When fn returns an error matching discard the
// transaction is rolled back and nil is returned.
func RunInTx(ctx context.Context, db *sql.DB, discard error, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()

			panic(r)
		}
	}()

	err = fn(tx)
	if err != nil {
		rollbackErr := tx.Rollback()
		if discard != nil && errors.Is(err, discard) {
			if rollbackErr != nil {
				return fmt.Errorf("failed to rollback transaction: %w", rollbackErr)
			}

			return nil
		}

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Savepoint runs fn inside a named savepoint of tx. When fn fails the work done
// since the savepoint is rolled back and the transaction stays usable.
func Savepoint(ctx context.Context, tx *sql.Tx, name string, fn func(ctx context.Context) error) error {
	_, err := tx.ExecContext(ctx, "SAVEPOINT "+name)
	if err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}

	err = fn(ctx)
	if err != nil {
		_, rollbackErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
		if rollbackErr != nil {
			return errors.Join(err, fmt.Errorf("failed to rollback to savepoint %s: %w", name, rollbackErr))
		}

		return err
	}

	_, err = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	if err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}

	return nil
}
