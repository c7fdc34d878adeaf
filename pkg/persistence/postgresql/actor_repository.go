package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/persistence/sqlbase"
)

// ActorRepository resolves users with their roles and permissions.
type ActorRepository struct {
	db     sqlbase.Queryer
	logger *slog.Logger
}

// NewActorRepository creates a new actor repository.
func NewActorRepository(db sqlbase.Queryer, logger *slog.Logger) *ActorRepository {
	return &ActorRepository{db: db, logger: logger}
}

// ByID returns the actor with every role and permission it holds.
func (r *ActorRepository) ByID(ctx context.Context, id string) (*models.Actor, error) {
	var actor models.Actor

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(full_name, ''), is_active, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&actor.ID, &actor.Email, &actor.FullName, &actor.Active, &actor.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "actor", id, persistence.ErrActorNotFound)
		}

		return nil, fmt.Errorf("failed to scan actor: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.name, COALESCE(r.description, ''),
			p.id, COALESCE(p.name, ''), COALESCE(p.resource, ''), COALESCE(p.action, ''), COALESCE(p.description, '')
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY r.name, p.name
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query actor roles: %w", err)
	}

	defer r.closeRows(ctx, rows)

	actor.Roles = make([]*models.Role, 0)

	var current *models.Role

	for rows.Next() {
		var (
			role         models.Role
			permissionID *string
			permission   models.Permission
		)

		err := rows.Scan(
			&role.ID,
			&role.Name,
			&role.Description,
			&permissionID,
			&permission.Name,
			&permission.Resource,
			&permission.Action,
			&permission.Description,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan actor role: %w", err)
		}

		if current == nil || current.ID != role.ID {
			role.Permissions = make([]*models.Permission, 0)
			current = &role
			actor.Roles = append(actor.Roles, current)
		}

		if permissionID != nil {
			permission.ID = *permissionID
			current.Permissions = append(current.Permissions, &permission)
		}
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating actor roles: %w", err)
	}

	return &actor, nil
}

// Save upserts the actor, its roles and their permissions, replacing role assignments.
func (r *ActorRepository) Save(ctx context.Context, actor *models.Actor) error {
	if actor.ID == "" {
		actor.ID = newID()
	}

	if actor.CreatedAt.IsZero() {
		actor.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = EXCLUDED.full_name,
			is_active = EXCLUDED.is_active
	`, actor.ID, actor.Email, actor.FullName, actor.Active, actor.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save actor: %w", err)
	}

	_, err = r.db.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = $1", actor.ID)
	if err != nil {
		return fmt.Errorf("failed to clear actor roles: %w", err)
	}

	for _, role := range actor.Roles {
		err = r.saveRole(ctx, role)
		if err != nil {
			return err
		}

		_, err = r.db.ExecContext(ctx, "INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)", actor.ID, role.ID)
		if err != nil {
			return fmt.Errorf("failed to assign role %s: %w", role.Name, err)
		}
	}

	return nil
}

func (r *ActorRepository) saveRole(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = newID()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description
	`, role.ID, role.Name, role.Description)
	if err != nil {
		return fmt.Errorf("failed to save role %s: %w", role.Name, err)
	}

	_, err = r.db.ExecContext(ctx, "DELETE FROM role_permissions WHERE role_id = $1", role.ID)
	if err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	for _, permission := range role.Permissions {
		if permission.ID == "" {
			permission.ID = newID()
		}

		_, err = r.db.ExecContext(ctx, `
			INSERT INTO permissions (id, name, resource, action, description)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				resource = EXCLUDED.resource,
				action = EXCLUDED.action,
				description = EXCLUDED.description
		`, permission.ID, permission.Name, permission.Resource, permission.Action, permission.Description)
		if err != nil {
			return fmt.Errorf("failed to save permission %s: %w", permission.Name, err)
		}

		_, err = r.db.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, role.ID, permission.ID)
		if err != nil {
			return fmt.Errorf("failed to grant permission %s: %w", permission.Name, err)
		}
	}

	return nil
}

// EmailsForRole returns the emails of active users holding roleID.
func (r *ActorRepository) EmailsForRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.email
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role_id = $1 AND u.is_active
		ORDER BY u.email
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role members: %w", err)
	}

	defer r.closeRows(ctx, rows)

	emails := make([]string, 0)

	for rows.Next() {
		var email string

		err := rows.Scan(&email)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}

		emails = append(emails, email)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating role members: %w", err)
	}

	return emails, nil
}

func (r *ActorRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
