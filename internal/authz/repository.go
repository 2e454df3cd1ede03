package authz

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/errors"
)

// Repository reads roles and their grants from the relational store.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new authz repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// GetRole gets a role by ID
func (r *Repository) GetRole(ctx context.Context, id string) (*Role, error) {
	var role Role
	query := `
		SELECT id, name, scope, department_id, is_active, created_at, updated_at
		FROM roles WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &role, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("role")
		}
		return nil, err
	}
	return &role, nil
}

// ListGrants lists all (module, action, filter) grants for a role.
func (r *Repository) ListGrants(ctx context.Context, roleID string) ([]Grant, error) {
	query := `
		SELECT p.module, p.action, COALESCE(rp.scope_filter, 'none') AS scope_filter
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
	`

	rows, err := r.db.QueryxContext(ctx, query, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var module, action, filter string
		if err := rows.Scan(&module, &action, &filter); err != nil {
			return nil, err
		}
		grants = append(grants, Grant{
			Module: module,
			Action: action,
			Filter: ParseScopeFilter(filter),
		})
	}

	return grants, rows.Err()
}

// EnsurePermission finds or creates the (module, action) permission row.
func (r *Repository) EnsurePermission(ctx context.Context, module, action string) (string, error) {
	var id string
	query := `
		INSERT INTO permissions (id, module, action)
		VALUES ($1, $2, $3)
		ON CONFLICT (module, action) DO UPDATE SET module = EXCLUDED.module
		RETURNING id
	`
	if err := r.db.QueryRowxContext(ctx, query, uuid.New().String(), module, action).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// AttachGrant links a permission to a role with an optional scope filter.
func (r *Repository) AttachGrant(ctx context.Context, roleID, permissionID string, filter ScopeFilter) error {
	query := `
		INSERT INTO role_permissions (role_id, permission_id, scope_filter)
		VALUES ($1, $2, $3)
		ON CONFLICT (role_id, permission_id) DO UPDATE SET scope_filter = EXCLUDED.scope_filter
	`
	_, err := r.db.ExecContext(ctx, query, roleID, permissionID, filter.String())
	return err
}
