package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/stockroom/stockroom-backend/pkg/database"
)

// CachedUser is a local projection of the identity provider's user,
// kept fresh by the user event consumer. Only the fields needed to
// label audit rows and issue recipients are stored.
type CachedUser struct {
	ID           string    `db:"id" json:"id"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	Email        string    `db:"email" json:"email"`
	DepartmentID *string   `db:"department_id" json:"department_id,omitempty"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// UserCacheRepository maintains the user projection
type UserCacheRepository struct {
	db *database.DB
}

// NewUserCacheRepository creates a new user cache repository
func NewUserCacheRepository(db *database.DB) *UserCacheRepository {
	return &UserCacheRepository{db: db}
}

// Upsert inserts or refreshes a cached user
func (r *UserCacheRepository) Upsert(ctx context.Context, user *CachedUser) error {
	query := `
		INSERT INTO user_cache (id, display_name, email, department_id, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    email = EXCLUDED.email,
		    department_id = EXCLUDED.department_id,
		    is_active = EXCLUDED.is_active,
		    updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.DisplayName, user.Email, user.DepartmentID, user.IsActive)
	return err
}

// Deactivate marks a cached user inactive. Rows are never deleted so
// historical audit entries keep resolving.
func (r *UserCacheRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_cache SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// GetByID looks up a cached user. Returns nil when the id is unknown.
func (r *UserCacheRepository) GetByID(ctx context.Context, id string) (*CachedUser, error) {
	var user CachedUser
	query := `
		SELECT id, display_name, email, department_id, is_active, updated_at
		FROM user_cache
		WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
