package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/errors"
)

// Location is a storage point for stock
type Location struct {
	ID           string    `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Name         string    `db:"name" json:"name"`
	Type         string    `db:"type" json:"type"`
	DepartmentID *string   `db:"department_id" json:"department_id,omitempty"`
	Capacity     *int      `db:"capacity" json:"capacity,omitempty"`
	Lifecycle    string    `db:"lifecycle" json:"lifecycle"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// LocationRepository handles location persistence
type LocationRepository struct {
	db *database.DB
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db *database.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

const locationColumns = `id, code, name, type, department_id, capacity, lifecycle, created_at, updated_at`

// Create creates a new location
func (r *LocationRepository) Create(ctx context.Context, loc *Location) error {
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	if loc.Lifecycle == "" {
		loc.Lifecycle = LifecycleActive
	}

	query := `
		INSERT INTO locations (id, code, name, type, department_id, capacity, lifecycle)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		loc.ID, loc.Code, loc.Name, loc.Type, loc.DepartmentID, loc.Capacity, loc.Lifecycle,
	).Scan(&loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a location by ID
func (r *LocationRepository) GetByID(ctx context.Context, id string) (*Location, error) {
	var loc Location
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = $1`
	if err := r.db.GetContext(ctx, &loc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("location")
		}
		return nil, err
	}
	return &loc, nil
}

// List lists all locations
func (r *LocationRepository) List(ctx context.Context) ([]*Location, error) {
	var locs []*Location
	query := `SELECT ` + locationColumns + ` FROM locations ORDER BY code`
	if err := r.db.SelectContext(ctx, &locs, query); err != nil {
		return nil, err
	}
	return locs, nil
}

// Update updates a location
func (r *LocationRepository) Update(ctx context.Context, loc *Location) error {
	query := `
		UPDATE locations SET
			code = $2, name = $3, type = $4, department_id = $5, capacity = $6,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		loc.ID, loc.Code, loc.Name, loc.Type, loc.DepartmentID, loc.Capacity,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("location")
	}

	return nil
}

// HasStock reports whether any stock record at this location holds
// quantity above zero.
func (r *LocationRepository) HasStock(ctx context.Context, id string) (bool, error) {
	var count int64
	query := `SELECT COUNT(*) FROM stock_records WHERE location_id = $1 AND quantity > 0`
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetLifecycle moves a location between lifecycle states.
func (r *LocationRepository) SetLifecycle(ctx context.Context, id, lifecycle string) error {
	query := `UPDATE locations SET lifecycle = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, lifecycle)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("location")
	}

	return nil
}
