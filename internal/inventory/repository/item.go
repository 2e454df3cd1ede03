package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/errors"
)

// Item lifecycle states. An explicit state rather than a boolean so
// further states can be added without redefining the flag's meaning.
const (
	LifecycleActive   = "active"
	LifecycleInactive = "inactive"
)

// Item is a catalog entry for a consumable
type Item struct {
	ID              string              `db:"id" json:"id"`
	Code            string              `db:"code" json:"code"`
	Name            string              `db:"name" json:"name"`
	Description     *string             `db:"description" json:"description,omitempty"`
	Category        string              `db:"category" json:"category"`
	Unit            string              `db:"unit" json:"unit"`
	DefaultVendor   *string             `db:"default_vendor" json:"default_vendor,omitempty"`
	UnitCost        decimal.NullDecimal `db:"unit_cost" json:"unit_cost,omitempty"`
	ReorderPoint    int                 `db:"reorder_point" json:"reorder_point,omitempty"`
	ReorderQuantity int                 `db:"reorder_quantity" json:"reorder_quantity,omitempty"`
	MinStock        int                 `db:"min_stock" json:"min_stock"`
	MaxStock        int                 `db:"max_stock" json:"max_stock,omitempty"`
	Lifecycle       string              `db:"lifecycle" json:"lifecycle"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the item may appear on new documents.
func (i *Item) IsActive() bool {
	return i.Lifecycle == LifecycleActive
}

// ItemRepository handles item persistence
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, code, name, description, category, unit, default_vendor,
	       unit_cost, reorder_point, reorder_quantity, min_stock, max_stock,
	       lifecycle, created_at, updated_at`

// Create creates a new item
func (r *ItemRepository) Create(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Lifecycle == "" {
		item.Lifecycle = LifecycleActive
	}

	query := `
		INSERT INTO items (
			id, code, name, description, category, unit, default_vendor,
			unit_cost, reorder_point, reorder_quantity, min_stock, max_stock, lifecycle
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		item.ID, item.Code, item.Name, item.Description, item.Category, item.Unit,
		item.DefaultVendor, item.UnitCost, item.ReorderPoint, item.ReorderQuantity,
		item.MinStock, item.MaxStock, item.Lifecycle,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets an item by ID
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*Item, error) {
	var item Item
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("item")
		}
		return nil, err
	}
	return &item, nil
}

// GetByCode gets an item by its unique code
func (r *ItemRepository) GetByCode(ctx context.Context, code string) (*Item, error) {
	var item Item
	query := `SELECT ` + itemColumns + ` FROM items WHERE code = $1`
	if err := r.db.GetContext(ctx, &item, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("item")
		}
		return nil, err
	}
	return &item, nil
}

// List lists items with pagination
func (r *ItemRepository) List(ctx context.Context, page, perPage int, category string) ([]*Item, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM items`
	args := []interface{}{}

	if category != "" {
		countQuery += ` WHERE category = $1`
		args = append(args, category)
	}

	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := `SELECT ` + itemColumns + ` FROM items`
	if category != "" {
		query += ` WHERE category = $1 ORDER BY code LIMIT $2 OFFSET $3`
		args = append(args, perPage, offset)
	} else {
		query += ` ORDER BY code LIMIT $1 OFFSET $2`
		args = append(args, perPage, offset)
	}

	var items []*Item
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// CountActive counts items in the active lifecycle state
func (r *ItemRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM items WHERE lifecycle = $1`, LifecycleActive)
	return count, err
}

// CountLowStock counts active items whose on-hand total has fallen to or
// below their reorder point
func (r *ItemRepository) CountLowStock(ctx context.Context) (int64, error) {
	var count int64
	query := `
		SELECT COUNT(*)
		FROM items i
		WHERE i.lifecycle = $1
		  AND i.reorder_point > 0
		  AND COALESCE((SELECT SUM(s.quantity) FROM stock_records s WHERE s.item_id = i.id), 0) <= i.reorder_point
	`
	err := r.db.GetContext(ctx, &count, query, LifecycleActive)
	return count, err
}

// Update updates an item
func (r *ItemRepository) Update(ctx context.Context, item *Item) error {
	query := `
		UPDATE items SET
			code = $2, name = $3, description = $4, category = $5, unit = $6,
			default_vendor = $7, unit_cost = $8, reorder_point = $9,
			reorder_quantity = $10, min_stock = $11, max_stock = $12,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		item.ID, item.Code, item.Name, item.Description, item.Category, item.Unit,
		item.DefaultVendor, item.UnitCost, item.ReorderPoint, item.ReorderQuantity,
		item.MinStock, item.MaxStock,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("item")
	}

	return nil
}

// SetLifecycle moves an item between lifecycle states. Items referenced
// by stock or documents are deactivated, never hard deleted.
func (r *ItemRepository) SetLifecycle(ctx context.Context, id, lifecycle string) error {
	query := `UPDATE items SET lifecycle = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, lifecycle)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("item")
	}

	return nil
}
