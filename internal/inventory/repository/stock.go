package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/errors"
)

// Adjustment modes
type AdjustMode string

const (
	AdjustAdd    AdjustMode = "add"
	AdjustRemove AdjustMode = "remove"
	AdjustSet    AdjustMode = "set"
)

// Movement types recorded in the history
const (
	MovementAdjust      = "adjust"
	MovementTransferOut = "transfer_out"
	MovementTransferIn  = "transfer_in"
	MovementIssue       = "issue"
	MovementReceive     = "receive"
)

// StockRecord is the ledger row: quantity and value for one
// (item, location, batch) cell. A missing row reads as zero stock.
type StockRecord struct {
	ID          string              `db:"id" json:"id"`
	ItemID      string              `db:"item_id" json:"item_id"`
	LocationID  string              `db:"location_id" json:"location_id"`
	BatchNumber *string             `db:"batch_number" json:"batch_number,omitempty"`
	Quantity    int                 `db:"quantity" json:"quantity"`
	UnitCost    decimal.NullDecimal `db:"unit_cost" json:"unit_cost,omitempty"`
	TotalValue  decimal.Decimal     `db:"total_value" json:"total_value"`
	ExpiryDate  *time.Time          `db:"expiry_date" json:"expiry_date,omitempty"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time           `db:"updated_at" json:"updated_at"`
}

// StockMovement is the history row written alongside every mutation
type StockMovement struct {
	ID               string    `db:"id" json:"id"`
	ItemID           string    `db:"item_id" json:"item_id"`
	LocationID       string    `db:"location_id" json:"location_id"`
	BatchNumber      *string   `db:"batch_number" json:"batch_number,omitempty"`
	MovementType     string    `db:"movement_type" json:"movement_type"`
	Quantity         int       `db:"quantity" json:"quantity"`
	PreviousQuantity int       `db:"previous_quantity" json:"previous_quantity"`
	NewQuantity      int       `db:"new_quantity" json:"new_quantity"`
	Reason           *string   `db:"reason" json:"reason,omitempty"`
	ReferenceID      *string   `db:"reference_id" json:"reference_id,omitempty"`
	PerformedBy      string    `db:"performed_by" json:"performed_by"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// AdjustParams describes a single-cell stock adjustment
type AdjustParams struct {
	ItemID      string
	LocationID  string
	BatchNumber *string
	Mode        AdjustMode
	Delta       int
	UnitCost    *decimal.Decimal
	ExpiryDate  *time.Time
	Reason      *string
	PerformedBy string
}

// StockLine addresses a quantity of one item at one location
type StockLine struct {
	ItemID      string
	LocationID  string
	BatchNumber *string
	Quantity    int
	UnitCost    *decimal.Decimal
	ExpiryDate  *time.Time
}

// StockRepository owns all StockRecord state. Every mutation runs in a
// single transaction and re-reads the current quantity under a row lock,
// so concurrent adjustments to the same cell serialize instead of losing
// updates.
type StockRepository struct {
	db *database.DB
}

// NewStockRepository creates a new stock repository
func NewStockRepository(db *database.DB) *StockRepository {
	return &StockRepository{db: db}
}

const stockColumns = `id, item_id, location_id, batch_number, quantity, unit_cost,
	       total_value, expiry_date, created_at, updated_at`

// lockRecord re-reads one cell under FOR UPDATE. Returns nil when no row
// exists (zero stock).
func (r *StockRepository) lockRecord(tx *sqlx.Tx, itemID, locationID string, batch *string) (*StockRecord, error) {
	var rec StockRecord
	query := `
		SELECT ` + stockColumns + `
		FROM stock_records
		WHERE item_id = $1 AND location_id = $2 AND batch_number IS NOT DISTINCT FROM $3
		FOR UPDATE
	`
	if err := tx.Get(&rec, query, itemID, locationID, batch); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func totalValue(quantity int, cost decimal.NullDecimal) decimal.Decimal {
	if !cost.Valid {
		return decimal.Zero
	}
	return cost.Decimal.Mul(decimal.NewFromInt(int64(quantity)))
}

func (r *StockRepository) insertRecord(tx *sqlx.Tx, rec *StockRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.TotalValue = totalValue(rec.Quantity, rec.UnitCost)

	query := `
		INSERT INTO stock_records (id, item_id, location_id, batch_number, quantity, unit_cost, total_value, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	return tx.QueryRowx(query,
		rec.ID, rec.ItemID, rec.LocationID, rec.BatchNumber,
		rec.Quantity, rec.UnitCost, rec.TotalValue, rec.ExpiryDate,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (r *StockRepository) updateRecord(tx *sqlx.Tx, rec *StockRecord) error {
	rec.TotalValue = totalValue(rec.Quantity, rec.UnitCost)

	query := `
		UPDATE stock_records
		SET quantity = $2, unit_cost = $3, total_value = $4, expiry_date = $5, updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.Exec(query, rec.ID, rec.Quantity, rec.UnitCost, rec.TotalValue, rec.ExpiryDate)
	return err
}

func (r *StockRepository) insertMovement(tx *sqlx.Tx, m *StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_movements (id, item_id, location_id, batch_number, movement_type,
			quantity, previous_quantity, new_quantity, reason, reference_id, performed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`
	return tx.QueryRowx(query,
		m.ID, m.ItemID, m.LocationID, m.BatchNumber, m.MovementType,
		m.Quantity, m.PreviousQuantity, m.NewQuantity, m.Reason, m.ReferenceID, m.PerformedBy,
	).Scan(&m.CreatedAt)
}

// Adjust applies an add/remove/set adjustment to one cell inside a
// single transaction. Remove below zero fails with InsufficientStock and
// leaves the cell untouched; a missing record is only created for add
// and set.
func (r *StockRepository) Adjust(ctx context.Context, params AdjustParams) (*StockMovement, error) {
	if params.Delta < 0 {
		return nil, errors.Validation(map[string]string{"delta": "must not be negative"})
	}

	var movement *StockMovement
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		rec, err := r.lockRecord(tx, params.ItemID, params.LocationID, params.BatchNumber)
		if err != nil {
			return err
		}

		previous := 0
		if rec != nil {
			previous = rec.Quantity
		}

		var newQty int
		switch params.Mode {
		case AdjustAdd:
			newQty = previous + params.Delta
		case AdjustRemove:
			newQty = previous - params.Delta
			if newQty < 0 {
				return errors.InsufficientStock(map[string]string{
					params.ItemID: fmt.Sprintf("requested %d, available %d", params.Delta, previous),
				})
			}
		case AdjustSet:
			newQty = params.Delta
		default:
			return errors.Validation(map[string]string{"mode": "must be one of: add, remove, set"})
		}

		if rec == nil {
			if params.Mode == AdjustRemove {
				return errors.InsufficientStock(map[string]string{
					params.ItemID: fmt.Sprintf("requested %d, available 0", params.Delta),
				})
			}
			rec = &StockRecord{
				ItemID:      params.ItemID,
				LocationID:  params.LocationID,
				BatchNumber: params.BatchNumber,
				Quantity:    newQty,
				ExpiryDate:  params.ExpiryDate,
			}
			if params.UnitCost != nil {
				rec.UnitCost = decimal.NullDecimal{Decimal: *params.UnitCost, Valid: true}
			}
			if err := r.insertRecord(tx, rec); err != nil {
				return err
			}
		} else {
			rec.Quantity = newQty
			if params.UnitCost != nil {
				rec.UnitCost = decimal.NullDecimal{Decimal: *params.UnitCost, Valid: true}
			}
			if params.ExpiryDate != nil {
				rec.ExpiryDate = params.ExpiryDate
			}
			if err := r.updateRecord(tx, rec); err != nil {
				return err
			}
		}

		movement = &StockMovement{
			ItemID:           params.ItemID,
			LocationID:       params.LocationID,
			BatchNumber:      params.BatchNumber,
			MovementType:     MovementAdjust,
			Quantity:         params.Delta,
			PreviousQuantity: previous,
			NewQuantity:      newQty,
			Reason:           params.Reason,
			PerformedBy:      params.PerformedBy,
		}
		return r.insertMovement(tx, movement)
	})
	if err != nil {
		return nil, err
	}

	return movement, nil
}

// Transfer moves quantity between two locations atomically: the source
// decrement and destination increment commit together or not at all.
// Unit cost and expiry metadata carry forward to the destination.
func (r *StockRepository) Transfer(ctx context.Context, itemID, fromLocation, toLocation string, batch *string, quantity int, performedBy string) error {
	if quantity <= 0 {
		return errors.Validation(map[string]string{"quantity": "must be greater than 0"})
	}
	if fromLocation == toLocation {
		return errors.Validation(map[string]string{"to_location_id": "must differ from source location"})
	}

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		// Lock order follows location id so two opposing transfers
		// cannot deadlock.
		first, second := fromLocation, toLocation
		if second < first {
			first, second = second, first
		}

		locked := map[string]*StockRecord{}
		for _, loc := range []string{first, second} {
			rec, err := r.lockRecord(tx, itemID, loc, batch)
			if err != nil {
				return err
			}
			locked[loc] = rec
		}

		source := locked[fromLocation]
		available := 0
		if source != nil {
			available = source.Quantity
		}
		if available < quantity {
			return errors.InsufficientStock(map[string]string{
				itemID: fmt.Sprintf("requested %d, available %d at source", quantity, available),
			})
		}

		source.Quantity -= quantity
		if err := r.updateRecord(tx, source); err != nil {
			return err
		}

		dest := locked[toLocation]
		if dest == nil {
			dest = &StockRecord{
				ItemID:      itemID,
				LocationID:  toLocation,
				BatchNumber: batch,
				Quantity:    quantity,
				UnitCost:    source.UnitCost,
				ExpiryDate:  source.ExpiryDate,
			}
			if err := r.insertRecord(tx, dest); err != nil {
				return err
			}
		} else {
			dest.Quantity += quantity
			if !dest.UnitCost.Valid {
				dest.UnitCost = source.UnitCost
			}
			if dest.ExpiryDate == nil {
				dest.ExpiryDate = source.ExpiryDate
			}
			if err := r.updateRecord(tx, dest); err != nil {
				return err
			}
		}

		out := &StockMovement{
			ItemID:           itemID,
			LocationID:       fromLocation,
			BatchNumber:      batch,
			MovementType:     MovementTransferOut,
			Quantity:         quantity,
			PreviousQuantity: available,
			NewQuantity:      source.Quantity,
			PerformedBy:      performedBy,
		}
		if err := r.insertMovement(tx, out); err != nil {
			return err
		}

		in := &StockMovement{
			ItemID:           itemID,
			LocationID:       toLocation,
			BatchNumber:      batch,
			MovementType:     MovementTransferIn,
			Quantity:         quantity,
			PreviousQuantity: dest.Quantity - quantity,
			NewQuantity:      dest.Quantity,
			PerformedBy:      performedBy,
		}
		return r.insertMovement(tx, in)
	})
}

// IssueStock decrements stock for every line, all-or-nothing. When any
// line is short the whole transaction rolls back and the error details
// identify every short line, not just the first.
func (r *StockRepository) IssueStock(ctx context.Context, lines []StockLine, referenceID *string, performedBy string) error {
	if len(lines) == 0 {
		return errors.Validation(map[string]string{"items": "at least one line is required"})
	}

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return r.IssueStockTx(tx, lines, referenceID, performedBy)
	})
}

// IssueStockTx is IssueStock inside an existing transaction, so callers
// can commit the decrement together with their own rows.
func (r *StockRepository) IssueStockTx(tx *sqlx.Tx, lines []StockLine, referenceID *string, performedBy string) error {
	type pending struct {
		rec  *StockRecord
		line StockLine
	}

	short := map[string]string{}
	var updates []pending

	for _, line := range lines {
		rec, err := r.lockRecord(tx, line.ItemID, line.LocationID, line.BatchNumber)
		if err != nil {
			return err
		}

		available := 0
		if rec != nil {
			available = rec.Quantity
		}
		if available < line.Quantity {
			short[line.ItemID] = fmt.Sprintf("requested %d, available %d", line.Quantity, available)
			continue
		}
		updates = append(updates, pending{rec: rec, line: line})
	}

	if len(short) > 0 {
		return errors.InsufficientStock(short)
	}

	for _, p := range updates {
		previous := p.rec.Quantity
		p.rec.Quantity -= p.line.Quantity
		if err := r.updateRecord(tx, p.rec); err != nil {
			return err
		}

		m := &StockMovement{
			ItemID:           p.line.ItemID,
			LocationID:       p.line.LocationID,
			BatchNumber:      p.line.BatchNumber,
			MovementType:     MovementIssue,
			Quantity:         p.line.Quantity,
			PreviousQuantity: previous,
			NewQuantity:      p.rec.Quantity,
			ReferenceID:      referenceID,
			PerformedBy:      performedBy,
		}
		if err := r.insertMovement(tx, m); err != nil {
			return err
		}
	}

	return nil
}

// Receive adds quantity back at a location, creating records as needed.
// Used by return completion.
func (r *StockRepository) Receive(ctx context.Context, lines []StockLine, locationID string, referenceID *string, performedBy string) error {
	if len(lines) == 0 {
		return errors.Validation(map[string]string{"items": "at least one line is required"})
	}

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return r.ReceiveTx(tx, lines, locationID, referenceID, performedBy)
	})
}

// ReceiveTx is Receive inside an existing transaction.
func (r *StockRepository) ReceiveTx(tx *sqlx.Tx, lines []StockLine, locationID string, referenceID *string, performedBy string) error {
	for _, line := range lines {
		rec, err := r.lockRecord(tx, line.ItemID, locationID, line.BatchNumber)
		if err != nil {
			return err
		}

		previous := 0
		if rec == nil {
			rec = &StockRecord{
				ItemID:      line.ItemID,
				LocationID:  locationID,
				BatchNumber: line.BatchNumber,
				Quantity:    line.Quantity,
				ExpiryDate:  line.ExpiryDate,
			}
			if line.UnitCost != nil {
				rec.UnitCost = decimal.NullDecimal{Decimal: *line.UnitCost, Valid: true}
			}
			if err := r.insertRecord(tx, rec); err != nil {
				return err
			}
		} else {
			previous = rec.Quantity
			rec.Quantity += line.Quantity
			if line.UnitCost != nil {
				rec.UnitCost = decimal.NullDecimal{Decimal: *line.UnitCost, Valid: true}
			}
			if err := r.updateRecord(tx, rec); err != nil {
				return err
			}
		}

		m := &StockMovement{
			ItemID:           line.ItemID,
			LocationID:       locationID,
			BatchNumber:      line.BatchNumber,
			MovementType:     MovementReceive,
			Quantity:         line.Quantity,
			PreviousQuantity: previous,
			NewQuantity:      rec.Quantity,
			ReferenceID:      referenceID,
			PerformedBy:      performedBy,
		}
		if err := r.insertMovement(tx, m); err != nil {
			return err
		}
	}

	return nil
}

// GetRecord reads one cell without locking. A missing row is zero stock,
// not an error.
func (r *StockRepository) GetRecord(ctx context.Context, itemID, locationID string, batch *string) (*StockRecord, error) {
	var rec StockRecord
	query := `
		SELECT ` + stockColumns + `
		FROM stock_records
		WHERE item_id = $1 AND location_id = $2 AND batch_number IS NOT DISTINCT FROM $3
	`
	if err := r.db.GetContext(ctx, &rec, query, itemID, locationID, batch); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// TotalQuantity sums an item's quantity across all locations and batches
func (r *StockRepository) TotalQuantity(ctx context.Context, itemID string) (int, error) {
	var total sql.NullInt64
	query := `SELECT SUM(quantity) FROM stock_records WHERE item_id = $1`
	if err := r.db.GetContext(ctx, &total, query, itemID); err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return int(total.Int64), nil
}

// ListByLocation lists all records at a location
func (r *StockRepository) ListByLocation(ctx context.Context, locationID string) ([]*StockRecord, error) {
	var recs []*StockRecord
	query := `
		SELECT ` + stockColumns + `
		FROM stock_records
		WHERE location_id = $1
		ORDER BY item_id, batch_number
	`
	if err := r.db.SelectContext(ctx, &recs, query, locationID); err != nil {
		return nil, err
	}
	return recs, nil
}

// ListByItem lists all records for an item across locations
func (r *StockRepository) ListByItem(ctx context.Context, itemID string) ([]*StockRecord, error) {
	var recs []*StockRecord
	query := `
		SELECT ` + stockColumns + `
		FROM stock_records
		WHERE item_id = $1
		ORDER BY location_id, batch_number
	`
	if err := r.db.SelectContext(ctx, &recs, query, itemID); err != nil {
		return nil, err
	}
	return recs, nil
}

// ListMovements lists movement history for an item with pagination
func (r *StockRepository) ListMovements(ctx context.Context, itemID string, page, perPage int) ([]*StockMovement, int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM stock_movements WHERE item_id = $1`, itemID); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	var movements []*StockMovement
	query := `
		SELECT id, item_id, location_id, batch_number, movement_type, quantity,
		       previous_quantity, new_quantity, reason, reference_id, performed_by, created_at
		FROM stock_movements
		WHERE item_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &movements, query, itemID, perPage, offset); err != nil {
		return nil, 0, err
	}

	return movements, total, nil
}
