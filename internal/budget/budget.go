// Package budget tracks department spending limits per fiscal year.
// Amounts move between available, reserved and spent buckets; every
// movement runs under a row lock so concurrent requisitions cannot
// overdraw a budget.
package budget

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/errors"
)

// DepartmentBudget is one department's allocation for a fiscal year
type DepartmentBudget struct {
	ID                string          `db:"id" json:"id"`
	DepartmentID      string          `db:"department_id" json:"department_id"`
	FiscalYear        int             `db:"fiscal_year" json:"fiscal_year"`
	Allocated         decimal.Decimal `db:"allocated" json:"allocated"`
	Available         decimal.Decimal `db:"available" json:"available"`
	Reserved          decimal.Decimal `db:"reserved" json:"reserved"`
	Spent             decimal.Decimal `db:"spent" json:"spent"`
	AlertThresholdPct decimal.Decimal `db:"alert_threshold_pct" json:"alert_threshold_pct"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// UtilizationPercent is booked spend over the allocation. Zero
// allocation reads as zero utilization.
func (b *DepartmentBudget) UtilizationPercent() decimal.Decimal {
	if b.Allocated.IsZero() {
		return decimal.Zero
	}
	return b.Spent.Div(b.Allocated).Mul(decimal.NewFromInt(100)).Round(2)
}

// CommittedPercent includes outstanding reservations on top of booked
// spend. Threshold alerts fire on this figure, so a reservation that
// commits most of the budget warns before anything is spent.
func (b *DepartmentBudget) CommittedPercent() decimal.Decimal {
	if b.Allocated.IsZero() {
		return decimal.Zero
	}
	return b.Spent.Add(b.Reserved).Div(b.Allocated).Mul(decimal.NewFromInt(100)).Round(2)
}

// ThresholdCrossing reports a reservation pushing utilization over the
// alert threshold. Returned once per crossing, not on every movement
// above it.
type ThresholdCrossing struct {
	DepartmentID string
	FiscalYear   int
	Utilization  decimal.Decimal
	Threshold    decimal.Decimal
}

// Tracker owns all budget bucket movements
type Tracker struct {
	db *database.DB
}

// NewTracker creates a new budget tracker
func NewTracker(db *database.DB) *Tracker {
	return &Tracker{db: db}
}

const budgetColumns = `id, department_id, fiscal_year, allocated, available, reserved, spent,
	       alert_threshold_pct, created_at, updated_at`

// Create sets up a department's budget for a fiscal year
func (t *Tracker) Create(ctx context.Context, b *DepartmentBudget) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Allocated.IsNegative() {
		return errors.Validation(map[string]string{"allocated": "must not be negative"})
	}
	b.Available = b.Allocated
	b.Reserved = decimal.Zero
	b.Spent = decimal.Zero

	query := `
		INSERT INTO department_budgets (id, department_id, fiscal_year, allocated, available, reserved, spent, alert_threshold_pct)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := t.db.QueryRowxContext(ctx, query,
		b.ID, b.DepartmentID, b.FiscalYear, b.Allocated, b.Available,
		b.Reserved, b.Spent, b.AlertThresholdPct,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return database.MapPQError(err)
}

// Get reads a budget without locking. Returns nil when no budget exists
// for the department and year.
func (t *Tracker) Get(ctx context.Context, departmentID string, fiscalYear int) (*DepartmentBudget, error) {
	var b DepartmentBudget
	query := `
		SELECT ` + budgetColumns + `
		FROM department_budgets
		WHERE department_id = $1 AND fiscal_year = $2
	`
	if err := t.db.GetContext(ctx, &b, query, departmentID, fiscalYear); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// List reads all budgets for a fiscal year
func (t *Tracker) List(ctx context.Context, fiscalYear int) ([]*DepartmentBudget, error) {
	var budgets []*DepartmentBudget
	query := `
		SELECT ` + budgetColumns + `
		FROM department_budgets
		WHERE fiscal_year = $1
		ORDER BY department_id
	`
	if err := t.db.SelectContext(ctx, &budgets, query, fiscalYear); err != nil {
		return nil, err
	}
	return budgets, nil
}

func (t *Tracker) lock(tx *sqlx.Tx, departmentID string, fiscalYear int) (*DepartmentBudget, error) {
	var b DepartmentBudget
	query := `
		SELECT ` + budgetColumns + `
		FROM department_budgets
		WHERE department_id = $1 AND fiscal_year = $2
		FOR UPDATE
	`
	if err := tx.Get(&b, query, departmentID, fiscalYear); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (t *Tracker) save(tx *sqlx.Tx, b *DepartmentBudget) error {
	query := `
		UPDATE department_budgets
		SET available = $2, reserved = $3, spent = $4, updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.Exec(query, b.ID, b.Available, b.Reserved, b.Spent)
	return err
}

// ReserveTx moves amount from available to reserved inside an existing
// transaction. Insufficient available funds fail with BudgetExceeded and
// leave the row untouched. A department-year with no budget row skips
// the check entirely; callers treat that as unrestricted.
func (t *Tracker) ReserveTx(tx *sqlx.Tx, departmentID string, fiscalYear int, amount decimal.Decimal) (*ThresholdCrossing, error) {
	if amount.IsNegative() {
		return nil, errors.Validation(map[string]string{"amount": "must not be negative"})
	}

	b, err := t.lock(tx, departmentID, fiscalYear)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}

	if amount.GreaterThan(b.Available) {
		return nil, errors.BudgetExceeded(amount.String(), b.Available.String())
	}

	before := b.CommittedPercent()
	b.Available = b.Available.Sub(amount)
	b.Reserved = b.Reserved.Add(amount)
	after := b.CommittedPercent()

	if err := t.save(tx, b); err != nil {
		return nil, err
	}

	if before.LessThan(b.AlertThresholdPct) && after.GreaterThanOrEqual(b.AlertThresholdPct) {
		return &ThresholdCrossing{
			DepartmentID: departmentID,
			FiscalYear:   fiscalYear,
			Utilization:  after,
			Threshold:    b.AlertThresholdPct,
		}, nil
	}

	return nil, nil
}

// ReleaseTx returns a reservation to available, clamped so a release
// never drives the reserved bucket negative.
func (t *Tracker) ReleaseTx(tx *sqlx.Tx, departmentID string, fiscalYear int, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Validation(map[string]string{"amount": "must not be negative"})
	}

	b, err := t.lock(tx, departmentID, fiscalYear)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}

	if amount.GreaterThan(b.Reserved) {
		amount = b.Reserved
	}
	b.Reserved = b.Reserved.Sub(amount)
	b.Available = b.Available.Add(amount)

	return t.save(tx, b)
}

// SpendTx converts a reservation into spend. Amount beyond the current
// reservation draws down available directly, so late price corrections
// still book.
func (t *Tracker) SpendTx(tx *sqlx.Tx, departmentID string, fiscalYear int, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Validation(map[string]string{"amount": "must not be negative"})
	}

	b, err := t.lock(tx, departmentID, fiscalYear)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}

	fromReserved := amount
	if fromReserved.GreaterThan(b.Reserved) {
		fromReserved = b.Reserved
	}
	overflow := amount.Sub(fromReserved)

	b.Reserved = b.Reserved.Sub(fromReserved)
	b.Available = b.Available.Sub(overflow)
	b.Spent = b.Spent.Add(amount)

	return t.save(tx, b)
}

// Reserve runs ReserveTx in its own transaction
func (t *Tracker) Reserve(ctx context.Context, departmentID string, fiscalYear int, amount decimal.Decimal) (*ThresholdCrossing, error) {
	var crossing *ThresholdCrossing
	err := t.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		crossing, err = t.ReserveTx(tx, departmentID, fiscalYear, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return crossing, nil
}

// Release runs ReleaseTx in its own transaction
func (t *Tracker) Release(ctx context.Context, departmentID string, fiscalYear int, amount decimal.Decimal) error {
	return t.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return t.ReleaseTx(tx, departmentID, fiscalYear, amount)
	})
}

// Spend runs SpendTx in its own transaction
func (t *Tracker) Spend(ctx context.Context, departmentID string, fiscalYear int, amount decimal.Decimal) error {
	return t.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return t.SpendTx(tx, departmentID, fiscalYear, amount)
	})
}
