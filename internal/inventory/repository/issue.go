package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/errors"
)

// Issue statuses
const (
	IssueStatusPending        = "pending"
	IssueStatusCompleted      = "completed"
	IssueStatusCancelled      = "cancelled"
	IssueStatusFailedDelivery = "failed_delivery"
)

// Return statuses
const (
	ReturnStatusPending   = "pending"
	ReturnStatusApproved  = "approved"
	ReturnStatusCompleted = "completed"
	ReturnStatusRejected  = "rejected"
)

// Issue records a handover of stock to a recipient. It stays pending
// until the recipient acknowledges receipt.
type Issue struct {
	ID             string     `db:"id" json:"id"`
	IssueNumber    string     `db:"issue_number" json:"issue_number"`
	RequisitionID  *string    `db:"requisition_id" json:"requisition_id,omitempty"`
	IssuedTo       string     `db:"issued_to" json:"issued_to"`
	DepartmentID   *string    `db:"department_id" json:"department_id,omitempty"`
	Status         string     `db:"status" json:"status"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	IssuedBy       string     `db:"issued_by" json:"issued_by"`
	IssuedAt       time.Time  `db:"issued_at" json:"issued_at"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`

	Items []*IssueItem `db:"-" json:"items,omitempty"`
}

// IssueItem is one line of an issue
type IssueItem struct {
	ID          string              `db:"id" json:"id"`
	IssueID     string              `db:"issue_id" json:"issue_id"`
	ItemID      string              `db:"item_id" json:"item_id"`
	LocationID  string              `db:"location_id" json:"location_id"`
	BatchNumber *string             `db:"batch_number" json:"batch_number,omitempty"`
	Quantity    int                 `db:"quantity" json:"quantity"`
	UnitCost    decimal.NullDecimal `db:"unit_cost" json:"unit_cost,omitempty"`
}

// Return records stock coming back from a department. Stock only moves
// when an approved return is received at a location.
type Return struct {
	ID                 string     `db:"id" json:"id"`
	ReturnNumber       string     `db:"return_number" json:"return_number"`
	IssueID            *string    `db:"issue_id" json:"issue_id,omitempty"`
	DepartmentID       *string    `db:"department_id" json:"department_id,omitempty"`
	Status             string     `db:"status" json:"status"`
	Reason             string     `db:"reason" json:"reason"`
	RequestedBy        string     `db:"requested_by" json:"requested_by"`
	ReviewedBy         *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReceivedLocationID *string    `db:"received_location_id" json:"received_location_id,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`

	Items []*ReturnItem `db:"-" json:"items,omitempty"`
}

// ReturnItem is one line of a return
type ReturnItem struct {
	ID          string  `db:"id" json:"id"`
	ReturnID    string  `db:"return_id" json:"return_id"`
	ItemID      string  `db:"item_id" json:"item_id"`
	BatchNumber *string `db:"batch_number" json:"batch_number,omitempty"`
	Quantity    int     `db:"quantity" json:"quantity"`
}

// IssueRepository handles issue and return persistence
type IssueRepository struct {
	db *database.DB
}

// NewIssueRepository creates a new issue repository
func NewIssueRepository(db *database.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

const issueColumns = `id, issue_number, requisition_id, issued_to, department_id, status,
	       notes, issued_by, issued_at, acknowledged_at, created_at, updated_at`

// CreateTx inserts an issue header and its lines inside an existing
// transaction, so the ledger decrement commits with them.
func (r *IssueRepository) CreateTx(tx *sqlx.Tx, issue *Issue) error {
	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	if issue.Status == "" {
		issue.Status = IssueStatusPending
	}

	query := `
		INSERT INTO issues (id, issue_number, requisition_id, issued_to, department_id, status, notes, issued_by, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRowx(query,
		issue.ID, issue.IssueNumber, issue.RequisitionID, issue.IssuedTo,
		issue.DepartmentID, issue.Status, issue.Notes, issue.IssuedBy, issue.IssuedAt,
	).Scan(&issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return database.MapPQError(err)
	}

	for _, item := range issue.Items {
		item.ID = uuid.New().String()
		item.IssueID = issue.ID
		_, err := tx.Exec(`
			INSERT INTO issue_items (id, issue_id, item_id, location_id, batch_number, quantity, unit_cost)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.IssueID, item.ItemID, item.LocationID, item.BatchNumber, item.Quantity, item.UnitCost)
		if err != nil {
			return database.MapPQError(err)
		}
	}

	return nil
}

// GetByID retrieves an issue with its lines
func (r *IssueRepository) GetByID(ctx context.Context, id string) (*Issue, error) {
	var issue Issue
	query := `SELECT ` + issueColumns + ` FROM issues WHERE id = $1`
	if err := r.db.GetContext(ctx, &issue, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("issue")
		}
		return nil, err
	}

	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	issue.Items = items

	return &issue, nil
}

func (r *IssueRepository) listItems(ctx context.Context, issueID string) ([]*IssueItem, error) {
	var items []*IssueItem
	query := `
		SELECT id, issue_id, item_id, location_id, batch_number, quantity, unit_cost
		FROM issue_items
		WHERE issue_id = $1
		ORDER BY item_id
	`
	if err := r.db.SelectContext(ctx, &items, query, issueID); err != nil {
		return nil, err
	}
	return items, nil
}

// List retrieves issues with pagination, optionally filtered by status
// and department
func (r *IssueRepository) List(ctx context.Context, page, perPage int, status, departmentID string) ([]*Issue, int64, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if status != "" {
		where += " AND status = $" + strconv.Itoa(argPos)
		args = append(args, status)
		argPos++
	}
	if departmentID != "" {
		where += " AND department_id = $" + strconv.Itoa(argPos)
		args = append(args, departmentID)
		argPos++
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM issues "+where, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := `SELECT ` + issueColumns + ` FROM issues ` + where +
		` ORDER BY issued_at DESC LIMIT $` + strconv.Itoa(argPos) + ` OFFSET $` + strconv.Itoa(argPos+1)
	args = append(args, perPage, offset)

	var issues []*Issue
	if err := r.db.SelectContext(ctx, &issues, query, args...); err != nil {
		return nil, 0, err
	}

	return issues, total, nil
}

// UpdateStatus moves an issue out of pending. Acknowledgement time is
// recorded when the recipient confirms receipt. The update carries a
// status predicate, so two concurrent acknowledgements cannot both
// land.
func (r *IssueRepository) UpdateStatus(ctx context.Context, id, status string, acknowledgedAt *time.Time) error {
	query := `
		UPDATE issues
		SET status = $2, acknowledged_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, id, status, acknowledgedAt, IssueStatusPending)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.Conflict("issue is no longer pending")
	}

	return nil
}

// CountByStatus counts issues in a status, for dashboard stats
func (r *IssueRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM issues WHERE status = $1`, status)
	return count, err
}

// CreateReturn inserts a return request and its lines
func (r *IssueRepository) CreateReturn(ctx context.Context, ret *Return) error {
	if ret.ID == "" {
		ret.ID = uuid.New().String()
	}
	ret.Status = ReturnStatusPending

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO returns (id, return_number, issue_id, department_id, status, reason, requested_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`
		err := tx.QueryRowx(query,
			ret.ID, ret.ReturnNumber, ret.IssueID, ret.DepartmentID,
			ret.Status, ret.Reason, ret.RequestedBy,
		).Scan(&ret.CreatedAt, &ret.UpdatedAt)
		if err != nil {
			return database.MapPQError(err)
		}

		for _, item := range ret.Items {
			item.ID = uuid.New().String()
			item.ReturnID = ret.ID
			_, err := tx.Exec(`
				INSERT INTO return_items (id, return_id, item_id, batch_number, quantity)
				VALUES ($1, $2, $3, $4, $5)
			`, item.ID, item.ReturnID, item.ItemID, item.BatchNumber, item.Quantity)
			if err != nil {
				return database.MapPQError(err)
			}
		}

		return nil
	})
}

// GetReturnByID retrieves a return with its lines
func (r *IssueRepository) GetReturnByID(ctx context.Context, id string) (*Return, error) {
	var ret Return
	query := `
		SELECT id, return_number, issue_id, department_id, status, reason, requested_by,
		       reviewed_by, reviewed_at, received_location_id, created_at, updated_at
		FROM returns
		WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &ret, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("return")
		}
		return nil, err
	}

	var items []*ReturnItem
	itemQuery := `
		SELECT id, return_id, item_id, batch_number, quantity
		FROM return_items
		WHERE return_id = $1
		ORDER BY item_id
	`
	if err := r.db.SelectContext(ctx, &items, itemQuery, id); err != nil {
		return nil, err
	}
	ret.Items = items

	return &ret, nil
}

// ListReturns retrieves returns with pagination, optionally filtered by
// status and department
func (r *IssueRepository) ListReturns(ctx context.Context, page, perPage int, status, departmentID string) ([]*Return, int64, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if status != "" {
		where += " AND status = $" + strconv.Itoa(argPos)
		args = append(args, status)
		argPos++
	}
	if departmentID != "" {
		where += " AND department_id = $" + strconv.Itoa(argPos)
		args = append(args, departmentID)
		argPos++
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM returns "+where, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := `
		SELECT id, return_number, issue_id, department_id, status, reason, requested_by,
		       reviewed_by, reviewed_at, received_location_id, created_at, updated_at
		FROM returns ` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(argPos) + ` OFFSET $` + strconv.Itoa(argPos+1)
	args = append(args, perPage, offset)

	var returns []*Return
	if err := r.db.SelectContext(ctx, &returns, query, args...); err != nil {
		return nil, 0, err
	}

	return returns, total, nil
}

// ReviewReturn records an approve/reject decision. Only a still-pending
// return accepts a decision; a lost race surfaces as Conflict.
func (r *IssueRepository) ReviewReturn(ctx context.Context, id, status, reviewedBy string, reviewedAt time.Time) error {
	query := `
		UPDATE returns
		SET status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query, id, status, reviewedBy, reviewedAt, ReturnStatusPending)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.Conflict("return is no longer pending")
	}

	return nil
}

// CompleteReturnTx marks an approved return completed inside an existing
// transaction, recording the receiving location. The status predicate
// makes a second receipt of the same return miss, rolling back that
// caller's stock addition with it.
func (r *IssueRepository) CompleteReturnTx(tx *sqlx.Tx, id, locationID string) error {
	query := `
		UPDATE returns
		SET status = $2, received_location_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := tx.Exec(query, id, ReturnStatusCompleted, locationID, ReturnStatusApproved)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.Conflict("return is not approved")
	}

	return nil
}
