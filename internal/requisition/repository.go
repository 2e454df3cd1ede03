package requisition

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/errors"
)

// Repository handles requisition persistence
type Repository struct {
	db *database.DB
}

// NewRepository creates a new requisition repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

const requisitionColumns = `id, requisition_number, department_id, requester_id, status, purpose,
	       urgency, comments, total_estimated_cost, fiscal_year, requires_l2,
	       l1_approver_id, l2_approver_id, budget_reserved,
	       submitted_at, l1_approved_by, l1_approved_at, l2_approved_by, l2_approved_at,
	       rejected_by, rejected_at, rejection_reason, cancelled_at, issued_at, completed_at,
	       created_at, updated_at`

// Create inserts a draft requisition with its lines
func (r *Repository) Create(ctx context.Context, req *Requisition) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.Status = StatusDraft
	req.TotalEstimatedCost = req.EstimatedTotal()

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO requisitions (id, requisition_number, department_id, requester_id, status,
				purpose, urgency, comments, total_estimated_cost, fiscal_year, requires_l2,
				l1_approver_id, l2_approver_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING created_at, updated_at
		`
		err := tx.QueryRowx(query,
			req.ID, req.RequisitionNumber, req.DepartmentID, req.RequesterID, req.Status,
			req.Purpose, req.Urgency, req.Comments, req.TotalEstimatedCost,
			req.FiscalYear, req.RequiresL2, req.L1ApproverID, req.L2ApproverID,
		).Scan(&req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return database.MapPQError(err)
		}

		return r.insertItems(tx, req)
	})
}

func (r *Repository) insertItems(tx *sqlx.Tx, req *Requisition) error {
	for _, item := range req.Items {
		item.ID = uuid.New().String()
		item.RequisitionID = req.ID
		_, err := tx.Exec(`
			INSERT INTO requisition_items (id, requisition_id, item_id, quantity, estimated_unit_cost, notes)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, item.RequisitionID, item.ItemID, item.Quantity, item.EstimatedUnitCost, item.Notes)
		if err != nil {
			return database.MapPQError(err)
		}
	}
	return nil
}

// GetByID retrieves a requisition with its lines
func (r *Repository) GetByID(ctx context.Context, id string) (*Requisition, error) {
	var req Requisition
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE id = $1`
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("requisition")
		}
		return nil, err
	}

	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Items = items

	return &req, nil
}

// GetForUpdateTx re-reads a requisition under a row lock inside an
// existing transaction. Workflow decisions are made against this copy.
func (r *Repository) GetForUpdateTx(tx *sqlx.Tx, id string) (*Requisition, error) {
	var req Requisition
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE id = $1 FOR UPDATE`
	if err := tx.Get(&req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("requisition")
		}
		return nil, err
	}

	var items []*Item
	itemQuery := `
		SELECT id, requisition_id, item_id, quantity, estimated_unit_cost, notes
		FROM requisition_items
		WHERE requisition_id = $1
		ORDER BY item_id
	`
	if err := tx.Select(&items, itemQuery, id); err != nil {
		return nil, err
	}
	req.Items = items

	return &req, nil
}

func (r *Repository) listItems(ctx context.Context, requisitionID string) ([]*Item, error) {
	var items []*Item
	query := `
		SELECT id, requisition_id, item_id, quantity, estimated_unit_cost, notes
		FROM requisition_items
		WHERE requisition_id = $1
		ORDER BY item_id
	`
	if err := r.db.SelectContext(ctx, &items, query, requisitionID); err != nil {
		return nil, err
	}
	return items, nil
}

// ListFilter contains filter options for requisitions
type ListFilter struct {
	DepartmentID string
	RequesterID  string
	Status       string
	Urgency      string
}

// List retrieves requisitions with pagination and filtering, newest
// first
func (r *Repository) List(ctx context.Context, filter *ListFilter, page, perPage int) ([]*Requisition, int64, error) {
	args := []interface{}{}
	argPos := 1

	where := " WHERE 1=1"
	if filter != nil {
		if filter.DepartmentID != "" {
			where += " AND department_id = $" + strconv.Itoa(argPos)
			args = append(args, filter.DepartmentID)
			argPos++
		}
		if filter.RequesterID != "" {
			where += " AND requester_id = $" + strconv.Itoa(argPos)
			args = append(args, filter.RequesterID)
			argPos++
		}
		if filter.Status != "" {
			where += " AND status = $" + strconv.Itoa(argPos)
			args = append(args, filter.Status)
			argPos++
		}
		if filter.Urgency != "" {
			where += " AND urgency = $" + strconv.Itoa(argPos)
			args = append(args, filter.Urgency)
			argPos++
		}
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM requisitions"+where, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := `SELECT ` + requisitionColumns + ` FROM requisitions` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(argPos) + ` OFFSET $` + strconv.Itoa(argPos+1)
	args = append(args, perPage, offset)

	var reqs []*Requisition
	if err := r.db.SelectContext(ctx, &reqs, query, args...); err != nil {
		return nil, 0, err
	}

	return reqs, total, nil
}

// UpdateDraft rewrites a draft's editable fields and replaces its lines
func (r *Repository) UpdateDraft(ctx context.Context, req *Requisition) error {
	req.TotalEstimatedCost = req.EstimatedTotal()

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE requisitions
			SET purpose = $2, urgency = $3, comments = $4, total_estimated_cost = $5,
			    requires_l2 = $6, l1_approver_id = $7, l2_approver_id = $8, updated_at = NOW()
			WHERE id = $1 AND status = $9
		`
		result, err := tx.Exec(query,
			req.ID, req.Purpose, req.Urgency, req.Comments,
			req.TotalEstimatedCost, req.RequiresL2, req.L1ApproverID, req.L2ApproverID, StatusDraft)
		if err != nil {
			return err
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return errors.Conflict("requisition is no longer a draft")
		}

		if _, err := tx.Exec(`DELETE FROM requisition_items WHERE requisition_id = $1`, req.ID); err != nil {
			return err
		}

		return r.insertItems(tx, req)
	})
}

// SaveWorkflowTx persists the workflow columns after a status
// transition, inside an existing transaction.
func (r *Repository) SaveWorkflowTx(tx *sqlx.Tx, req *Requisition) error {
	query := `
		UPDATE requisitions
		SET status = $2, budget_reserved = $3, submitted_at = $4,
		    l1_approved_by = $5, l1_approved_at = $6,
		    l2_approved_by = $7, l2_approved_at = $8,
		    rejected_by = $9, rejected_at = $10, rejection_reason = $11,
		    cancelled_at = $12, issued_at = $13, completed_at = $14,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.Exec(query,
		req.ID, req.Status, req.BudgetReserved, req.SubmittedAt,
		req.L1ApprovedBy, req.L1ApprovedAt,
		req.L2ApprovedBy, req.L2ApprovedAt,
		req.RejectedBy, req.RejectedAt, req.RejectionReason,
		req.CancelledAt, req.IssuedAt, req.CompletedAt,
	)
	return err
}

// CountByStatus counts requisitions in a status, for dashboard stats
func (r *Repository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM requisitions WHERE status = $1`, status)
	return count, err
}
