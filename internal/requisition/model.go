// Package requisition implements the departmental requisition workflow:
// drafting, two-level approval, budget reservation and fulfilment.
package requisition

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/pkg/errors"
)

// Requisition statuses
const (
	StatusDraft     = "draft"
	StatusPendingL1 = "pending_l1"
	StatusPendingL2 = "pending_l2"
	StatusApproved  = "approved"
	StatusIssued    = "issued"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
)

// Urgency levels
const (
	UrgencyLow      = "low"
	UrgencyNormal   = "normal"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// transitions is the single source of truth for status changes. Every
// status write goes through Transition; nothing else mutates Status.
var transitions = map[string][]string{
	StatusDraft:     {StatusPendingL1, StatusCancelled},
	StatusPendingL1: {StatusPendingL2, StatusApproved, StatusRejected, StatusCancelled},
	StatusPendingL2: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusIssued, StatusRejected, StatusCancelled},
	StatusIssued:    {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from → to is an allowed status change
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// Requisition is a department's request for consumables
type Requisition struct {
	ID                 string          `db:"id" json:"id"`
	RequisitionNumber  string          `db:"requisition_number" json:"requisition_number"`
	DepartmentID       string          `db:"department_id" json:"department_id"`
	RequesterID        string          `db:"requester_id" json:"requester_id"`
	Status             string          `db:"status" json:"status"`
	Purpose            string          `db:"purpose" json:"purpose"`
	Urgency            string          `db:"urgency" json:"urgency"`
	Comments           *string         `db:"comments" json:"comments,omitempty"`
	TotalEstimatedCost decimal.Decimal `db:"total_estimated_cost" json:"total_estimated_cost"`
	FiscalYear         int             `db:"fiscal_year" json:"fiscal_year"`
	RequiresL2         bool            `db:"requires_l2" json:"requires_l2"`
	L1ApproverID       *string         `db:"l1_approver_id" json:"l1_approver_id,omitempty"`
	L2ApproverID       *string         `db:"l2_approver_id" json:"l2_approver_id,omitempty"`
	BudgetReserved     bool            `db:"budget_reserved" json:"budget_reserved"`
	SubmittedAt        *time.Time      `db:"submitted_at" json:"submitted_at,omitempty"`
	L1ApprovedBy       *string         `db:"l1_approved_by" json:"l1_approved_by,omitempty"`
	L1ApprovedAt       *time.Time      `db:"l1_approved_at" json:"l1_approved_at,omitempty"`
	L2ApprovedBy       *string         `db:"l2_approved_by" json:"l2_approved_by,omitempty"`
	L2ApprovedAt       *time.Time      `db:"l2_approved_at" json:"l2_approved_at,omitempty"`
	RejectedBy         *string         `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectedAt         *time.Time      `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason    *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CancelledAt        *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	IssuedAt           *time.Time      `db:"issued_at" json:"issued_at,omitempty"`
	CompletedAt        *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`

	Items []*Item `db:"-" json:"items,omitempty"`
}

// Item is one requested line
type Item struct {
	ID                string              `db:"id" json:"id"`
	RequisitionID     string              `db:"requisition_id" json:"requisition_id"`
	ItemID            string              `db:"item_id" json:"item_id"`
	Quantity          int                 `db:"quantity" json:"quantity"`
	EstimatedUnitCost decimal.NullDecimal `db:"estimated_unit_cost" json:"estimated_unit_cost,omitempty"`
	Notes             *string             `db:"notes" json:"notes,omitempty"`
}

// Transition moves the requisition to a new status, or fails with
// InvalidTransition leaving the status untouched.
func (r *Requisition) Transition(to string) error {
	if !CanTransition(r.Status, to) {
		return errors.InvalidTransition(r.Status, to)
	}
	r.Status = to
	return nil
}

// IsEditable reports whether line and field edits are still allowed
func (r *Requisition) IsEditable() bool {
	return r.Status == StatusDraft
}

// CancellableBy reports whether the given user may cancel the
// requisition without any extra permission. The requester's
// self-service window ends at approval; later cancellations need the
// cancel permission.
func (r *Requisition) CancellableBy(userID string) bool {
	if r.RequesterID != userID {
		return false
	}
	switch r.Status {
	case StatusDraft, StatusPendingL1, StatusPendingL2:
		return true
	}
	return false
}

// EstimatedTotal recomputes the total estimated cost from the lines.
// Lines without a cost estimate contribute zero.
func (r *Requisition) EstimatedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		if item.EstimatedUnitCost.Valid {
			total = total.Add(item.EstimatedUnitCost.Decimal.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
	}
	return total
}

// ValidUrgency reports whether the urgency value is recognized
func ValidUrgency(urgency string) bool {
	switch urgency {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}
