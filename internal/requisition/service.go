package requisition

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/internal/audit"
	"github.com/stockroom/stockroom-backend/internal/authz"
	"github.com/stockroom/stockroom-backend/internal/budget"
	"github.com/stockroom/stockroom-backend/internal/numbering"
	"github.com/stockroom/stockroom-backend/internal/requisition/events"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/messaging"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// Service orchestrates the requisition workflow
type Service struct {
	db        *database.DB
	repo      *Repository
	budgets   *budget.Tracker
	numbers   *numbering.Generator
	checker   *authz.Checker
	auditor   *audit.Recorder
	publisher *events.RequisitionEventPublisher
	logger    *logger.Logger
}

// NewService creates a new requisition service
func NewService(
	db *database.DB,
	repo *Repository,
	budgets *budget.Tracker,
	numbers *numbering.Generator,
	checker *authz.Checker,
	auditor *audit.Recorder,
	publisher *events.RequisitionEventPublisher,
	log *logger.Logger,
) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		budgets:   budgets,
		numbers:   numbers,
		checker:   checker,
		auditor:   auditor,
		publisher: publisher,
		logger:    log,
	}
}

// LineInput is one requested line in a create or update request
type LineInput struct {
	ItemID            string  `json:"item_id" validate:"required,uuid"`
	Quantity          int     `json:"quantity" validate:"required,gt=0"`
	EstimatedUnitCost *string `json:"estimated_unit_cost,omitempty"`
	Notes             *string `json:"notes,omitempty"`
}

// CreateInput describes a new draft requisition. Approver slots are
// optional; when set, only the named user may approve at that level.
type CreateInput struct {
	Purpose      string      `json:"purpose" validate:"required,min=3"`
	Urgency      string      `json:"urgency" validate:"required,oneof=low normal high critical"`
	Comments     *string     `json:"comments,omitempty"`
	RequiresL2   bool        `json:"requires_l2"`
	L1ApproverID *string     `json:"l1_approver_id,omitempty" validate:"omitempty,uuid"`
	L2ApproverID *string     `json:"l2_approver_id,omitempty" validate:"omitempty,uuid"`
	Items        []LineInput `json:"items" validate:"required,min=1,dive"`
}

func buildItems(lines []LineInput) ([]*Item, error) {
	items := make([]*Item, 0, len(lines))
	for _, line := range lines {
		item := &Item{
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
			Notes:    line.Notes,
		}
		if line.EstimatedUnitCost != nil {
			cost, err := decimal.NewFromString(*line.EstimatedUnitCost)
			if err != nil || cost.IsNegative() {
				return nil, errors.Validation(map[string]string{
					"estimated_unit_cost": "must be a non-negative decimal",
				})
			}
			item.EstimatedUnitCost = decimal.NullDecimal{Decimal: cost, Valid: true}
		}
		items = append(items, item)
	}
	return items, nil
}

// CreateDraft creates a draft requisition for the caller's department
func (s *Service) CreateDraft(ctx context.Context, p *principal.Principal, input *CreateInput, now time.Time) (*Requisition, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleRequisitions, authz.ActionCreate); err != nil {
		return nil, err
	}
	if !p.HasDepartment() {
		return nil, errors.BadRequest("requester has no department")
	}

	items, err := buildItems(input.Items)
	if err != nil {
		return nil, err
	}

	number, err := s.numbers.Next(ctx, numbering.DocTypeRequisition, now.Year())
	if err != nil {
		return nil, err
	}

	req := &Requisition{
		RequisitionNumber: number,
		DepartmentID:      p.DepartmentID,
		RequesterID:       p.UserID,
		Purpose:           input.Purpose,
		Urgency:           input.Urgency,
		Comments:          input.Comments,
		FiscalYear:        now.Year(),
		RequiresL2:        input.RequiresL2,
		L1ApproverID:      input.L1ApproverID,
		L2ApproverID:      input.L2ApproverID,
		Items:             items,
	}

	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "requisition.created",
		EntityType: "requisition",
		EntityID:   req.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"requisition_number": req.RequisitionNumber},
	})

	return req, nil
}

// UpdateInput describes edits to a draft
type UpdateInput struct {
	Purpose      string      `json:"purpose" validate:"required,min=3"`
	Urgency      string      `json:"urgency" validate:"required,oneof=low normal high critical"`
	Comments     *string     `json:"comments,omitempty"`
	RequiresL2   bool        `json:"requires_l2"`
	L1ApproverID *string     `json:"l1_approver_id,omitempty" validate:"omitempty,uuid"`
	L2ApproverID *string     `json:"l2_approver_id,omitempty" validate:"omitempty,uuid"`
	Items        []LineInput `json:"items" validate:"required,min=1,dive"`
}

// UpdateDraft rewrites a draft. Only the requester may edit, and only
// while the requisition is still a draft.
func (s *Service) UpdateDraft(ctx context.Context, p *principal.Principal, id string, input *UpdateInput) (*Requisition, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != p.UserID {
		return nil, errors.Forbidden("only the requester may edit a requisition")
	}
	if !req.IsEditable() {
		return nil, errors.InvalidTransition(req.Status, StatusDraft)
	}

	items, err := buildItems(input.Items)
	if err != nil {
		return nil, err
	}

	req.Purpose = input.Purpose
	req.Urgency = input.Urgency
	req.Comments = input.Comments
	req.RequiresL2 = input.RequiresL2
	req.L1ApproverID = input.L1ApproverID
	req.L2ApproverID = input.L2ApproverID
	req.Items = items

	if err := s.repo.UpdateDraft(ctx, req); err != nil {
		return nil, err
	}

	return req, nil
}

// Get retrieves a requisition, enforcing department scope
func (s *Service) Get(ctx context.Context, p *principal.Principal, id string) (*Requisition, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleRequisitions, authz.ActionView); err != nil {
		return nil, err
	}

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.checker.RequireInScope(ctx, p, authz.ModuleRequisitions, req.DepartmentID); err != nil {
		return nil, err
	}

	return req, nil
}

// List retrieves requisitions visible to the caller. Department-scoped
// callers only see their own department regardless of the filter.
func (s *Service) List(ctx context.Context, p *principal.Principal, filter *ListFilter, page, perPage int) ([]*Requisition, int64, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleRequisitions, authz.ActionView); err != nil {
		return nil, 0, err
	}

	scope, err := s.checker.ScopeFilter(ctx, p, authz.ModuleRequisitions)
	if err != nil {
		return nil, 0, err
	}
	if scope == authz.OwnDepartmentOnly {
		if filter == nil {
			filter = &ListFilter{}
		}
		filter.DepartmentID = p.DepartmentID
	}

	return s.repo.List(ctx, filter, page, perPage)
}

// SubmitResult carries the submitted requisition plus an advisory budget
// warning, when the estimate already exceeds the remaining budget.
type SubmitResult struct {
	Requisition   *Requisition `json:"requisition"`
	BudgetWarning string       `json:"budget_warning,omitempty"`
}

// Submit moves a draft into the approval queue
func (s *Service) Submit(ctx context.Context, p *principal.Principal, id string, now time.Time) (*SubmitResult, error) {
	var req *Requisition
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		req, err = s.repo.GetForUpdateTx(tx, id)
		if err != nil {
			return err
		}
		if req.RequesterID != p.UserID {
			return errors.Forbidden("only the requester may submit a requisition")
		}
		if len(req.Items) == 0 {
			return errors.Validation(map[string]string{"items": "at least one line is required"})
		}
		if req.Purpose == "" {
			return errors.Validation(map[string]string{"purpose": "must not be empty"})
		}

		if err := req.Transition(StatusPendingL1); err != nil {
			return err
		}
		req.SubmittedAt = &now

		return s.repo.SaveWorkflowTx(tx, req)
	})
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{Requisition: req}

	// Advisory only. The binding budget check happens at approval.
	if b, err := s.budgets.Get(ctx, req.DepartmentID, req.FiscalYear); err == nil && b != nil {
		if req.TotalEstimatedCost.GreaterThan(b.Available) {
			result.BudgetWarning = "estimated cost exceeds remaining department budget"
		}
	}

	s.publisher.PublishAwaitingApproval(ctx, req.ID, req.RequisitionNumber, req.DepartmentID, 1)
	s.auditor.Record(ctx, &audit.Entry{
		Action:     "requisition.submitted",
		EntityType: "requisition",
		EntityID:   req.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
	})

	return result, nil
}

// Approve records an approval at the requisition's current level. When
// the final level approves, the estimated cost is reserved against the
// department budget in the same transaction; a BudgetExceeded failure
// rolls the status change back.
func (s *Service) Approve(ctx context.Context, p *principal.Principal, id string, now time.Time) (*Requisition, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleRequisitions, authz.ActionApprove); err != nil {
		return nil, err
	}

	var req *Requisition
	var crossing *budget.ThresholdCrossing
	var nextLevel int

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		req, err = s.repo.GetForUpdateTx(tx, id)
		if err != nil {
			return err
		}
		if err := s.checker.RequireInScope(ctx, p, authz.ModuleRequisitions, req.DepartmentID); err != nil {
			return err
		}

		switch req.Status {
		case StatusPendingL1:
			if req.L1ApproverID != nil && *req.L1ApproverID != p.UserID {
				return errors.Forbidden("requisition is assigned to a named level 1 approver")
			}
			target := StatusApproved
			if req.RequiresL2 {
				target = StatusPendingL2
				nextLevel = 2
			}
			if err := req.Transition(target); err != nil {
				return err
			}
			req.L1ApprovedBy = &p.UserID
			req.L1ApprovedAt = &now
		case StatusPendingL2:
			if req.L2ApproverID != nil && *req.L2ApproverID != p.UserID {
				return errors.Forbidden("requisition is assigned to a named level 2 approver")
			}
			if err := req.Transition(StatusApproved); err != nil {
				return err
			}
			req.L2ApprovedBy = &p.UserID
			req.L2ApprovedAt = &now
		default:
			return errors.InvalidTransition(req.Status, StatusApproved)
		}

		if req.Status == StatusApproved {
			crossing, err = s.budgets.ReserveTx(tx, req.DepartmentID, req.FiscalYear, req.TotalEstimatedCost)
			if err != nil {
				return err
			}
			req.BudgetReserved = true
		}

		return s.repo.SaveWorkflowTx(tx, req)
	})
	if err != nil {
		return nil, err
	}

	if nextLevel == 2 {
		s.publisher.PublishAwaitingApproval(ctx, req.ID, req.RequisitionNumber, req.DepartmentID, 2)
	}
	if req.Status == StatusApproved {
		s.publisher.PublishDecision(ctx, messaging.EventRequisitionApproved, req.ID, req.RequisitionNumber, p.UserID)
	}
	s.publisher.PublishBudgetThreshold(ctx, crossing)

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "requisition.approved",
		EntityType: "requisition",
		EntityID:   req.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"status": req.Status},
	})

	return req, nil
}

// Reject records a rejection from either pending level
func (s *Service) Reject(ctx context.Context, p *principal.Principal, id, reason string, now time.Time) (*Requisition, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleRequisitions, authz.ActionApprove); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, errors.Validation(map[string]string{"reason": "must not be empty"})
	}

	var req *Requisition
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		req, err = s.repo.GetForUpdateTx(tx, id)
		if err != nil {
			return err
		}
		if err := s.checker.RequireInScope(ctx, p, authz.ModuleRequisitions, req.DepartmentID); err != nil {
			return err
		}

		if err := req.Transition(StatusRejected); err != nil {
			return err
		}
		req.RejectedBy = &p.UserID
		req.RejectedAt = &now
		req.RejectionReason = &reason

		// Rejecting after approval hands the reservation back
		if req.BudgetReserved {
			if err := s.budgets.ReleaseTx(tx, req.DepartmentID, req.FiscalYear, req.TotalEstimatedCost); err != nil {
				return err
			}
			req.BudgetReserved = false
		}

		return s.repo.SaveWorkflowTx(tx, req)
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishDecision(ctx, messaging.EventRequisitionRejected, req.ID, req.RequisitionNumber, p.UserID)
	s.auditor.Record(ctx, &audit.Entry{
		Action:     "requisition.rejected",
		EntityType: "requisition",
		EntityID:   req.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"reason": reason},
	})

	return req, nil
}

// Cancel withdraws a requisition. Requesters may cancel their own
// before approval; anything later needs the cancel permission. A
// post-approval cancellation hands the budget reservation back.
func (s *Service) Cancel(ctx context.Context, p *principal.Principal, id string, now time.Time) (*Requisition, error) {
	var req *Requisition
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		req, err = s.repo.GetForUpdateTx(tx, id)
		if err != nil {
			return err
		}
		if !req.CancellableBy(p.UserID) {
			if err := s.checker.Require(ctx, p, authz.ModuleRequisitions, authz.ActionCancel); err != nil {
				return err
			}
			if err := s.checker.RequireInScope(ctx, p, authz.ModuleRequisitions, req.DepartmentID); err != nil {
				return err
			}
		}

		if err := req.Transition(StatusCancelled); err != nil {
			return err
		}
		req.CancelledAt = &now

		if req.BudgetReserved {
			if err := s.budgets.ReleaseTx(tx, req.DepartmentID, req.FiscalYear, req.TotalEstimatedCost); err != nil {
				return err
			}
			req.BudgetReserved = false
		}

		return s.repo.SaveWorkflowTx(tx, req)
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "requisition.cancelled",
		EntityType: "requisition",
		EntityID:   req.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
	})

	return req, nil
}

// MarkIssuedTx moves an approved requisition to issued inside an
// existing transaction. Called by the issue service so the status change
// commits with the stock decrement.
func (s *Service) MarkIssuedTx(tx *sqlx.Tx, id string, now time.Time) (*Requisition, error) {
	req, err := s.repo.GetForUpdateTx(tx, id)
	if err != nil {
		return nil, err
	}

	if err := req.Transition(StatusIssued); err != nil {
		return nil, err
	}
	req.IssuedAt = &now

	if err := s.repo.SaveWorkflowTx(tx, req); err != nil {
		return nil, err
	}

	return req, nil
}

// Complete closes an issued requisition and converts the budget
// reservation into spend.
func (s *Service) Complete(ctx context.Context, p *principal.Principal, id string, now time.Time) (*Requisition, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleRequisitions, authz.ActionEdit); err != nil {
		return nil, err
	}

	var req *Requisition
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		req, err = s.repo.GetForUpdateTx(tx, id)
		if err != nil {
			return err
		}
		if err := s.checker.RequireInScope(ctx, p, authz.ModuleRequisitions, req.DepartmentID); err != nil {
			return err
		}

		if err := req.Transition(StatusCompleted); err != nil {
			return err
		}
		req.CompletedAt = &now

		if req.BudgetReserved {
			if err := s.budgets.SpendTx(tx, req.DepartmentID, req.FiscalYear, req.TotalEstimatedCost); err != nil {
				return err
			}
			req.BudgetReserved = false
		}

		return s.repo.SaveWorkflowTx(tx, req)
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "requisition.completed",
		EntityType: "requisition",
		EntityID:   req.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
	})

	return req, nil
}
