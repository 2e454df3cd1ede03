package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/internal/audit"
	"github.com/stockroom/stockroom-backend/internal/authz"
	"github.com/stockroom/stockroom-backend/internal/inventory/events"
	"github.com/stockroom/stockroom-backend/internal/inventory/repository"
	"github.com/stockroom/stockroom-backend/internal/numbering"
	"github.com/stockroom/stockroom-backend/internal/requisition"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// IssueService manages stock issues and returns
type IssueService struct {
	db         *database.DB
	issueRepo  *repository.IssueRepository
	stockRepo  *repository.StockRepository
	itemRepo   *repository.ItemRepository
	reqService *requisition.Service
	numbers    *numbering.Generator
	checker    *authz.Checker
	auditor    *audit.Recorder
	publisher  *events.StockroomEventPublisher
	logger     *logger.Logger
}

// NewIssueService creates a new issue service
func NewIssueService(
	db *database.DB,
	issueRepo *repository.IssueRepository,
	stockRepo *repository.StockRepository,
	itemRepo *repository.ItemRepository,
	reqService *requisition.Service,
	numbers *numbering.Generator,
	checker *authz.Checker,
	auditor *audit.Recorder,
	publisher *events.StockroomEventPublisher,
	log *logger.Logger,
) *IssueService {
	return &IssueService{
		db:         db,
		issueRepo:  issueRepo,
		stockRepo:  stockRepo,
		itemRepo:   itemRepo,
		reqService: reqService,
		numbers:    numbers,
		checker:    checker,
		auditor:    auditor,
		publisher:  publisher,
		logger:     log,
	}
}

// IssueLineInput is one line of an issue request
type IssueLineInput struct {
	ItemID      string  `json:"item_id" validate:"required,uuid"`
	LocationID  string  `json:"location_id" validate:"required,uuid"`
	BatchNumber *string `json:"batch_number,omitempty"`
	Quantity    int     `json:"quantity" validate:"required,gt=0"`
}

// CreateIssueInput describes a stock issue request
type CreateIssueInput struct {
	RequisitionID *string          `json:"requisition_id,omitempty"`
	IssuedTo      string           `json:"issued_to" validate:"required,uuid"`
	DepartmentID  *string          `json:"department_id,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	Items         []IssueLineInput `json:"items" validate:"required,min=1,dive"`
}

// CreateIssue hands stock over to a recipient. The ledger decrement,
// the issue rows and the requisition status change all commit in one
// transaction.
func (s *IssueService) CreateIssue(ctx context.Context, p *principal.Principal, input *CreateIssueInput, now time.Time) (*repository.Issue, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleIssues, authz.ActionIssue); err != nil {
		return nil, err
	}

	number, err := s.numbers.Next(ctx, numbering.DocTypeIssue, now.Year())
	if err != nil {
		return nil, err
	}

	issue := &repository.Issue{
		IssueNumber:   number,
		RequisitionID: input.RequisitionID,
		IssuedTo:      input.IssuedTo,
		DepartmentID:  input.DepartmentID,
		Notes:         input.Notes,
		IssuedBy:      p.UserID,
		IssuedAt:      now,
	}

	lines := make([]repository.StockLine, 0, len(input.Items))
	for _, line := range input.Items {
		item, err := s.itemRepo.GetByID(ctx, line.ItemID)
		if err != nil {
			return nil, err
		}

		var cost *decimal.Decimal
		if item.UnitCost.Valid {
			c := item.UnitCost.Decimal
			cost = &c
		}

		lines = append(lines, repository.StockLine{
			ItemID:      line.ItemID,
			LocationID:  line.LocationID,
			BatchNumber: line.BatchNumber,
			Quantity:    line.Quantity,
			UnitCost:    cost,
		})
		issue.Items = append(issue.Items, &repository.IssueItem{
			ItemID:      line.ItemID,
			LocationID:  line.LocationID,
			BatchNumber: line.BatchNumber,
			Quantity:    line.Quantity,
			UnitCost:    item.UnitCost,
		})
	}

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		// Create the issue first so the movement rows can reference its id.
		if err := s.issueRepo.CreateTx(tx, issue); err != nil {
			return err
		}
		if err := s.stockRepo.IssueStockTx(tx, lines, &issue.ID, p.UserID); err != nil {
			return err
		}
		if input.RequisitionID != nil {
			if _, err := s.reqService.MarkIssuedTx(tx, *input.RequisitionID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishIssueCreated(ctx, issue)
	s.auditor.Record(ctx, &audit.Entry{
		Action:     "issue.created",
		EntityType: "issue",
		EntityID:   issue.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"issue_number": issue.IssueNumber},
	})

	return issue, nil
}

// GetIssue retrieves an issue with its lines
func (s *IssueService) GetIssue(ctx context.Context, p *principal.Principal, id string) (*repository.Issue, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleIssues, authz.ActionView); err != nil {
		return nil, err
	}
	return s.issueRepo.GetByID(ctx, id)
}

// ListIssues retrieves issues visible to the caller
func (s *IssueService) ListIssues(ctx context.Context, p *principal.Principal, page, perPage int, status, departmentID string) ([]*repository.Issue, int64, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleIssues, authz.ActionView); err != nil {
		return nil, 0, err
	}

	scope, err := s.checker.ScopeFilter(ctx, p, authz.ModuleIssues)
	if err != nil {
		return nil, 0, err
	}
	if scope == authz.OwnDepartmentOnly {
		departmentID = p.DepartmentID
	}

	return s.issueRepo.List(ctx, page, perPage, status, departmentID)
}

// Acknowledge lets the recipient confirm or dispute delivery. Only the
// recipient may acknowledge, only while pending, and an acknowledged
// issue never reopens.
func (s *IssueService) Acknowledge(ctx context.Context, p *principal.Principal, id, outcome string, now time.Time) (*repository.Issue, error) {
	switch outcome {
	case repository.IssueStatusCompleted, repository.IssueStatusCancelled, repository.IssueStatusFailedDelivery:
	default:
		return nil, errors.Validation(map[string]string{
			"outcome": "must be one of: completed, cancelled, failed_delivery",
		})
	}

	issue, err := s.issueRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue.IssuedTo != p.UserID {
		return nil, errors.Forbidden("only the recipient may acknowledge an issue")
	}
	if issue.Status != repository.IssueStatusPending {
		return nil, errors.InvalidTransition(issue.Status, outcome)
	}

	if err := s.issueRepo.UpdateStatus(ctx, id, outcome, &now); err != nil {
		return nil, err
	}
	issue.Status = outcome
	issue.AcknowledgedAt = &now

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "issue.acknowledged",
		EntityType: "issue",
		EntityID:   issue.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"outcome": outcome},
	})

	return issue, nil
}

// ReturnLineInput is one line of a return request
type ReturnLineInput struct {
	ItemID      string  `json:"item_id" validate:"required,uuid"`
	BatchNumber *string `json:"batch_number,omitempty"`
	Quantity    int     `json:"quantity" validate:"required,gt=0"`
}

// CreateReturnInput describes a stock return request
type CreateReturnInput struct {
	IssueID *string           `json:"issue_id,omitempty"`
	Reason  string            `json:"reason" validate:"required,min=3"`
	Items   []ReturnLineInput `json:"items" validate:"required,min=1,dive"`
}

// CreateReturn opens a return request for review
func (s *IssueService) CreateReturn(ctx context.Context, p *principal.Principal, input *CreateReturnInput, now time.Time) (*repository.Return, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleReturns, authz.ActionCreate); err != nil {
		return nil, err
	}

	number, err := s.numbers.Next(ctx, numbering.DocTypeReturn, now.Year())
	if err != nil {
		return nil, err
	}

	ret := &repository.Return{
		ReturnNumber: number,
		IssueID:      input.IssueID,
		Reason:       input.Reason,
		RequestedBy:  p.UserID,
	}
	if p.HasDepartment() {
		dept := p.DepartmentID
		ret.DepartmentID = &dept
	}
	for _, line := range input.Items {
		ret.Items = append(ret.Items, &repository.ReturnItem{
			ItemID:      line.ItemID,
			BatchNumber: line.BatchNumber,
			Quantity:    line.Quantity,
		})
	}

	if err := s.issueRepo.CreateReturn(ctx, ret); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "return.created",
		EntityType: "return",
		EntityID:   ret.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"return_number": ret.ReturnNumber},
	})

	return ret, nil
}

// GetReturn retrieves a return with its lines
func (s *IssueService) GetReturn(ctx context.Context, p *principal.Principal, id string) (*repository.Return, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleReturns, authz.ActionView); err != nil {
		return nil, err
	}
	return s.issueRepo.GetReturnByID(ctx, id)
}

// ListReturns retrieves returns visible to the caller
func (s *IssueService) ListReturns(ctx context.Context, p *principal.Principal, page, perPage int, status, departmentID string) ([]*repository.Return, int64, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleReturns, authz.ActionView); err != nil {
		return nil, 0, err
	}

	scope, err := s.checker.ScopeFilter(ctx, p, authz.ModuleReturns)
	if err != nil {
		return nil, 0, err
	}
	if scope == authz.OwnDepartmentOnly {
		departmentID = p.DepartmentID
	}

	return s.issueRepo.ListReturns(ctx, page, perPage, status, departmentID)
}

// ReviewReturn approves or rejects a pending return. No stock moves
// here; stock only comes back at receipt.
func (s *IssueService) ReviewReturn(ctx context.Context, p *principal.Principal, id string, approve bool, now time.Time) (*repository.Return, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleReturns, authz.ActionApprove); err != nil {
		return nil, err
	}

	ret, err := s.issueRepo.GetReturnByID(ctx, id)
	if err != nil {
		return nil, err
	}

	target := repository.ReturnStatusApproved
	if !approve {
		target = repository.ReturnStatusRejected
	}
	if ret.Status != repository.ReturnStatusPending {
		return nil, errors.InvalidTransition(ret.Status, target)
	}

	if err := s.issueRepo.ReviewReturn(ctx, id, target, p.UserID, now); err != nil {
		return nil, err
	}
	ret.Status = target
	ret.ReviewedBy = &p.UserID
	ret.ReviewedAt = &now

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "return.reviewed",
		EntityType: "return",
		EntityID:   ret.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"status": target},
	})

	return ret, nil
}

// ReceiveReturn books an approved return back into stock at the chosen
// location and completes the return, in one transaction.
func (s *IssueService) ReceiveReturn(ctx context.Context, p *principal.Principal, id, locationID string, now time.Time) (*repository.Return, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleReturns, authz.ActionReceive); err != nil {
		return nil, err
	}
	if locationID == "" {
		return nil, errors.Validation(map[string]string{"location_id": "must not be empty"})
	}

	ret, err := s.issueRepo.GetReturnByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ret.Status != repository.ReturnStatusApproved {
		return nil, errors.InvalidTransition(ret.Status, repository.ReturnStatusCompleted)
	}

	lines := make([]repository.StockLine, 0, len(ret.Items))
	for _, item := range ret.Items {
		lines = append(lines, repository.StockLine{
			ItemID:      item.ItemID,
			BatchNumber: item.BatchNumber,
			Quantity:    item.Quantity,
		})
	}

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.stockRepo.ReceiveTx(tx, lines, locationID, &ret.ID, p.UserID); err != nil {
			return err
		}
		return s.issueRepo.CompleteReturnTx(tx, ret.ID, locationID)
	})
	if err != nil {
		return nil, err
	}
	ret.Status = repository.ReturnStatusCompleted
	ret.ReceivedLocationID = &locationID

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "return.received",
		EntityType: "return",
		EntityID:   ret.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"location_id": locationID},
	})

	return ret, nil
}
