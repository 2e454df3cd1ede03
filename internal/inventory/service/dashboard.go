package service

import (
	"context"

	"github.com/stockroom/stockroom-backend/internal/authz"
	"github.com/stockroom/stockroom-backend/internal/inventory/repository"
	"github.com/stockroom/stockroom-backend/internal/requisition"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// DashboardStats summarizes current workload for the landing view
type DashboardStats struct {
	ActiveItems         int64 `json:"active_items"`
	LowStockItems       int64 `json:"low_stock_items"`
	PendingRequisitions int64 `json:"pending_requisitions"`
	OpenIssues          int64 `json:"open_issues"`
}

// DashboardService aggregates counts across the domain repositories
type DashboardService struct {
	itemRepo  *repository.ItemRepository
	issueRepo *repository.IssueRepository
	reqRepo   *requisition.Repository
	checker   *authz.Checker
	logger    *logger.Logger
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(
	itemRepo *repository.ItemRepository,
	issueRepo *repository.IssueRepository,
	reqRepo *requisition.Repository,
	checker *authz.Checker,
	log *logger.Logger,
) *DashboardService {
	return &DashboardService{
		itemRepo:  itemRepo,
		issueRepo: issueRepo,
		reqRepo:   reqRepo,
		checker:   checker,
		logger:    log,
	}
}

// Stats collects the dashboard counters
func (s *DashboardService) Stats(ctx context.Context, p *principal.Principal) (*DashboardStats, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleReports, authz.ActionView); err != nil {
		return nil, err
	}

	stats := &DashboardStats{}

	var err error
	if stats.ActiveItems, err = s.itemRepo.CountActive(ctx); err != nil {
		return nil, err
	}
	if stats.LowStockItems, err = s.itemRepo.CountLowStock(ctx); err != nil {
		return nil, err
	}

	for _, status := range []string{requisition.StatusPendingL1, requisition.StatusPendingL2} {
		count, err := s.reqRepo.CountByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		stats.PendingRequisitions += count
	}

	if stats.OpenIssues, err = s.issueRepo.CountByStatus(ctx, repository.IssueStatusPending); err != nil {
		return nil, err
	}

	return stats, nil
}
