package service

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/internal/audit"
	"github.com/stockroom/stockroom-backend/internal/authz"
	"github.com/stockroom/stockroom-backend/internal/inventory/events"
	"github.com/stockroom/stockroom-backend/internal/inventory/repository"
	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// StockService manages the stock ledger
type StockService struct {
	stockRepo *repository.StockRepository
	itemRepo  *repository.ItemRepository
	checker   *authz.Checker
	auditor   *audit.Recorder
	publisher *events.StockroomEventPublisher
	logger    *logger.Logger
}

// NewStockService creates a new stock service
func NewStockService(
	stockRepo *repository.StockRepository,
	itemRepo *repository.ItemRepository,
	checker *authz.Checker,
	auditor *audit.Recorder,
	publisher *events.StockroomEventPublisher,
	log *logger.Logger,
) *StockService {
	return &StockService{
		stockRepo: stockRepo,
		itemRepo:  itemRepo,
		checker:   checker,
		auditor:   auditor,
		publisher: publisher,
		logger:    log,
	}
}

// AdjustInput describes a stock adjustment request
type AdjustInput struct {
	ItemID      string  `json:"item_id" validate:"required,uuid"`
	LocationID  string  `json:"location_id" validate:"required,uuid"`
	BatchNumber *string `json:"batch_number,omitempty"`
	Mode        string  `json:"mode" validate:"required,oneof=add remove set"`
	Quantity    int     `json:"quantity" validate:"gte=0"`
	UnitCost    *string `json:"unit_cost,omitempty"`
	ExpiryDate  *string `json:"expiry_date,omitempty"`
	Reason      *string `json:"reason,omitempty"`
}

// Adjust applies a manual stock adjustment. Only active items may
// receive stock; removals from inactive items are still allowed so
// leftovers can be drained.
func (s *StockService) Adjust(ctx context.Context, p *principal.Principal, input *AdjustInput) (*repository.StockMovement, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleStock, authz.ActionAdjust); err != nil {
		return nil, err
	}

	item, err := s.itemRepo.GetByID(ctx, input.ItemID)
	if err != nil {
		return nil, err
	}

	mode := repository.AdjustMode(input.Mode)
	if mode != repository.AdjustRemove && !item.IsActive() {
		return nil, errors.Conflict("item is inactive")
	}

	params := repository.AdjustParams{
		ItemID:      input.ItemID,
		LocationID:  input.LocationID,
		BatchNumber: input.BatchNumber,
		Mode:        mode,
		Delta:       input.Quantity,
		Reason:      input.Reason,
		PerformedBy: p.UserID,
	}

	if input.UnitCost != nil {
		cost, err := decimal.NewFromString(*input.UnitCost)
		if err != nil || cost.IsNegative() {
			return nil, errors.Validation(map[string]string{"unit_cost": "must be a non-negative decimal"})
		}
		params.UnitCost = &cost
	}
	if input.ExpiryDate != nil {
		expiry, err := parseDate(*input.ExpiryDate)
		if err != nil {
			return nil, err
		}
		params.ExpiryDate = expiry
	}

	movement, err := s.stockRepo.Adjust(ctx, params)
	if err != nil {
		return nil, err
	}

	s.publisher.PublishStockAdjusted(ctx, movement)
	s.checkLowStock(ctx, item, input.LocationID)

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "stock.adjusted",
		EntityType: "item",
		EntityID:   item.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details: map[string]interface{}{
			"mode":         input.Mode,
			"quantity":     input.Quantity,
			"new_quantity": movement.NewQuantity,
		},
	})

	return movement, nil
}

// TransferInput describes a stock transfer request
type TransferInput struct {
	ItemID         string  `json:"item_id" validate:"required,uuid"`
	FromLocationID string  `json:"from_location_id" validate:"required,uuid"`
	ToLocationID   string  `json:"to_location_id" validate:"required,uuid"`
	BatchNumber    *string `json:"batch_number,omitempty"`
	Quantity       int     `json:"quantity" validate:"required,gt=0"`
}

// Transfer moves stock between locations
func (s *StockService) Transfer(ctx context.Context, p *principal.Principal, input *TransferInput) error {
	if err := s.checker.Require(ctx, p, authz.ModuleStock, authz.ActionTransfer); err != nil {
		return err
	}

	item, err := s.itemRepo.GetByID(ctx, input.ItemID)
	if err != nil {
		return err
	}

	err = s.stockRepo.Transfer(ctx, input.ItemID, input.FromLocationID, input.ToLocationID,
		input.BatchNumber, input.Quantity, p.UserID)
	if err != nil {
		return err
	}

	s.checkLowStock(ctx, item, input.FromLocationID)

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "stock.transferred",
		EntityType: "item",
		EntityID:   item.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details: map[string]interface{}{
			"from_location_id": input.FromLocationID,
			"to_location_id":   input.ToLocationID,
			"quantity":         input.Quantity,
		},
	})

	return nil
}

// checkLowStock publishes a low stock event when the item's total
// on-hand quantity has fallen to or below its reorder point.
func (s *StockService) checkLowStock(ctx context.Context, item *repository.Item, locationID string) {
	if item.ReorderPoint <= 0 {
		return
	}

	total, err := s.stockRepo.TotalQuantity(ctx, item.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to read total quantity for low stock check")
		return
	}

	if total <= item.ReorderPoint {
		s.publisher.PublishStockLow(ctx, item, locationID, total)
	}
}

// GetRecord reads one ledger cell
func (s *StockService) GetRecord(ctx context.Context, p *principal.Principal, itemID, locationID string, batch *string) (*repository.StockRecord, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleStock, authz.ActionView); err != nil {
		return nil, err
	}
	return s.stockRepo.GetRecord(ctx, itemID, locationID, batch)
}

// ListByItem lists an item's stock across locations
func (s *StockService) ListByItem(ctx context.Context, p *principal.Principal, itemID string) ([]*repository.StockRecord, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleStock, authz.ActionView); err != nil {
		return nil, err
	}
	return s.stockRepo.ListByItem(ctx, itemID)
}

// ListByLocation lists all stock at a location
func (s *StockService) ListByLocation(ctx context.Context, p *principal.Principal, locationID string) ([]*repository.StockRecord, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleStock, authz.ActionView); err != nil {
		return nil, err
	}
	return s.stockRepo.ListByLocation(ctx, locationID)
}

// ListMovements lists an item's movement history
func (s *StockService) ListMovements(ctx context.Context, p *principal.Principal, itemID string, page, perPage int) ([]*repository.StockMovement, int64, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleReports, authz.ActionView); err != nil {
		return nil, 0, err
	}
	return s.stockRepo.ListMovements(ctx, itemID, page, perPage)
}
