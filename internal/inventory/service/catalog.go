package service

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/internal/audit"
	"github.com/stockroom/stockroom-backend/internal/authz"
	"github.com/stockroom/stockroom-backend/internal/inventory/repository"
	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/principal"
)

// CatalogService manages items and locations
type CatalogService struct {
	itemRepo     *repository.ItemRepository
	locationRepo *repository.LocationRepository
	checker      *authz.Checker
	auditor      *audit.Recorder
	logger       *logger.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(
	itemRepo *repository.ItemRepository,
	locationRepo *repository.LocationRepository,
	checker *authz.Checker,
	auditor *audit.Recorder,
	log *logger.Logger,
) *CatalogService {
	return &CatalogService{
		itemRepo:     itemRepo,
		locationRepo: locationRepo,
		checker:      checker,
		auditor:      auditor,
		logger:       log,
	}
}

// ItemInput describes a catalog item create or update
type ItemInput struct {
	Code            string  `json:"code" validate:"required,min=2,max=64"`
	Name            string  `json:"name" validate:"required,min=2,max=255"`
	Description     *string `json:"description,omitempty"`
	Category        string  `json:"category" validate:"required"`
	Unit            string  `json:"unit" validate:"required"`
	DefaultVendor   *string `json:"default_vendor,omitempty"`
	UnitCost        *string `json:"unit_cost,omitempty"`
	ReorderPoint    int     `json:"reorder_point" validate:"gte=0"`
	ReorderQuantity int     `json:"reorder_quantity" validate:"gte=0"`
	MinStock        int     `json:"min_stock" validate:"gte=0"`
	MaxStock        int     `json:"max_stock" validate:"gte=0"`
}

func (in *ItemInput) apply(item *repository.Item) error {
	item.Code = in.Code
	item.Name = in.Name
	item.Description = in.Description
	item.Category = in.Category
	item.Unit = in.Unit
	item.DefaultVendor = in.DefaultVendor
	item.ReorderPoint = in.ReorderPoint
	item.ReorderQuantity = in.ReorderQuantity
	item.MinStock = in.MinStock
	item.MaxStock = in.MaxStock

	if in.MaxStock > 0 && in.MinStock > in.MaxStock {
		return errors.Validation(map[string]string{"min_stock": "must not exceed max_stock"})
	}

	if in.UnitCost != nil {
		cost, err := decimal.NewFromString(*in.UnitCost)
		if err != nil || cost.IsNegative() {
			return errors.Validation(map[string]string{"unit_cost": "must be a non-negative decimal"})
		}
		item.UnitCost = decimal.NullDecimal{Decimal: cost, Valid: true}
	} else {
		item.UnitCost = decimal.NullDecimal{}
	}

	return nil
}

// CreateItem creates a catalog item
func (s *CatalogService) CreateItem(ctx context.Context, p *principal.Principal, input *ItemInput) (*repository.Item, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleItems, authz.ActionCreate); err != nil {
		return nil, err
	}

	item := &repository.Item{Lifecycle: repository.LifecycleActive}
	if err := input.apply(item); err != nil {
		return nil, err
	}

	if err := s.itemRepo.Create(ctx, item); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "item.created",
		EntityType: "item",
		EntityID:   item.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"code": item.Code},
	})

	return item, nil
}

// GetItem retrieves a catalog item
func (s *CatalogService) GetItem(ctx context.Context, p *principal.Principal, id string) (*repository.Item, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleItems, authz.ActionView); err != nil {
		return nil, err
	}
	return s.itemRepo.GetByID(ctx, id)
}

// ListItems retrieves catalog items with pagination
func (s *CatalogService) ListItems(ctx context.Context, p *principal.Principal, page, perPage int, category string) ([]*repository.Item, int64, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleItems, authz.ActionView); err != nil {
		return nil, 0, err
	}
	return s.itemRepo.List(ctx, page, perPage, category)
}

// UpdateItem updates a catalog item
func (s *CatalogService) UpdateItem(ctx context.Context, p *principal.Principal, id string, input *ItemInput) (*repository.Item, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleItems, authz.ActionEdit); err != nil {
		return nil, err
	}

	item, err := s.itemRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := input.apply(item); err != nil {
		return nil, err
	}

	if err := s.itemRepo.Update(ctx, item); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "item.updated",
		EntityType: "item",
		EntityID:   item.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
	})

	return item, nil
}

// SetItemLifecycle activates or deactivates an item. Items are never
// hard deleted once referenced by ledger or requisition rows.
func (s *CatalogService) SetItemLifecycle(ctx context.Context, p *principal.Principal, id, lifecycle string) (*repository.Item, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleItems, authz.ActionDelete); err != nil {
		return nil, err
	}

	switch lifecycle {
	case repository.LifecycleActive, repository.LifecycleInactive:
	default:
		return nil, errors.Validation(map[string]string{"lifecycle": "must be active or inactive"})
	}

	item, err := s.itemRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.itemRepo.SetLifecycle(ctx, id, lifecycle); err != nil {
		return nil, err
	}
	item.Lifecycle = lifecycle

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "item.lifecycle_changed",
		EntityType: "item",
		EntityID:   item.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"lifecycle": lifecycle},
	})

	return item, nil
}

// LocationInput describes a storage location create or update
type LocationInput struct {
	Code         string  `json:"code" validate:"required,min=2,max=64"`
	Name         string  `json:"name" validate:"required,min=2,max=255"`
	Type         string  `json:"type" validate:"required,oneof=warehouse stockroom cabinet mobile"`
	DepartmentID *string `json:"department_id,omitempty"`
	Capacity     *int    `json:"capacity,omitempty"`
}

// CreateLocation creates a storage location
func (s *CatalogService) CreateLocation(ctx context.Context, p *principal.Principal, input *LocationInput) (*repository.Location, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleLocations, authz.ActionCreate); err != nil {
		return nil, err
	}

	loc := &repository.Location{
		Code:         input.Code,
		Name:         input.Name,
		Type:         input.Type,
		DepartmentID: input.DepartmentID,
		Capacity:     input.Capacity,
		Lifecycle:    repository.LifecycleActive,
	}

	if err := s.locationRepo.Create(ctx, loc); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "location.created",
		EntityType: "location",
		EntityID:   loc.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
		Details:    map[string]interface{}{"code": loc.Code},
	})

	return loc, nil
}

// GetLocation retrieves a storage location
func (s *CatalogService) GetLocation(ctx context.Context, p *principal.Principal, id string) (*repository.Location, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleLocations, authz.ActionView); err != nil {
		return nil, err
	}
	return s.locationRepo.GetByID(ctx, id)
}

// ListLocations retrieves all storage locations
func (s *CatalogService) ListLocations(ctx context.Context, p *principal.Principal) ([]*repository.Location, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleLocations, authz.ActionView); err != nil {
		return nil, err
	}
	return s.locationRepo.List(ctx)
}

// UpdateLocation updates a storage location
func (s *CatalogService) UpdateLocation(ctx context.Context, p *principal.Principal, id string, input *LocationInput) (*repository.Location, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleLocations, authz.ActionEdit); err != nil {
		return nil, err
	}

	loc, err := s.locationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	loc.Code = input.Code
	loc.Name = input.Name
	loc.Type = input.Type
	loc.DepartmentID = input.DepartmentID
	loc.Capacity = input.Capacity

	if err := s.locationRepo.Update(ctx, loc); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "location.updated",
		EntityType: "location",
		EntityID:   loc.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
	})

	return loc, nil
}

// DeactivateLocation retires a location. Rejected while the location
// still holds stock.
func (s *CatalogService) DeactivateLocation(ctx context.Context, p *principal.Principal, id string) (*repository.Location, error) {
	if err := s.checker.Require(ctx, p, authz.ModuleLocations, authz.ActionDelete); err != nil {
		return nil, err
	}

	loc, err := s.locationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	hasStock, err := s.locationRepo.HasStock(ctx, id)
	if err != nil {
		return nil, err
	}
	if hasStock {
		return nil, errors.Conflict("location still holds stock")
	}

	if err := s.locationRepo.SetLifecycle(ctx, id, repository.LifecycleInactive); err != nil {
		return nil, err
	}
	loc.Lifecycle = repository.LifecycleInactive

	s.auditor.Record(ctx, &audit.Entry{
		Action:     "location.deactivated",
		EntityType: "location",
		EntityID:   loc.ID,
		ActorID:    p.UserID,
		ActorName:  p.DisplayName,
	})

	return loc, nil
}
