package events

import (
	"context"

	"github.com/stockroom/stockroom-backend/internal/budget"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/messaging"
)

// RequisitionEventPublisher publishes requisition workflow events. A nil
// publisher is a no-op.
type RequisitionEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewRequisitionEventPublisher creates a new requisition event publisher
func NewRequisitionEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*RequisitionEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockroomEvents, "stockroom-service", log)
	if err != nil {
		return nil, err
	}

	return &RequisitionEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishAwaitingApproval signals approvers that a requisition entered
// a pending state.
func (p *RequisitionEventPublisher) PublishAwaitingApproval(ctx context.Context, requisitionID, requisitionNumber, departmentID string, level int) {
	if p == nil {
		return
	}

	data := messaging.RequisitionAwaitingApprovalEvent{
		RequisitionID:     requisitionID,
		RequisitionNumber: requisitionNumber,
		DepartmentID:      departmentID,
		Level:             level,
	}

	if err := p.publisher.Publish(ctx, messaging.EventRequisitionAwaitingApproval, data); err != nil {
		p.logger.Error().Err(err).Str("requisition_id", requisitionID).Msg("failed to publish awaiting approval event")
	}
}

// PublishDecision publishes the approved or rejected outcome
func (p *RequisitionEventPublisher) PublishDecision(ctx context.Context, eventType, requisitionID, requisitionNumber, decidedBy string) {
	if p == nil {
		return
	}

	data := map[string]interface{}{
		"requisition_id":     requisitionID,
		"requisition_number": requisitionNumber,
		"decided_by":         decidedBy,
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("requisition_id", requisitionID).Msg("failed to publish requisition decision event")
	}
}

// PublishBudgetThreshold publishes a budget alert threshold crossing
func (p *RequisitionEventPublisher) PublishBudgetThreshold(ctx context.Context, crossing *budget.ThresholdCrossing) {
	if p == nil || crossing == nil {
		return
	}

	data := messaging.BudgetThresholdEvent{
		DepartmentID: crossing.DepartmentID,
		FiscalYear:   crossing.FiscalYear,
		Utilization:  crossing.Utilization.String(),
		Threshold:    crossing.Threshold.String(),
	}

	if err := p.publisher.Publish(ctx, messaging.EventBudgetThresholdCrossed, data); err != nil {
		p.logger.Error().Err(err).Str("department_id", crossing.DepartmentID).Msg("failed to publish budget threshold event")
	}
}
