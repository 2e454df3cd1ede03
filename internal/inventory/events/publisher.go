package events

import (
	"context"

	"github.com/stockroom/stockroom-backend/internal/inventory/repository"
	"github.com/stockroom/stockroom-backend/pkg/logger"
	"github.com/stockroom/stockroom-backend/pkg/messaging"
)

// StockroomEventPublisher publishes inventory-related events. A nil
// publisher is a no-op, so services run without a broker in tests.
type StockroomEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockroomEventPublisher creates a new stockroom event publisher
func NewStockroomEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockroomEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockroomEvents, "stockroom-service", log)
	if err != nil {
		return nil, err
	}

	return &StockroomEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishStockAdjusted publishes a stock adjusted event
func (p *StockroomEventPublisher) PublishStockAdjusted(ctx context.Context, m *repository.StockMovement) {
	if p == nil {
		return
	}

	reason := ""
	if m.Reason != nil {
		reason = *m.Reason
	}

	data := messaging.StockAdjustedEvent{
		ItemID:      m.ItemID,
		LocationID:  m.LocationID,
		Adjustment:  m.NewQuantity - m.PreviousQuantity,
		NewQuantity: m.NewQuantity,
		PerformedBy: m.PerformedBy,
		Reason:      reason,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockAdjusted, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", m.ItemID).Msg("failed to publish stock adjusted event")
	}
}

// PublishStockLow publishes a low stock event
func (p *StockroomEventPublisher) PublishStockLow(ctx context.Context, item *repository.Item, locationID string, quantity int) {
	if p == nil {
		return
	}

	data := messaging.StockLowEvent{
		ItemID:       item.ID,
		ItemCode:     item.Code,
		LocationID:   locationID,
		Quantity:     quantity,
		ReorderPoint: item.ReorderPoint,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockLow, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to publish stock low event")
	}
}

// PublishIssueCreated publishes an issue created event
func (p *StockroomEventPublisher) PublishIssueCreated(ctx context.Context, issue *repository.Issue) {
	if p == nil {
		return
	}

	data := map[string]interface{}{
		"issue_id":     issue.ID,
		"issue_number": issue.IssueNumber,
		"issued_to":    issue.IssuedTo,
		"issued_by":    issue.IssuedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventIssueCreated, data); err != nil {
		p.logger.Error().Err(err).Str("issue_id", issue.ID).Msg("failed to publish issue created event")
	}
}
