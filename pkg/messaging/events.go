package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Requisition workflow events
	EventRequisitionAwaitingApproval = "requisition.awaiting_approval"
	EventRequisitionApproved         = "requisition.approved"
	EventRequisitionRejected         = "requisition.rejected"

	// Inventory events
	EventStockAdjusted = "inventory.stock.adjusted"
	EventStockLow      = "inventory.stock.low"
	EventIssueCreated  = "inventory.issue.created"

	// Budget events
	EventBudgetThresholdCrossed = "budget.alert.threshold"

	// User events (consumed from the identity provider)
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// Exchange names
const (
	ExchangeStockroomEvents = "stockroom.events"
	ExchangeUserEvents      = "user.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// RequisitionAwaitingApprovalEvent signals an approver has work pending.
type RequisitionAwaitingApprovalEvent struct {
	RequisitionID     string `json:"requisition_id"`
	RequisitionNumber string `json:"requisition_number"`
	DepartmentID      string `json:"department_id"`
	ApproverID        string `json:"approver_id"`
	Level             int    `json:"level"`
}

// StockLowEvent is published when stock crosses an item's reorder point.
type StockLowEvent struct {
	ItemID       string `json:"item_id"`
	ItemCode     string `json:"item_code"`
	LocationID   string `json:"location_id"`
	Quantity     int    `json:"quantity"`
	ReorderPoint int    `json:"reorder_point"`
}

// StockAdjustedEvent is published after a ledger mutation commits.
type StockAdjustedEvent struct {
	ItemID      string `json:"item_id"`
	LocationID  string `json:"location_id"`
	Adjustment  int    `json:"adjustment"`
	NewQuantity int    `json:"new_quantity"`
	PerformedBy string `json:"performed_by"`
	Reason      string `json:"reason,omitempty"`
}

// BudgetThresholdEvent is published when spend crosses the alert threshold.
type BudgetThresholdEvent struct {
	DepartmentID string `json:"department_id"`
	FiscalYear   int    `json:"fiscal_year"`
	Utilization  string `json:"utilization_percent"`
	Threshold    string `json:"threshold_percent"`
}

// UserUpdatedEvent mirrors the identity provider's user payloads; only
// the fields the audit display cache needs.
type UserUpdatedEvent struct {
	UserID       string  `json:"user_id"`
	DisplayName  string  `json:"display_name"`
	Email        string  `json:"email"`
	DepartmentID *string `json:"department_id,omitempty"`
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the correlation ID, or "" if unset.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}
