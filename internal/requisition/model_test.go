package requisition

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allStatuses := []string{
		StatusDraft, StatusPendingL1, StatusPendingL2, StatusApproved,
		StatusIssued, StatusCompleted, StatusCancelled, StatusRejected,
	}

	allowed := map[string]map[string]bool{
		StatusDraft:     {StatusPendingL1: true, StatusCancelled: true},
		StatusPendingL1: {StatusPendingL2: true, StatusApproved: true, StatusRejected: true, StatusCancelled: true},
		StatusPendingL2: {StatusApproved: true, StatusRejected: true, StatusCancelled: true},
		StatusApproved:  {StatusIssued: true, StatusRejected: true, StatusCancelled: true},
		StatusIssued:    {StatusCompleted: true, StatusCancelled: true},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[from][to]
			assert.Equal(t, want, CanTransition(from, to), "transition %s -> %s", from, to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.True(t, IsTerminal(StatusRejected))

	assert.False(t, IsTerminal(StatusDraft))
	assert.False(t, IsTerminal(StatusPendingL1))
	assert.False(t, IsTerminal(StatusPendingL2))
	assert.False(t, IsTerminal(StatusApproved))
	assert.False(t, IsTerminal(StatusIssued))
}

func TestRequisition_Transition(t *testing.T) {
	req := &Requisition{Status: StatusDraft}

	require.NoError(t, req.Transition(StatusPendingL1))
	assert.Equal(t, StatusPendingL1, req.Status)

	// Disallowed transition leaves the status untouched
	err := req.Transition(StatusCompleted)
	require.Error(t, err)
	assert.Equal(t, StatusPendingL1, req.Status)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "INVALID_TRANSITION", appErr.Code)
	assert.Equal(t, StatusPendingL1, appErr.Details["from"])
	assert.Equal(t, StatusCompleted, appErr.Details["to"])
}

func TestRequisition_CancellableBy(t *testing.T) {
	req := &Requisition{RequesterID: "user-1", Status: StatusPendingL1}

	assert.True(t, req.CancellableBy("user-1"))
	assert.False(t, req.CancellableBy("user-2"))

	req.Status = StatusApproved
	assert.False(t, req.CancellableBy("user-1"), "requester self-service ends at approval")

	req.Status = StatusDraft
	assert.True(t, req.CancellableBy("user-1"))
}

func TestRequisition_IsEditable(t *testing.T) {
	req := &Requisition{Status: StatusDraft}
	assert.True(t, req.IsEditable())

	for _, status := range []string{StatusPendingL1, StatusPendingL2, StatusApproved, StatusIssued, StatusCompleted, StatusCancelled, StatusRejected} {
		req.Status = status
		assert.False(t, req.IsEditable(), "status %s", status)
	}
}

func TestRequisition_EstimatedTotal(t *testing.T) {
	cost := func(s string) decimal.NullDecimal {
		d, err := decimal.NewFromString(s)
		require.NoError(t, err)
		return decimal.NullDecimal{Decimal: d, Valid: true}
	}

	req := &Requisition{
		Items: []*Item{
			{Quantity: 10, EstimatedUnitCost: cost("2.50")},
			{Quantity: 3, EstimatedUnitCost: cost("1.10")},
			{Quantity: 100}, // no estimate contributes zero
		},
	}

	assert.True(t, req.EstimatedTotal().Equal(decimal.RequireFromString("28.30")))
}

func TestValidUrgency(t *testing.T) {
	for _, urgency := range []string{UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical} {
		assert.True(t, ValidUrgency(urgency))
	}
	assert.False(t, ValidUrgency("asap"))
	assert.False(t, ValidUrgency(""))
}
