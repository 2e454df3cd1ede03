package budget_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stockroom/stockroom-backend/internal/budget"
	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var budgetCols = []string{
	"id", "department_id", "fiscal_year", "allocated", "available", "reserved",
	"spent", "alert_threshold_pct", "created_at", "updated_at",
}

func budgetRow(allocated, available, reserved, spent, threshold string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(budgetCols).
		AddRow("bud-1", "dept-1", 2026, allocated, available, reserved, spent, threshold, now, now)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDepartmentBudget_UtilizationPercent(t *testing.T) {
	tests := []struct {
		name      string
		allocated string
		reserved  string
		spent     string
		want      string
	}{
		{"untouched", "10000", "0", "0", "0"},
		{"reservations do not count as spend", "10000", "2500", "0", "0"},
		{"spent only", "10000", "0", "1000", "10"},
		{"both buckets", "10000", "2500", "1000", "10"},
		{"rounds to two places", "3000", "0", "1000", "33.33"},
		{"zero allocation", "0", "500", "500", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &budget.DepartmentBudget{
				Allocated: dec(tt.allocated),
				Reserved:  dec(tt.reserved),
				Spent:     dec(tt.spent),
			}
			assert.True(t, dec(tt.want).Equal(b.UtilizationPercent()),
				"want %s, got %s", tt.want, b.UtilizationPercent())
		})
	}
}

func TestDepartmentBudget_CommittedPercent(t *testing.T) {
	tests := []struct {
		name      string
		allocated string
		reserved  string
		spent     string
		want      string
	}{
		{"reserved only", "10000", "2500", "0", "25"},
		{"both buckets", "10000", "2500", "1000", "35"},
		{"zero allocation", "0", "500", "500", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &budget.DepartmentBudget{
				Allocated: dec(tt.allocated),
				Reserved:  dec(tt.reserved),
				Spent:     dec(tt.spent),
			}
			assert.True(t, dec(tt.want).Equal(b.CommittedPercent()),
				"want %s, got %s", tt.want, b.CommittedPercent())
		})
	}
}

func TestTracker_Reserve_MovesAvailableToReserved(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	tracker := budget.NewTracker(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetRow("10000", "8000", "1000", "1000", "80"))
	mockDB.ExpectExec("UPDATE department_budgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	crossing, err := tracker.Reserve(context.Background(), "dept-1", 2026, dec("500"))
	require.NoError(t, err)
	assert.Nil(t, crossing, "utilization stays under threshold")

	mockDB.ExpectationsWereMet(t)
}

func TestTracker_Reserve_ExceedsAvailable(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	tracker := budget.NewTracker(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetRow("10000", "300", "8700", "1000", "80"))
	mockDB.ExpectRollback()

	_, err := tracker.Reserve(context.Background(), "dept-1", 2026, dec("500"))
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "BUDGET_EXCEEDED", appErr.Code)

	mockDB.ExpectationsWereMet(t)
}

func TestTracker_Reserve_MissingBudgetIsUnrestricted(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	tracker := budget.NewTracker(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(budgetCols))
	mockDB.ExpectCommit()

	crossing, err := tracker.Reserve(context.Background(), "dept-99", 2026, dec("500"))
	require.NoError(t, err)
	assert.Nil(t, crossing)

	mockDB.ExpectationsWereMet(t)
}

func TestTracker_Reserve_ReportsThresholdCrossing(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	tracker := budget.NewTracker(mockDB.DB)

	// 70% utilized, reserving 1500 lands at 85% across the 80% threshold
	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetRow("10000", "3000", "4000", "3000", "80"))
	mockDB.ExpectExec("UPDATE department_budgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	crossing, err := tracker.Reserve(context.Background(), "dept-1", 2026, dec("1500"))
	require.NoError(t, err)

	require.NotNil(t, crossing)
	assert.Equal(t, "dept-1", crossing.DepartmentID)
	assert.Equal(t, 2026, crossing.FiscalYear)
	assert.True(t, dec("85").Equal(crossing.Utilization))
	assert.True(t, dec("80").Equal(crossing.Threshold))

	mockDB.ExpectationsWereMet(t)
}

func TestTracker_Reserve_NoRepeatAlertAboveThreshold(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	tracker := budget.NewTracker(mockDB.DB)

	// Already at 85%, further reservation stays above but does not re-alert
	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetRow("10000", "1500", "5500", "3000", "80"))
	mockDB.ExpectExec("UPDATE department_budgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	crossing, err := tracker.Reserve(context.Background(), "dept-1", 2026, dec("500"))
	require.NoError(t, err)
	assert.Nil(t, crossing)

	mockDB.ExpectationsWereMet(t)
}

func TestTracker_Release_ClampedToReserved(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	tracker := budget.NewTracker(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetRow("10000", "8000", "300", "1700", "80"))
	mockDB.Mock.ExpectExec("UPDATE department_budgets").
		WithArgs("bud-1", testutil.DecimalArg("8300"), testutil.DecimalArg("0"), testutil.DecimalArg("1700")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	err := tracker.Release(context.Background(), "dept-1", 2026, dec("500"))
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestTracker_Spend_OverflowDrawsFromAvailable(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	tracker := budget.NewTracker(mockDB.DB)

	// 400 reserved, spending 600: 400 from reserved, 200 from available
	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(budgetRow("10000", "5000", "400", "4600", "80"))
	mockDB.Mock.ExpectExec("UPDATE department_budgets").
		WithArgs("bud-1", testutil.DecimalArg("4800"), testutil.DecimalArg("0"), testutil.DecimalArg("5200")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	err := tracker.Spend(context.Background(), "dept-1", 2026, dec("600"))
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestTracker_Reserve_NegativeAmount(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	tracker := budget.NewTracker(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.ExpectRollback()

	_, err := tracker.Reserve(context.Background(), "dept-1", 2026, dec("-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}
