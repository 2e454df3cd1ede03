package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stockroom/stockroom-backend/internal/inventory/repository"
	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stockCols = []string{
	"id", "item_id", "location_id", "batch_number", "quantity", "unit_cost",
	"total_value", "expiry_date", "created_at", "updated_at",
}

func stockRow(id, itemID, locationID string, quantity int, unitCost interface{}) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(stockCols).
		AddRow(id, itemID, locationID, nil, quantity, unitCost, "0", nil, now, now)
}

func TestStockRepository_Adjust_AddCreatesRecord(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewStockRepository(mockDB.DB)

	mockDB.ExpectBegin()
	// No existing record for the cell
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(stockCols))
	mockDB.ExpectQuery("INSERT INTO stock_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mockDB.ExpectCommit()

	movement, err := repo.Adjust(context.Background(), repository.AdjustParams{
		ItemID:      "item-1",
		LocationID:  "loc-1",
		Mode:        repository.AdjustAdd,
		Delta:       25,
		PerformedBy: "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, movement.PreviousQuantity)
	assert.Equal(t, 25, movement.NewQuantity)
	assert.Equal(t, repository.MovementAdjust, movement.MovementType)

	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_Adjust_RemoveBelowZero(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewStockRepository(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(stockRow("rec-1", "item-1", "loc-1", 5, nil))
	mockDB.ExpectRollback()

	_, err := repo.Adjust(context.Background(), repository.AdjustParams{
		ItemID:      "item-1",
		LocationID:  "loc-1",
		Mode:        repository.AdjustRemove,
		Delta:       10,
		PerformedBy: "user-1",
	})
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)
	assert.Contains(t, appErr.Details["item-1"], "available 5")

	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_Adjust_RemoveFromMissingRecord(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewStockRepository(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(stockCols))
	mockDB.ExpectRollback()

	_, err := repo.Adjust(context.Background(), repository.AdjustParams{
		ItemID:      "item-1",
		LocationID:  "loc-1",
		Mode:        repository.AdjustRemove,
		Delta:       1,
		PerformedBy: "user-1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_Adjust_SetOverwritesQuantity(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewStockRepository(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(stockRow("rec-1", "item-1", "loc-1", 40, "2.00"))
	mockDB.ExpectExec("UPDATE stock_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mockDB.ExpectCommit()

	movement, err := repo.Adjust(context.Background(), repository.AdjustParams{
		ItemID:      "item-1",
		LocationID:  "loc-1",
		Mode:        repository.AdjustSet,
		Delta:       12,
		PerformedBy: "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, 40, movement.PreviousQuantity)
	assert.Equal(t, 12, movement.NewQuantity)

	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_Adjust_NegativeDelta(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewStockRepository(mockDB.DB)

	_, err := repo.Adjust(context.Background(), repository.AdjustParams{
		ItemID:      "item-1",
		LocationID:  "loc-1",
		Mode:        repository.AdjustAdd,
		Delta:       -5,
		PerformedBy: "user-1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestStockRepository_IssueStock_ReportsAllShortLines(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewStockRepository(mockDB.DB)

	mockDB.ExpectBegin()
	// Line 1 short: 3 available, 10 requested
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(stockRow("rec-1", "item-1", "loc-1", 3, nil))
	// Line 2 sufficient
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(stockRow("rec-2", "item-2", "loc-1", 50, nil))
	// Line 3 missing entirely
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(stockCols))
	mockDB.ExpectRollback()

	lines := []repository.StockLine{
		{ItemID: "item-1", LocationID: "loc-1", Quantity: 10},
		{ItemID: "item-2", LocationID: "loc-1", Quantity: 20},
		{ItemID: "item-3", LocationID: "loc-1", Quantity: 5},
	}

	err := repo.IssueStock(context.Background(), lines, nil, "user-1")
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)

	// Every short line is reported, not just the first
	assert.Len(t, appErr.Details, 2)
	assert.Contains(t, appErr.Details["item-1"], "requested 10, available 3")
	assert.Contains(t, appErr.Details["item-3"], "requested 5, available 0")

	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_IssueStock_AllLinesDecremented(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewStockRepository(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(stockRow("rec-1", "item-1", "loc-1", 30, nil))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(stockRow("rec-2", "item-2", "loc-1", 8, nil))
	mockDB.ExpectExec("UPDATE stock_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mockDB.ExpectExec("UPDATE stock_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mockDB.ExpectCommit()

	lines := []repository.StockLine{
		{ItemID: "item-1", LocationID: "loc-1", Quantity: 10},
		{ItemID: "item-2", LocationID: "loc-1", Quantity: 8},
	}

	err := repo.IssueStock(context.Background(), lines, nil, "user-1")
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_Transfer_MovesBothLegs(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewStockRepository(mockDB.DB)

	mockDB.ExpectBegin()
	// Rows are locked in location id order: loc-a before loc-b
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(stockRow("rec-src", "item-1", "loc-a", 20, "1.50"))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(stockRow("rec-dst", "item-1", "loc-b", 4, nil))
	mockDB.ExpectExec("UPDATE stock_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("UPDATE stock_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mockDB.ExpectQuery("INSERT INTO stock_movements").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mockDB.ExpectCommit()

	err := repo.Transfer(context.Background(), "item-1", "loc-a", "loc-b", nil, 6, "user-1")
	require.NoError(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_Transfer_InsufficientAtSource(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewStockRepository(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(stockRow("rec-src", "item-1", "loc-a", 2, nil))
	mockDB.Mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(stockCols))
	mockDB.ExpectRollback()

	err := repo.Transfer(context.Background(), "item-1", "loc-a", "loc-b", nil, 6, "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_Transfer_SameLocation(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := repository.NewStockRepository(mockDB.DB)

	err := repo.Transfer(context.Background(), "item-1", "loc-a", "loc-a", nil, 6, "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}
