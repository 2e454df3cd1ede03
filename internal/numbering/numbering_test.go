package numbering_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stockroom/stockroom-backend/internal/numbering"
	"github.com/stockroom/stockroom-backend/pkg/errors"
	"github.com/stockroom/stockroom-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Next_FirstNumberOfYear(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	gen := numbering.NewGenerator(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.ExpectExec("INSERT INTO document_sequences").
		WithArgs("REQ", 2026).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("SELECT last_value").
		WithArgs("REQ", 2026).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(0))
	mockDB.ExpectExec("UPDATE document_sequences").
		WithArgs("REQ", 2026, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	number, err := gen.Next(context.Background(), numbering.DocTypeRequisition, 2026)
	require.NoError(t, err)
	assert.Equal(t, "REQ-2026-000001", number)

	mockDB.ExpectationsWereMet(t)
}

func TestGenerator_Next_IncrementsExistingSequence(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	gen := numbering.NewGenerator(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.ExpectExec("INSERT INTO document_sequences").
		WithArgs("ISS", 2026).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectQuery("SELECT last_value").
		WithArgs("ISS", 2026).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(122))
	mockDB.ExpectExec("UPDATE document_sequences").
		WithArgs("ISS", 2026, 123).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	number, err := gen.Next(context.Background(), numbering.DocTypeIssue, 2026)
	require.NoError(t, err)
	assert.Equal(t, "ISS-2026-000123", number)

	mockDB.ExpectationsWereMet(t)
}

func TestGenerator_Next_UnknownDocType(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	gen := numbering.NewGenerator(mockDB.DB)

	_, err := gen.Next(context.Background(), "PO", 2026)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestGenerator_Next_SequencesAreIndependentPerYear(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	gen := numbering.NewGenerator(mockDB.DB)

	mockDB.ExpectBegin()
	mockDB.ExpectExec("INSERT INTO document_sequences").
		WithArgs("RET", 2027).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("SELECT last_value").
		WithArgs("RET", 2027).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(0))
	mockDB.ExpectExec("UPDATE document_sequences").
		WithArgs("RET", 2027, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	number, err := gen.Next(context.Background(), numbering.DocTypeReturn, 2027)
	require.NoError(t, err)
	assert.Equal(t, "RET-2027-000001", number)

	mockDB.ExpectationsWereMet(t)
}
