package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInserterMock(t *testing.T) (*Inserter, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return NewInserter(mock, discardLogger()), mock
}

func testRows(fitIDs ...string) []database.TransactionRow {
	fileID, account, category := uuid.New(), uuid.New(), uuid.New()
	rows := make([]database.TransactionRow, len(fitIDs))
	for i, id := range fitIDs {
		rows[i] = database.TransactionRow{
			FileID:        fileID,
			FitID:         id,
			PostedAt:      time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
			Amount:        decimal.RequireFromString("-19.00"),
			Description:   "Coffee Shop",
			CategoryID:    category,
			BankAccountID: account,
		}
	}
	return rows
}

func TestInserter_EmptyBatch(t *testing.T) {
	ins, _ := newInserterMock(t)

	res, err := ins.Insert(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, InsertResult{}, res)
}

func TestInserter_SkipsStoredAndRepeatedFitIDs(t *testing.T) {
	ins, mock := newInserterMock(t)

	mock.ExpectQuery("SELECT fit_id FROM transactions").
		WithArgs([]string{"a", "b", "c"}).
		WillReturnRows(pgxmock.NewRows([]string{"fit_id"}).AddRow("b"))
	mock.ExpectCopyFrom(pgx.Identifier{"transactions"}, database.TransactionColumns).
		WillReturnResult(2)

	res, err := ins.Insert(context.Background(), testRows("a", "b", "c", "a"))
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 2, Duplicates: 2}, res)
}

func TestInserter_AllDuplicatesSkipsCopy(t *testing.T) {
	ins, mock := newInserterMock(t)

	mock.ExpectQuery("SELECT fit_id FROM transactions").
		WithArgs([]string{"a", "b"}).
		WillReturnRows(pgxmock.NewRows([]string{"fit_id"}).AddRow("a").AddRow("b"))

	res, err := ins.Insert(context.Background(), testRows("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Duplicates: 2}, res)
}

func TestInserter_LookupFailure(t *testing.T) {
	ins, mock := newInserterMock(t)
	boom := errors.New("connection reset by peer")

	mock.ExpectQuery("SELECT fit_id FROM transactions").
		WithArgs([]string{"a"}).
		WillReturnError(boom)

	_, err := ins.Insert(context.Background(), testRows("a"))
	assert.ErrorIs(t, err, boom)
}

func TestInserter_CopyFailureIsReturned(t *testing.T) {
	ins, mock := newInserterMock(t)
	boom := errors.New("COPY failed")

	mock.ExpectQuery("SELECT fit_id FROM transactions").
		WithArgs([]string{"a"}).
		WillReturnRows(pgxmock.NewRows([]string{"fit_id"}))
	mock.ExpectCopyFrom(pgx.Identifier{"transactions"}, database.TransactionColumns).
		WillReturnError(boom)

	res, err := ins.Insert(context.Background(), testRows("a"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, InsertResult{}, res)
}
