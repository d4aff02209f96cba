package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

// ===== File Repository Tests =====

func TestFileRepository_GetByFileName(t *testing.T) {
	mock := newMock(t)
	repo := NewFileRepository(mock)
	id := uuid.New()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM bank_files").
		WithArgs("a.ofx").
		WillReturnRows(pgxmock.NewRows([]string{"id", "file_name", "imported_at", "status"}).
			AddRow(id, "a.ofx", at, database.FileStatusCompleted))

	f, err := repo.GetByFileName(context.Background(), "a.ofx")
	require.NoError(t, err)
	assert.Equal(t, id, f.ID)
	assert.Equal(t, database.FileStatusCompleted, f.Status)
}

func TestFileRepository_GetByFileName_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewFileRepository(mock)

	mock.ExpectQuery("FROM bank_files").
		WithArgs("missing.ofx").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByFileName(context.Background(), "missing.ofx")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileRepository_UpdateAndDelete(t *testing.T) {
	mock := newMock(t)
	repo := NewFileRepository(mock)
	f := database.BankFile{ID: uuid.New(), FileName: "a.ofx", ImportedAt: time.Now(), Status: database.FileStatusCompleted}

	mock.ExpectExec("UPDATE bank_files").
		WithArgs(f.ID, f.FileName, f.ImportedAt, f.Status).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM bank_files").
		WithArgs(f.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, repo.Update(context.Background(), f))
	assert.ErrorIs(t, repo.Delete(context.Background(), f.ID), ErrNotFound)
}

// ===== Get-or-Create Tests =====

func TestBankRepository_GetOrCreate_Existing(t *testing.T) {
	mock := newMock(t)
	repo := NewBankRepository(mock)
	id := uuid.New()

	mock.ExpectQuery("FROM banks").
		WithArgs("A-BANK").
		WillReturnRows(pgxmock.NewRows([]string{"id", "bank_id", "name"}).AddRow(id, "A-BANK", "Alpha"))

	b, err := repo.GetOrCreate(context.Background(), "A-BANK", "ignored")
	require.NoError(t, err)
	assert.Equal(t, id, b.ID)
	assert.Equal(t, "Alpha", b.Name)
}

func TestBankRepository_GetOrCreate_Inserts(t *testing.T) {
	mock := newMock(t)
	repo := NewBankRepository(mock)
	id := uuid.New()

	mock.ExpectQuery("FROM banks").WithArgs("A-BANK").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO banks").
		WithArgs("A-BANK", "Alpha").
		WillReturnRows(pgxmock.NewRows([]string{"id", "bank_id", "name"}).AddRow(id, "A-BANK", "Alpha"))

	b, err := repo.GetOrCreate(context.Background(), "A-BANK", "Alpha")
	require.NoError(t, err)
	assert.Equal(t, id, b.ID)
}

func TestBankAccountRepository_GetOrCreate_LostRace(t *testing.T) {
	mock := newMock(t)
	repo := NewBankAccountRepository(mock)
	bankID, accountID := uuid.New(), uuid.New()
	cols := []string{"id", "bank_id", "account_id", "account_type"}

	mock.ExpectQuery("FROM bank_accounts").WithArgs(bankID, "301").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO bank_accounts").WithArgs(bankID, "301", "CHECKING").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM bank_accounts").
		WithArgs(bankID, "301").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(accountID, bankID, "301", "CHECKING"))

	a, err := repo.GetOrCreate(context.Background(), bankID, "301", "CHECKING")
	require.NoError(t, err)
	assert.Equal(t, accountID, a.ID)
}

func TestBankRepository_GetOrCreate_Error(t *testing.T) {
	mock := newMock(t)
	repo := NewBankRepository(mock)
	boom := errors.New("connection reset")

	mock.ExpectQuery("FROM banks").WithArgs("A-BANK").WillReturnError(boom)

	_, err := repo.GetOrCreate(context.Background(), "A-BANK", "Alpha")
	assert.ErrorIs(t, err, boom)
}

// ===== Category Cache Tests =====

func TestCategoryRepository_UsesCache(t *testing.T) {
	mock := newMock(t)
	cache, err := NewCategoryCache(16)
	require.NoError(t, err)
	repo := NewCategoryRepository(mock, cache)
	id := uuid.New()

	mock.ExpectQuery("FROM categories").WithArgs("Groceries").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO categories").
		WithArgs("Groceries").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(id, "Groceries"))

	got, err := repo.GetOrCreateID(context.Background(), "Groceries")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	// Served from the cache; no further queries are expected.
	got, err = repo.GetOrCreateID(context.Background(), "Groceries")
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, 1, cache.Len())
}

func TestCategoryRepository_RenameInvalidates(t *testing.T) {
	mock := newMock(t)
	cache, err := NewCategoryCache(16)
	require.NoError(t, err)
	repo := NewCategoryRepository(mock, cache)
	id, other := uuid.New(), uuid.New()
	cache.Put("Food", id)
	cache.Put("Travel", other)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE categories")).
		WithArgs(id, "Groceries").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Rename(context.Background(), id, "Groceries"))

	_, ok := cache.Get("Food")
	assert.False(t, ok)
	got, ok := cache.Get("Travel")
	assert.True(t, ok)
	assert.Equal(t, other, got)
}

func TestCategoryCache_Eviction(t *testing.T) {
	cache, err := NewCategoryCache(2)
	require.NoError(t, err)

	cache.Put("a", uuid.New())
	cache.Put("b", uuid.New())
	cache.Put("c", uuid.New())

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("a")
	assert.False(t, ok)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}
