package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// FileRepository persists bank file records.
type FileRepository struct {
	q *database.Queries
}

func NewFileRepository(db database.DBTX) *FileRepository {
	return &FileRepository{q: database.New(db)}
}

// GetByFileName returns ErrNotFound when no record exists for name.
func (r *FileRepository) GetByFileName(ctx context.Context, name string) (database.BankFile, error) {
	f, err := r.q.GetBankFileByName(ctx, name)
	if errors.Is(err, pgx.ErrNoRows) {
		return database.BankFile{}, ErrNotFound
	}
	if err != nil {
		return database.BankFile{}, fmt.Errorf("get bank file %q: %w", name, err)
	}
	return f, nil
}

func (r *FileRepository) Create(ctx context.Context, f database.BankFile) (database.BankFile, error) {
	created, err := r.q.CreateBankFile(ctx, database.CreateBankFileParams{
		FileName:   f.FileName,
		ImportedAt: f.ImportedAt,
		Status:     f.Status,
	})
	if err != nil {
		return database.BankFile{}, fmt.Errorf("create bank file %q: %w", f.FileName, err)
	}
	return created, nil
}

func (r *FileRepository) Update(ctx context.Context, f database.BankFile) error {
	n, err := r.q.UpdateBankFile(ctx, database.UpdateBankFileParams{
		ID:         f.ID,
		FileName:   f.FileName,
		ImportedAt: f.ImportedAt,
		Status:     f.Status,
	})
	if err != nil {
		return fmt.Errorf("update bank file %q: %w", f.FileName, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a file record and, through the foreign key, every
// transaction loaded from it.
func (r *FileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := r.q.DeleteBankFile(ctx, id)
	if err != nil {
		return fmt.Errorf("delete bank file %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInProgressBefore returns up to limit InProgress records started
// before the cutoff, oldest first.
func (r *FileRepository) ListInProgressBefore(ctx context.Context, cutoff time.Time, limit int) ([]database.BankFile, error) {
	files, err := r.q.ListBankFilesByStatusBefore(ctx, database.ListBankFilesByStatusBeforeParams{
		Status: database.FileStatusInProgress,
		Before: cutoff,
		Limit:  int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list stale bank files: %w", err)
	}
	return files, nil
}

// CountTransactions returns the number of rows loaded from the file.
func (r *FileRepository) CountTransactions(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := r.q.CountTransactionsByFile(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("count transactions for file %s: %w", id, err)
	}
	return n, nil
}
