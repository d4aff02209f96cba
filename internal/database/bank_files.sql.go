package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const getBankFileByName = `-- name: GetBankFileByName :one
SELECT id, file_name, imported_at, status FROM bank_files
WHERE file_name = $1
`

func (q *Queries) GetBankFileByName(ctx context.Context, fileName string) (BankFile, error) {
	row := q.db.QueryRow(ctx, getBankFileByName, fileName)
	var i BankFile
	err := row.Scan(
		&i.ID,
		&i.FileName,
		&i.ImportedAt,
		&i.Status,
	)
	return i, err
}

const createBankFile = `-- name: CreateBankFile :one
INSERT INTO bank_files (file_name, imported_at, status)
VALUES ($1, $2, $3)
RETURNING id, file_name, imported_at, status
`

type CreateBankFileParams struct {
	FileName   string     `json:"file_name"`
	ImportedAt time.Time  `json:"imported_at"`
	Status     FileStatus `json:"status"`
}

func (q *Queries) CreateBankFile(ctx context.Context, arg CreateBankFileParams) (BankFile, error) {
	row := q.db.QueryRow(ctx, createBankFile, arg.FileName, arg.ImportedAt, arg.Status)
	var i BankFile
	err := row.Scan(
		&i.ID,
		&i.FileName,
		&i.ImportedAt,
		&i.Status,
	)
	return i, err
}

const updateBankFile = `-- name: UpdateBankFile :execrows
UPDATE bank_files
SET file_name = $2, imported_at = $3, status = $4
WHERE id = $1
`

type UpdateBankFileParams struct {
	ID         uuid.UUID  `json:"id"`
	FileName   string     `json:"file_name"`
	ImportedAt time.Time  `json:"imported_at"`
	Status     FileStatus `json:"status"`
}

func (q *Queries) UpdateBankFile(ctx context.Context, arg UpdateBankFileParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateBankFile,
		arg.ID,
		arg.FileName,
		arg.ImportedAt,
		arg.Status,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteBankFile = `-- name: DeleteBankFile :execrows
DELETE FROM bank_files
WHERE id = $1
`

func (q *Queries) DeleteBankFile(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deleteBankFile, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listBankFilesByStatusBefore = `-- name: ListBankFilesByStatusBefore :many
SELECT id, file_name, imported_at, status FROM bank_files
WHERE status = $1 AND imported_at < $2
ORDER BY imported_at
LIMIT $3
`

type ListBankFilesByStatusBeforeParams struct {
	Status FileStatus `json:"status"`
	Before time.Time  `json:"before"`
	Limit  int32      `json:"limit"`
}

func (q *Queries) ListBankFilesByStatusBefore(ctx context.Context, arg ListBankFilesByStatusBeforeParams) ([]BankFile, error) {
	rows, err := q.db.Query(ctx, listBankFilesByStatusBefore, arg.Status, arg.Before, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BankFile
	for rows.Next() {
		var i BankFile
		if err := rows.Scan(
			&i.ID,
			&i.FileName,
			&i.ImportedAt,
			&i.Status,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
