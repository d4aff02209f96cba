package database

import (
	"context"

	"github.com/google/uuid"
)

const existingFitIDs = `-- name: ExistingFitIDs :many
SELECT fit_id FROM transactions
WHERE fit_id = ANY($1::text[])
`

func (q *Queries) ExistingFitIDs(ctx context.Context, fitIds []string) ([]string, error) {
	rows, err := q.db.Query(ctx, existingFitIDs, fitIds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var fit_id string
		if err := rows.Scan(&fit_id); err != nil {
			return nil, err
		}
		items = append(items, fit_id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countTransactionsByFile = `-- name: CountTransactionsByFile :one
SELECT count(*) FROM transactions
WHERE file_id = $1
`

func (q *Queries) CountTransactionsByFile(ctx context.Context, fileID uuid.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, countTransactionsByFile, fileID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
