// Package store implements the relational collaborators of the import
// pipeline on top of the database queries.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// getOrCreate looks a row up, inserts it when missing, and looks it up
// again when the insert lost a race to a concurrent writer. insert must
// return pgx.ErrNoRows when the row already existed (ON CONFLICT DO NOTHING).
func getOrCreate[T any](ctx context.Context, get, insert func(context.Context) (T, error)) (T, error) {
	v, err := get(ctx)
	if err == nil || !errors.Is(err, pgx.ErrNoRows) {
		return v, err
	}

	v, err = insert(ctx)
	if err == nil || !errors.Is(err, pgx.ErrNoRows) {
		return v, err
	}

	return get(ctx)
}
