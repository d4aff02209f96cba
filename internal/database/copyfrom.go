package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// TransactionColumns is the column order used by CopyTransactions.
var TransactionColumns = []string{
	"file_id",
	"fit_id",
	"posted_at",
	"amount",
	"description",
	"category_id",
	"bank_account_id",
}

// iteratorForCopyTransactions implements pgx.CopyFromSource.
type iteratorForCopyTransactions struct {
	rows                 []TransactionRow
	skippedFirstNextCall bool
}

func (r *iteratorForCopyTransactions) Next() bool {
	if len(r.rows) == 0 {
		return false
	}
	if !r.skippedFirstNextCall {
		r.skippedFirstNextCall = true
		return true
	}
	r.rows = r.rows[1:]
	return len(r.rows) > 0
}

func (r iteratorForCopyTransactions) Values() ([]interface{}, error) {
	row := r.rows[0]
	return []interface{}{
		row.FileID,
		row.FitID,
		row.PostedAt,
		NumericFromDecimal(row.Amount),
		row.Description,
		row.CategoryID,
		row.BankAccountID,
	}, nil
}

func (r iteratorForCopyTransactions) Err() error {
	return nil
}

// CopyTransactions bulk loads rows with the binary COPY protocol.
func (q *Queries) CopyTransactions(ctx context.Context, rows []TransactionRow) (int64, error) {
	return q.db.CopyFrom(ctx, pgx.Identifier{"transactions"}, TransactionColumns, &iteratorForCopyTransactions{rows: rows})
}

// NumericFromDecimal converts an exact decimal to its Postgres numeric form.
func NumericFromDecimal(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   d.Coefficient(),
		Exp:   d.Exponent(),
		Valid: true,
	}
}
