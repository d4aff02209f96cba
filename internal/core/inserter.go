package core

// inserter.go loads batches of transactions with COPY after removing rows
// whose FITID is already stored.
//
// Deduplication is global: a FITID seen in any earlier import, or earlier in
// the same batch, is counted as a duplicate and skipped. The first
// occurrence wins.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/ofximport/internal/database"
)

// InsertResult reports the outcome of one batch.
type InsertResult struct {
	Inserted   int
	Duplicates int
}

// Inserter bulk-loads transaction rows.
type Inserter struct {
	q      *database.Queries
	logger *slog.Logger
}

func NewInserter(db database.DBTX, logger *slog.Logger) *Inserter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inserter{q: database.New(db), logger: logger}
}

// Insert writes the rows whose FITID is not yet stored. It holds no state
// between calls and may be retried with the same rows.
func (i *Inserter) Insert(ctx context.Context, rows []database.TransactionRow) (InsertResult, error) {
	if len(rows) == 0 {
		return InsertResult{}, nil
	}

	ids := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.FitID]; ok {
			continue
		}
		seen[r.FitID] = struct{}{}
		ids = append(ids, r.FitID)
	}

	existing, err := i.q.ExistingFitIDs(ctx, ids)
	if err != nil {
		return InsertResult{}, fmt.Errorf("check existing fit ids: %w", err)
	}

	skip := make(map[string]struct{}, len(existing)+len(rows))
	for _, id := range existing {
		skip[id] = struct{}{}
	}

	var result InsertResult
	fresh := make([]database.TransactionRow, 0, len(rows))
	for _, r := range rows {
		if _, ok := skip[r.FitID]; ok {
			result.Duplicates++
			continue
		}
		skip[r.FitID] = struct{}{}
		fresh = append(fresh, r)
	}

	if len(fresh) == 0 {
		return result, nil
	}

	n, err := i.q.CopyTransactions(ctx, fresh)
	if err != nil {
		i.logger.Error("bulk load failed",
			"file_id", fresh[0].FileID,
			"rows", len(fresh),
			"first_fit_id", fresh[0].FitID,
			"error", err,
		)
		return InsertResult{}, fmt.Errorf("copy transactions: %w", err)
	}

	result.Inserted = int(n)
	return result, nil
}
