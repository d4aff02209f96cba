package core

// processor.go drives one import from parsed statements to stored rows.
//
// Statements are processed in document order. For each one the bank and
// account are resolved, then transactions are validated, mapped to rows and
// flushed in batches of at most BatchSize. A partial batch is flushed at the
// end of every statement. The lease is renewed between transactions and
// before every flush.

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/JonMunkholm/ofximport/internal/ofx"
	"github.com/JonMunkholm/ofximport/internal/retry"
	"github.com/google/uuid"
)

// DefaultBatchSize is the number of rows sent to the database per COPY.
const DefaultBatchSize = 1000

const (
	warnUnreadable = "transactions with unreadable fields were skipped"
	warnInvalid    = "invalid transactions were skipped"
)

type BankRepository interface {
	GetOrCreate(ctx context.Context, bankID, name string) (database.Bank, error)
}

type BankAccountRepository interface {
	GetOrCreate(ctx context.Context, bankID uuid.UUID, accountID, accountType string) (database.BankAccount, error)
}

type CategoryRepository interface {
	GetOrCreateID(ctx context.Context, name string) (uuid.UUID, error)
}

type BatchInserter interface {
	Insert(ctx context.Context, rows []database.TransactionRow) (InsertResult, error)
}

// StatementSource yields statements in document order and io.EOF at the end.
type StatementSource interface {
	NextStatement(ctx context.Context) (*ofx.Statement, error)
}

// Scope is the exclusive claim an import runs under.
type Scope interface {
	File() database.BankFile
	RenewIfDue(ctx context.Context) error
}

// ImportResult summarizes one import.
//
// Imported + Duplicates + Errors == Total once every batch has been flushed.
type ImportResult struct {
	FileName   string        `json:"file_name"`
	FileID     uuid.UUID     `json:"file_id"`
	Statements int           `json:"statements"`
	Total      int           `json:"total"`
	Imported   int           `json:"imported"`
	Duplicates int           `json:"skipped_duplicates"`
	Errors     int           `json:"errors"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration_ns"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// ProcessorDeps are the stores a Processor writes through.
type ProcessorDeps struct {
	Banks      BankRepository
	Accounts   BankAccountRepository
	Categories CategoryRepository
	Inserter   BatchInserter
	Retry      *retry.Policy
}

// Processor turns statements into stored transactions.
type Processor struct {
	deps      ProcessorDeps
	batchSize int
	logger    *slog.Logger
}

func NewProcessor(deps ProcessorDeps, batchSize int, logger *slog.Logger) *Processor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{deps: deps, batchSize: batchSize, logger: logger}
}

// importBatch accumulates rows and counters for one import.
type importBatch struct {
	file     database.BankFile
	rows     []database.TransactionRow
	result   ImportResult
	warnings map[string]int
}

// Process imports every statement from src under scope. On failure the
// returned result holds the counts of batches flushed so far.
func (p *Processor) Process(ctx context.Context, scope Scope, src StatementSource) (ImportResult, error) {
	file := scope.File()
	b := &importBatch{
		file: file,
		rows: make([]database.TransactionRow, 0, min(p.batchSize, DefaultBatchSize)),
		result: ImportResult{
			FileName: file.FileName,
			FileID:   file.ID,
		},
		warnings: make(map[string]int),
	}

	for {
		st, err := src.NextStatement(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return b.summary(), err
		}
		b.result.Statements++
		if err := p.processStatement(ctx, scope, b, st); err != nil {
			return b.summary(), err
		}
	}
	return b.summary(), nil
}

func (p *Processor) processStatement(ctx context.Context, scope Scope, b *importBatch, st *ofx.Statement) error {
	if err := scope.RenewIfDue(ctx); err != nil {
		return err
	}

	logger := p.logger.With("file_id", b.file.ID, "bank_id", st.BankID, "account_id", st.AccountID)

	bank, err := retry.DoValue(ctx, p.deps.Retry, "get or create bank", func(ctx context.Context) (database.Bank, error) {
		return p.deps.Banks.GetOrCreate(ctx, st.BankID, st.BankName)
	})
	if err != nil {
		return err
	}
	account, err := retry.DoValue(ctx, p.deps.Retry, "get or create account", func(ctx context.Context) (database.BankAccount, error) {
		return p.deps.Accounts.GetOrCreate(ctx, bank.ID, st.AccountID, st.AccountType)
	})
	if err != nil {
		return err
	}

	for {
		tx, err := st.NextTransaction(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ofx.ErrFieldSkipped) {
			b.result.Total++
			b.result.Errors++
			b.warn(warnUnreadable)
			continue
		}
		if err != nil {
			return err
		}

		b.result.Total++
		if verr := ValidateTransaction(tx); verr != nil {
			b.result.Errors++
			b.warn(warnInvalid)
			logger.Warn("skipping invalid transaction", "fit_id", tx.ID, "error", verr)
			continue
		}

		category := strings.TrimSpace(tx.Category)
		categoryID, err := retry.DoValue(ctx, p.deps.Retry, "get or create category", func(ctx context.Context) (uuid.UUID, error) {
			return p.deps.Categories.GetOrCreateID(ctx, category)
		})
		if err != nil {
			return err
		}

		b.rows = append(b.rows, database.TransactionRow{
			FileID:        b.file.ID,
			FitID:         tx.ID,
			PostedAt:      tx.Date,
			Amount:        tx.Amount.Decimal,
			Description:   strings.TrimSpace(tx.Description),
			CategoryID:    categoryID,
			BankAccountID: account.ID,
		})

		if len(b.rows) >= p.batchSize {
			if err := p.flush(ctx, scope, b); err != nil {
				return err
			}
		}
		if err := scope.RenewIfDue(ctx); err != nil {
			return err
		}
	}

	if err := p.flush(ctx, scope, b); err != nil {
		return err
	}
	logger.Debug("statement processed", "currency", st.Currency, "total", b.result.Total)
	return nil
}

func (p *Processor) flush(ctx context.Context, scope Scope, b *importBatch) error {
	if len(b.rows) == 0 {
		return nil
	}
	if err := scope.RenewIfDue(ctx); err != nil {
		return err
	}

	res, err := retry.DoValue(ctx, p.deps.Retry, "insert transactions", func(ctx context.Context) (InsertResult, error) {
		return p.deps.Inserter.Insert(ctx, b.rows)
	})
	if err != nil {
		return err
	}

	b.result.Imported += res.Inserted
	b.result.Duplicates += res.Duplicates
	b.rows = b.rows[:0]
	return nil
}

func (b *importBatch) warn(msg string) {
	b.warnings[msg]++
}

func (b *importBatch) summary() ImportResult {
	r := b.result
	r.Warnings = nil
	for _, msg := range []string{warnUnreadable, warnInvalid} {
		if b.warnings[msg] > 0 {
			r.Warnings = append(r.Warnings, msg)
		}
	}
	return r
}
