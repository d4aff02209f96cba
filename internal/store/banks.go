package store

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/google/uuid"
)

// BankRepository resolves banks by their natural id.
type BankRepository struct {
	q *database.Queries
}

func NewBankRepository(db database.DBTX) *BankRepository {
	return &BankRepository{q: database.New(db)}
}

// GetOrCreate returns the bank with the given natural id, creating it
// with name on first reference. An existing bank keeps its name.
func (r *BankRepository) GetOrCreate(ctx context.Context, bankID, name string) (database.Bank, error) {
	b, err := getOrCreate(ctx,
		func(ctx context.Context) (database.Bank, error) {
			return r.q.GetBankByBankID(ctx, bankID)
		},
		func(ctx context.Context) (database.Bank, error) {
			return r.q.InsertBank(ctx, database.InsertBankParams{BankID: bankID, Name: name})
		},
	)
	if err != nil {
		return database.Bank{}, fmt.Errorf("get or create bank %q: %w", bankID, err)
	}
	return b, nil
}

// BankAccountRepository resolves accounts by (bank, account id).
type BankAccountRepository struct {
	q *database.Queries
}

func NewBankAccountRepository(db database.DBTX) *BankAccountRepository {
	return &BankAccountRepository{q: database.New(db)}
}

func (r *BankAccountRepository) GetOrCreate(ctx context.Context, bankID uuid.UUID, accountID, accountType string) (database.BankAccount, error) {
	a, err := getOrCreate(ctx,
		func(ctx context.Context) (database.BankAccount, error) {
			return r.q.GetBankAccount(ctx, database.GetBankAccountParams{
				BankID:    bankID,
				AccountID: accountID,
			})
		},
		func(ctx context.Context) (database.BankAccount, error) {
			return r.q.InsertBankAccount(ctx, database.InsertBankAccountParams{
				BankID:      bankID,
				AccountID:   accountID,
				AccountType: accountType,
			})
		},
	)
	if err != nil {
		return database.BankAccount{}, fmt.Errorf("get or create account %q: %w", accountID, err)
	}
	return a, nil
}
