package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type FileStatus string

const (
	FileStatusInProgress FileStatus = "in_progress"
	FileStatusCompleted  FileStatus = "completed"
)

type BankFile struct {
	ID         uuid.UUID  `json:"id"`
	FileName   string     `json:"file_name"`
	ImportedAt time.Time  `json:"imported_at"`
	Status     FileStatus `json:"status"`
}

type Bank struct {
	ID     uuid.UUID `json:"id"`
	BankID string    `json:"bank_id"`
	Name   string    `json:"name"`
}

type BankAccount struct {
	ID          uuid.UUID `json:"id"`
	BankID      uuid.UUID `json:"bank_id"`
	AccountID   string    `json:"account_id"`
	AccountType string    `json:"account_type"`
}

type Category struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// TransactionRow is one row of a bulk load into transactions.
type TransactionRow struct {
	FileID        uuid.UUID
	FitID         string
	PostedAt      time.Time
	Amount        decimal.Decimal
	Description   string
	CategoryID    uuid.UUID
	BankAccountID uuid.UUID
}
