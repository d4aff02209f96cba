package database

import (
	"context"

	"github.com/google/uuid"
)

const getBankByBankID = `-- name: GetBankByBankID :one
SELECT id, bank_id, name FROM banks
WHERE bank_id = $1
`

func (q *Queries) GetBankByBankID(ctx context.Context, bankID string) (Bank, error) {
	row := q.db.QueryRow(ctx, getBankByBankID, bankID)
	var i Bank
	err := row.Scan(&i.ID, &i.BankID, &i.Name)
	return i, err
}

const insertBank = `-- name: InsertBank :one
INSERT INTO banks (bank_id, name)
VALUES ($1, $2)
ON CONFLICT (bank_id) DO NOTHING
RETURNING id, bank_id, name
`

type InsertBankParams struct {
	BankID string `json:"bank_id"`
	Name   string `json:"name"`
}

func (q *Queries) InsertBank(ctx context.Context, arg InsertBankParams) (Bank, error) {
	row := q.db.QueryRow(ctx, insertBank, arg.BankID, arg.Name)
	var i Bank
	err := row.Scan(&i.ID, &i.BankID, &i.Name)
	return i, err
}

const getBankAccount = `-- name: GetBankAccount :one
SELECT id, bank_id, account_id, account_type FROM bank_accounts
WHERE bank_id = $1 AND account_id = $2
`

type GetBankAccountParams struct {
	BankID    uuid.UUID `json:"bank_id"`
	AccountID string    `json:"account_id"`
}

func (q *Queries) GetBankAccount(ctx context.Context, arg GetBankAccountParams) (BankAccount, error) {
	row := q.db.QueryRow(ctx, getBankAccount, arg.BankID, arg.AccountID)
	var i BankAccount
	err := row.Scan(
		&i.ID,
		&i.BankID,
		&i.AccountID,
		&i.AccountType,
	)
	return i, err
}

const insertBankAccount = `-- name: InsertBankAccount :one
INSERT INTO bank_accounts (bank_id, account_id, account_type)
VALUES ($1, $2, $3)
ON CONFLICT (bank_id, account_id) DO NOTHING
RETURNING id, bank_id, account_id, account_type
`

type InsertBankAccountParams struct {
	BankID      uuid.UUID `json:"bank_id"`
	AccountID   string    `json:"account_id"`
	AccountType string    `json:"account_type"`
}

func (q *Queries) InsertBankAccount(ctx context.Context, arg InsertBankAccountParams) (BankAccount, error) {
	row := q.db.QueryRow(ctx, insertBankAccount, arg.BankID, arg.AccountID, arg.AccountType)
	var i BankAccount
	err := row.Scan(
		&i.ID,
		&i.BankID,
		&i.AccountID,
		&i.AccountType,
	)
	return i, err
}

const getCategoryByName = `-- name: GetCategoryByName :one
SELECT id, name FROM categories
WHERE name = $1
`

func (q *Queries) GetCategoryByName(ctx context.Context, name string) (Category, error) {
	row := q.db.QueryRow(ctx, getCategoryByName, name)
	var i Category
	err := row.Scan(&i.ID, &i.Name)
	return i, err
}

const insertCategory = `-- name: InsertCategory :one
INSERT INTO categories (name)
VALUES ($1)
ON CONFLICT (name) DO NOTHING
RETURNING id, name
`

func (q *Queries) InsertCategory(ctx context.Context, name string) (Category, error) {
	row := q.db.QueryRow(ctx, insertCategory, name)
	var i Category
	err := row.Scan(&i.ID, &i.Name)
	return i, err
}

const renameCategory = `-- name: RenameCategory :execrows
UPDATE categories
SET name = $2
WHERE id = $1
`

type RenameCategoryParams struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func (q *Queries) RenameCategory(ctx context.Context, arg RenameCategoryParams) (int64, error) {
	result, err := q.db.Exec(ctx, renameCategory, arg.ID, arg.Name)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
