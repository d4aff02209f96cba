package core

// validation.go checks parsed transactions before they are batched.
//
// A transaction that fails validation is counted as an error and skipped;
// it never aborts the import.

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/ofximport/internal/ofx"
)

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // OFX element name
	FitID   string // FITID of the offending transaction
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.FitID != "" {
		return fmt.Sprintf("transaction %s: %s: %s", e.FitID, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateTransaction returns the first problem that keeps tx from being
// stored, or nil.
func ValidateTransaction(tx *ofx.RawTransaction) error {
	switch {
	case strings.TrimSpace(tx.ID) == "":
		return ValidationError{Field: "FITID", Message: "required field is empty"}
	case !tx.Amount.Valid:
		return ValidationError{Field: "TRNAMT", FitID: tx.ID, Message: "amount is missing"}
	case strings.TrimSpace(tx.Description) == "":
		return ValidationError{Field: "NAME", FitID: tx.ID, Message: "description is empty"}
	case strings.TrimSpace(tx.Category) == "":
		return ValidationError{Field: "MEMO", FitID: tx.ID, Message: "category is empty"}
	}
	return nil
}
