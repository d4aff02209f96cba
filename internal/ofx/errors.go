package ofx

import (
	"errors"
	"fmt"
)

var (
	// ErrStructural matches any *StructuralError.
	ErrStructural = errors.New("ofx: structural error")

	// ErrSyntax matches any *SyntaxError.
	ErrSyntax = errors.New("ofx: syntax error")

	// ErrFieldSkipped matches any *FieldError.
	ErrFieldSkipped = errors.New("ofx: transaction skipped")
)

// StructuralError reports well-formed markup that lacks a required element.
// It is terminal: the parser returns it from every later call.
type StructuralError struct {
	Msg string
}

func structural(format string, args ...any) *StructuralError {
	return &StructuralError{Msg: fmt.Sprintf(format, args...)}
}

func (e *StructuralError) Error() string {
	return "ofx: structural error: " + e.Msg
}

func (e *StructuralError) Is(target error) bool {
	return target == ErrStructural
}

// SyntaxError reports malformed markup. It is terminal.
type SyntaxError struct {
	Line int
	Msg  string
	Err  error
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("ofx: syntax error on line %d: %s", e.Line, e.Msg)
	}
	return "ofx: syntax error: " + e.Msg
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

// FieldError reports a transaction that was skipped because one of its
// fields could not be used. It is not terminal: the caller may keep
// pulling transactions from the same statement.
type FieldError struct {
	Field string // OFX tag name, e.g. TRNAMT
	FitID string // empty when the FITID itself is missing
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	id := e.FitID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("ofx: transaction %s: invalid %s %q: %v", id, e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func (e *FieldError) Is(target error) bool {
	return target == ErrFieldSkipped
}
