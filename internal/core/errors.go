package core

// errors.go defines the typed failures returned by an import.
//
// Every failure that leaves Service.HandleImport is an *ImportError. The
// Phase tells callers what happened without inspecting driver errors; the
// wrapped Err keeps the full chain for logs and errors.Is checks.

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/ofximport/internal/lease"
	"github.com/JonMunkholm/ofximport/internal/ofx"
	"github.com/JonMunkholm/ofximport/internal/retry"
)

var (
	// ErrFileBusy is returned when another worker holds the lease for a file.
	ErrFileBusy = errors.New("file is being imported by another worker")

	// ErrAlreadyImported is returned when a completed record exists for a file.
	ErrAlreadyImported = errors.New("file was already imported")

	// ErrMalformedFile is returned when the OFX document cannot be parsed.
	ErrMalformedFile = errors.New("malformed OFX file")

	// ErrInvalidFileName is returned for an empty file name.
	ErrInvalidFileName = errors.New("file name is required")

	// ErrSessionClosed is returned by session operations after Close.
	ErrSessionClosed = errors.New("import session is closed")
)

// Phase classifies an import failure.
type Phase string

const (
	PhaseBusy             Phase = "busy"
	PhaseAlreadyImported  Phase = "already_imported"
	PhaseMalformedFile    Phase = "malformed_file"
	PhaseRetriesExhausted Phase = "retries_exhausted"
	PhaseLeaseLost        Phase = "lease_lost"
	PhaseCancelled        Phase = "cancelled"
	PhaseInvalidRequest   Phase = "invalid_request"
	PhaseInternal         Phase = "internal"
)

// ImportError is the single failure type returned by an import.
type ImportError struct {
	Phase    Phase
	FileName string
	Err      error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %q: %s: %v", e.FileName, e.Phase, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// PhaseOf returns the phase of err, or PhaseInternal when err is not an
// *ImportError.
func PhaseOf(err error) Phase {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Phase
	}
	return PhaseInternal
}

// newImportError wraps err in an *ImportError, deriving the phase from the
// error chain. An existing *ImportError is returned unchanged.
func newImportError(fileName string, err error) *ImportError {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie
	}

	phase := PhaseInternal
	switch {
	case errors.Is(err, ErrFileBusy), errors.Is(err, lease.ErrLeaseHeld), errors.Is(err, ErrTooManyImports):
		phase = PhaseBusy
	case errors.Is(err, ErrAlreadyImported):
		phase = PhaseAlreadyImported
	case errors.Is(err, ErrInvalidFileName), errors.Is(err, ErrFileTooLarge):
		phase = PhaseInvalidRequest
	case errors.Is(err, ErrMalformedFile), errors.Is(err, ofx.ErrStructural), errors.Is(err, ofx.ErrSyntax):
		phase = PhaseMalformedFile
	case errors.Is(err, retry.ErrRetriesExhausted):
		phase = PhaseRetriesExhausted
	case errors.Is(err, lease.ErrLeaseLost):
		phase = PhaseLeaseLost
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		phase = PhaseCancelled
	}
	return &ImportError{Phase: phase, FileName: fileName, Err: err}
}
