package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/ofximport/internal/lease"
	"github.com/JonMunkholm/ofximport/internal/retry"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "busy import error", err: &ImportError{Phase: PhaseBusy, Err: fmt.Errorf("%w: %w", ErrFileBusy, lease.ErrLeaseHeld)}, wantCode: "IMP001"},
		{name: "already imported", err: newImportError("a.ofx", ErrAlreadyImported), wantCode: "IMP002"},
		{name: "malformed", err: newImportError("a.ofx", fmt.Errorf("parse: %w", ErrMalformedFile)), wantCode: "IMP003"},
		{name: "retries exhausted wins over deadline", err: &retry.ExhaustedError{Op: "copy", Attempts: []error{context.DeadlineExceeded}, BudgetExceeded: true}, wantCode: "IMP004"},
		{name: "lease lost", err: fmt.Errorf("release: %w", lease.ErrLeaseLost), wantCode: "IMP005"},
		{name: "missing file name", err: newImportError("", ErrInvalidFileName), wantCode: "IMP006"},
		{name: "file too large", err: fmt.Errorf("read: %w", ErrFileTooLarge), wantCode: "FILE001"},
		{name: "limiter full", err: ErrTooManyImports, wantCode: "UPL002"},
		{name: "cancelled", err: context.Canceled, wantCode: "UPL004"},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: "UPL005"},
		{name: "connection refused pattern", err: errors.New("dial tcp: connection refused"), wantCode: "DB004"},
		{name: "case insensitive pattern", err: errors.New("DEADLOCK detected"), wantCode: "DB007"},
		{name: "unknown error returns default", err: errors.New("some random internal error"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	got := FormatUserError(ErrAlreadyImported)
	want := "This file was already imported (Code: IMP002). Nothing to do. Rename the file only if it holds new data"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(ErrFileBusy) {
		t.Error("ErrFileBusy should be user facing")
	}
	if IsUserFacing(errors.New("boom")) {
		t.Error("unknown error should not be user facing")
	}
}

func TestNewImportError_Phases(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Phase
	}{
		{name: "lease held", err: lease.ErrLeaseHeld, want: PhaseBusy},
		{name: "limiter", err: ErrTooManyImports, want: PhaseBusy},
		{name: "too large beats read wrapper", err: fmt.Errorf("ofx: read input: %w", ErrFileTooLarge), want: PhaseInvalidRequest},
		{name: "exhausted", err: &retry.ExhaustedError{Op: "copy"}, want: PhaseRetriesExhausted},
		{name: "lease lost", err: lease.ErrLeaseLost, want: PhaseLeaseLost},
		{name: "cancelled", err: fmt.Errorf("x: %w", context.Canceled), want: PhaseCancelled},
		{name: "other", err: errors.New("boom"), want: PhaseInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ie := newImportError("a.ofx", tt.err)
			if ie.Phase != tt.want {
				t.Errorf("phase = %q, want %q", ie.Phase, tt.want)
			}
			if !errors.Is(ie, tt.err) {
				t.Error("ImportError must wrap the cause")
			}
			if PhaseOf(fmt.Errorf("outer: %w", ie)) != tt.want {
				t.Error("PhaseOf did not see through wrapping")
			}
		})
	}

	existing := &ImportError{Phase: PhaseBusy, FileName: "a.ofx", Err: ErrFileBusy}
	if newImportError("a.ofx", existing) != existing {
		t.Error("existing ImportError should be returned unchanged")
	}
}
