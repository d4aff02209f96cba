package core

// error_messages.go maps import failures to user-facing messages.
//
// # Error Codes Reference
//
// When users encounter errors, they can quote the error code to support
// staff for faster diagnosis. Typed failures are matched first with
// errors.Is; anything else falls back to case-insensitive substring
// patterns on the error text.
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - File busy: Another worker is importing this file
//	         Action: Wait for the running import to finish, then retry
//
//	IMP002 - Already imported: This file was imported before
//	         Action: Rename the file only if it really holds new data
//
//	IMP003 - Malformed file: The OFX document could not be read
//	         Action: Re-export the statement from your bank as OFX 2.x
//
//	IMP004 - Database unavailable: Retries were exhausted
//	         Action: Please try again in a few minutes
//
//	IMP005 - Lease lost: Exclusive access could not be confirmed
//	         Action: Check the import status before re-running
//
//	IMP006 - Missing file name: The upload did not name the file
//	         Action: Provide a file name
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: Exceeds the configured maximum size
//	          Action: Split the export into smaller date ranges
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL002 - System busy: Too many imports are running
//	UPL004 - Cancelled: The request was cancelled
//	UPL005 - Timeout: The import took too long
//
// # Database Errors (DB001-DB099)
//
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//
// # Fallback (ERR000)
//
// ERR000 is returned when nothing matches. Support staff should check the
// application logs for the original error, which is always logged with the
// request_id.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/ofximport/internal/lease"
	"github.com/JonMunkholm/ofximport/internal/ofx"
	"github.com/JonMunkholm/ofximport/internal/retry"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgBusy = UserMessage{
		Message: "This file is being imported by another worker",
		Action:  "Wait for the running import to finish, then try again",
		Code:    "IMP001",
	}
	msgMalformed = UserMessage{
		Message: "The file is not a readable OFX statement",
		Action:  "Re-export the statement from your bank as OFX 2.x",
		Code:    "IMP003",
	}
)

// sentinelMessages is checked in order with errors.Is. Retry exhaustion
// comes before the context errors because exhausted attempts may wrap a
// deadline.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrTooManyImports, UserMessage{
		Message: "System busy: too many imports are running",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}},
	{ErrFileBusy, msgBusy},
	{lease.ErrLeaseHeld, msgBusy},
	{ErrAlreadyImported, UserMessage{
		Message: "This file was already imported",
		Action:  "Nothing to do. Rename the file only if it holds new data",
		Code:    "IMP002",
	}},
	{ErrFileTooLarge, UserMessage{
		Message: "File is too large",
		Action:  "Split the export into smaller date ranges",
		Code:    "FILE001",
	}},
	{ErrInvalidFileName, UserMessage{
		Message: "No file name was provided",
		Action:  "Provide the name of the statement file",
		Code:    "IMP006",
	}},
	{ErrMalformedFile, msgMalformed},
	{ofx.ErrStructural, msgMalformed},
	{ofx.ErrSyntax, msgMalformed},
	{retry.ErrRetriesExhausted, UserMessage{
		Message: "The database is temporarily unavailable",
		Action:  "Please try again in a few minutes",
		Code:    "IMP004",
	}},
	{lease.ErrLeaseLost, UserMessage{
		Message: "Exclusive access to the file could not be confirmed",
		Action:  "Check the import status before running it again",
		Code:    "IMP005",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Import timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "UPL005",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}},
}

// errorPattern maps an error substring to a user-friendly message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is searched when no typed failure matches.
// The first matching pattern wins.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(&ImportError{Phase: PhaseAlreadyImported, Err: ErrAlreadyImported})
//	// msg.Code == "IMP002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
