package retry

import (
	"errors"
	"io"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Class tells the policy how to treat a failed attempt.
type Class int

const (
	// NotRetryable covers non-database errors and database errors that a
	// second attempt cannot fix (constraint violations, bad SQL).
	NotRetryable Class = iota

	// Transient covers serialization failures, deadlocks and
	// connection-class errors.
	Transient

	// QueryCanceled is a server-side statement timeout or cancel request.
	QueryCanceled
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case QueryCanceled:
		return "query_canceled"
	default:
		return "not_retryable"
	}
}

// Classify inspects err for Postgres error codes and connection failures.
func Classify(err error) Class {
	if err == nil {
		return NotRetryable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.QueryCanceled:
			return QueryCanceled
		case pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected,
			pgErr.Code == pgerrcode.TooManyConnections,
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CrashShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow,
			pgerrcode.IsConnectionException(pgErr.Code):
			return Transient
		}
		return NotRetryable
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return Transient
	}
	if pgconn.SafeToRetry(err) {
		return Transient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Transient
	}

	return NotRetryable
}

// IsRetryable reports whether err belongs to a retried class.
func IsRetryable(err error) bool {
	return Classify(err) != NotRetryable
}
