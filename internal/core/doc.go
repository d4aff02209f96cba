// Package core provides the business logic for OFX statement imports.
//
// This package contains the import pipeline independent of any transport.
// It is used by the HTTP server and by the ofximport CLI without
// modification.
//
// # Architecture
//
// An import moves through four pieces:
//
//   - [SessionFactory] takes the per-file lease in Redis and creates the
//     InProgress file record, removing a stale record left by a crashed run.
//   - [Processor] pulls statements from the ofx parser, resolves the bank,
//     account and category of each transaction, and batches rows.
//   - [Inserter] drops rows whose FITID is already stored and bulk loads the
//     rest with COPY.
//   - [Session] renews the lease while the import runs and marks the record
//     Completed before releasing the lease.
//
// [Service.HandleImport] wires these together behind an [ImportLimiter] and
// turns every failure into an [ImportError] with a [Phase].
//
// # Exclusivity
//
// At most one worker imports a given file name at a time. The lease is
// token-guarded, so a worker whose lease expired cannot extend or release a
// lease that someone else now holds. Lease timing is chosen so that renewal
// (every RenewAfter) happens well before expiry (LeaseTTL).
//
// # Retries
//
// Every database call goes through a retry.Policy. Transient failures
// are retried with decorrelated jitter, a cancelled query once, and all
// attempts of one call share a wall-clock budget.
//
// # Accounting
//
// [ImportResult] counts every transaction once: imported, skipped as a
// duplicate, or skipped as an error. The counts add up to the total when
// the import succeeds.
//
// # Maintenance
//
// [Service.StartStaleSweeper] periodically removes InProgress records whose
// lease has long expired, together with their partial rows.
package core
