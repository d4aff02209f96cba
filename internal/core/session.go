package core

// session.go implements the exclusive import session for one file.
//
// A session exists only while its holder owns the file's lease. The lease
// is acquired before the file record is touched and released after the
// record is marked completed, or on Close if the import failed. Every
// early exit from SessionFactory.Start releases the lease it took.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/JonMunkholm/ofximport/internal/lease"
	"github.com/JonMunkholm/ofximport/internal/retry"
	"github.com/JonMunkholm/ofximport/internal/store"
	"github.com/google/uuid"
)

const (
	// DefaultLeaseTTL is how long a lease lives without renewal.
	DefaultLeaseTTL = time.Minute

	// DefaultRenewAfter is the age at which a held lease is extended.
	DefaultRenewAfter = 30 * time.Second

	// releaseTimeout bounds lease release on cleanup paths, which run
	// after the caller's context may already be done.
	releaseTimeout = 5 * time.Second
)

// LeaseCoordinator hands out per-file leases.
type LeaseCoordinator interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (string, error)
	Extend(ctx context.Context, name, token string, ttl time.Duration) error
	Release(ctx context.Context, name, token string) error
	Held(ctx context.Context, name string) (bool, error)
}

// FileRepository persists bank file records.
type FileRepository interface {
	GetByFileName(ctx context.Context, name string) (database.BankFile, error)
	Create(ctx context.Context, f database.BankFile) (database.BankFile, error)
	Update(ctx context.Context, f database.BankFile) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// SessionConfig holds lease timing.
type SessionConfig struct {
	LeaseTTL   time.Duration
	RenewAfter time.Duration
}

// SessionFactory opens import sessions.
type SessionFactory struct {
	leases LeaseCoordinator
	files  FileRepository
	retry  *retry.Policy
	cfg    SessionConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewSessionFactory(leases LeaseCoordinator, files FileRepository, policy *retry.Policy, cfg SessionConfig, logger *slog.Logger) *SessionFactory {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.RenewAfter <= 0 || cfg.RenewAfter >= cfg.LeaseTTL {
		cfg.RenewAfter = cfg.LeaseTTL / 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionFactory{
		leases: leases,
		files:  files,
		retry:  policy,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start takes the lease for fileName and creates a fresh InProgress record.
//
// A Completed record fails with PhaseAlreadyImported. An InProgress record
// left by a crashed worker is deleted, together with its transactions,
// before the new record is created.
func (f *SessionFactory) Start(ctx context.Context, fileName string) (_ *Session, err error) {
	token, err := f.leases.Acquire(ctx, fileName, f.cfg.LeaseTTL)
	if errors.Is(err, lease.ErrLeaseHeld) {
		return nil, &ImportError{Phase: PhaseBusy, FileName: fileName, Err: fmt.Errorf("%w: %w", ErrFileBusy, err)}
	}
	if err != nil {
		return nil, newImportError(fileName, fmt.Errorf("acquire lease: %w", err))
	}
	acquiredAt := f.now()
	logger := f.logger.With("file_name", fileName)

	defer func() {
		if err == nil {
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if rerr := f.leases.Release(releaseCtx, fileName, token); rerr != nil {
			logger.Warn("failed to release lease after aborted start", "error", rerr)
		}
	}()

	existing, err := retry.DoValue(ctx, f.retry, "get bank file", func(ctx context.Context) (database.BankFile, error) {
		return f.files.GetByFileName(ctx, fileName)
	})
	switch {
	case err == nil && existing.Status == database.FileStatusCompleted:
		return nil, &ImportError{Phase: PhaseAlreadyImported, FileName: fileName, Err: ErrAlreadyImported}
	case err == nil:
		logger.Warn("removing stale import record", "file_id", existing.ID, "started_at", existing.ImportedAt)
		err = f.retry.Do(ctx, "delete bank file", func(ctx context.Context) error {
			err := f.files.Delete(ctx, existing.ID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return nil, newImportError(fileName, err)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, newImportError(fileName, err)
	}

	file, err := retry.DoValue(ctx, f.retry, "create bank file", func(ctx context.Context) (database.BankFile, error) {
		return f.files.Create(ctx, database.BankFile{
			FileName:   fileName,
			ImportedAt: f.now(),
			Status:     database.FileStatusInProgress,
		})
	})
	if err != nil {
		return nil, newImportError(fileName, err)
	}

	logger.Debug("import session started", "file_id", file.ID)
	return &Session{
		factory:   f,
		file:      file,
		token:     token,
		renewedAt: acquiredAt,
		logger:    logger.With("file_id", file.ID),
	}, nil
}

type sessionState int

const (
	sessionActive sessionState = iota
	sessionCompleted
	sessionClosed
)

// Session is an exclusive claim on one file for the duration of an import.
// A Session is used by one import at a time; Close may be called from
// another goroutine.
type Session struct {
	factory *SessionFactory
	file    database.BankFile
	token   string
	logger  *slog.Logger

	mu        sync.Mutex
	state     sessionState
	renewedAt time.Time
}

// File returns the record created for this session.
func (s *Session) File() database.BankFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// ValidateAndExtend confirms the lease is still owned and resets its TTL.
// It fails with lease.ErrLeaseLost when ownership was lost.
func (s *Session) ValidateAndExtend(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extendLocked(ctx)
}

// RenewIfDue extends the lease once RenewAfter has elapsed since the last
// extension.
func (s *Session) RenewIfDue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factory.now().Sub(s.renewedAt) < s.factory.cfg.RenewAfter {
		return nil
	}
	return s.extendLocked(ctx)
}

func (s *Session) extendLocked(ctx context.Context) error {
	if s.state != sessionActive {
		return ErrSessionClosed
	}
	if err := s.factory.leases.Extend(ctx, s.file.FileName, s.token, s.factory.cfg.LeaseTTL); err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	s.renewedAt = s.factory.now()
	s.logger.Debug("lease extended")
	return nil
}

// Complete confirms ownership, marks the record Completed and releases the
// lease. Calling it again after success is a no-op.
//
// If ownership cannot be confirmed before the update the record stays
// InProgress. If the release itself finds the lease gone the record is
// already Completed. Both cases return an error matching lease.ErrLeaseLost.
func (s *Session) Complete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case sessionCompleted:
		return nil
	case sessionClosed:
		return ErrSessionClosed
	}

	if err := s.extendLocked(ctx); err != nil {
		return err
	}

	file := s.file
	file.Status = database.FileStatusCompleted
	file.ImportedAt = s.factory.now()
	err := s.factory.retry.Do(ctx, "complete bank file", func(ctx context.Context) error {
		return s.factory.files.Update(ctx, file)
	})
	if err != nil {
		return fmt.Errorf("mark file completed: %w", err)
	}
	s.file = file
	s.state = sessionCompleted

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.factory.leases.Release(releaseCtx, file.FileName, s.token); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	s.logger.Debug("import session completed")
	return nil
}

// Close releases the lease if the session was not completed. It is safe to
// call more than once and after Complete.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionActive {
		return nil
	}
	s.state = sessionClosed

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.factory.leases.Release(releaseCtx, s.file.FileName, s.token); err != nil {
		s.logger.Warn("failed to release lease", "error", err)
		return fmt.Errorf("release lease: %w", err)
	}
	s.logger.Debug("import session closed without completion")
	return nil
}
