package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/JonMunkholm/ofximport/internal/logging"
	"github.com/JonMunkholm/ofximport/internal/ofx"
	"github.com/JonMunkholm/ofximport/internal/retry"
	"github.com/JonMunkholm/ofximport/internal/store"
	"github.com/google/uuid"
)

// DefaultImportTimeout is the maximum duration of one import.
const DefaultImportTimeout = 10 * time.Minute

// FileStore is the file record store used by the service and the sweeper.
type FileStore interface {
	FileRepository
	ListInProgressBefore(ctx context.Context, cutoff time.Time, limit int) ([]database.BankFile, error)
	CountTransactions(ctx context.Context, id uuid.UUID) (int64, error)
}

// Config holds service settings. Zero values take defaults.
type Config struct {
	BatchSize     int
	LeaseTTL      time.Duration
	RenewAfter    time.Duration
	MaxFileSize   int64
	MaxConcurrent int
	MaxWaitTime   time.Duration
	Timeout       time.Duration
}

// Dependencies are the stores and coordinators the service is built from.
type Dependencies struct {
	Leases     LeaseCoordinator
	Files      FileStore
	Banks      BankRepository
	Accounts   BankAccountRepository
	Categories CategoryRepository
	Inserter   BatchInserter
	Retry      *retry.Policy
	Logger     *slog.Logger
}

// Service runs OFX imports.
type Service struct {
	leases    LeaseCoordinator
	files     FileStore
	sessions  *SessionFactory
	processor *Processor
	limiter   *ImportLimiter
	retry     *retry.Policy
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultImportTimeout
	}

	return &Service{
		leases: deps.Leases,
		files:  deps.Files,
		sessions: NewSessionFactory(deps.Leases, deps.Files, deps.Retry, SessionConfig{
			LeaseTTL:   cfg.LeaseTTL,
			RenewAfter: cfg.RenewAfter,
		}, logger),
		processor: NewProcessor(ProcessorDeps{
			Banks:      deps.Banks,
			Accounts:   deps.Accounts,
			Categories: deps.Categories,
			Inserter:   deps.Inserter,
			Retry:      deps.Retry,
		}, cfg.BatchSize, logger),
		limiter: NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		retry:   deps.Retry,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// HandleImport imports one OFX file read from r.
//
// It returns the result on success. Every failure is an *ImportError. When
// the import finished but lease ownership could not be confirmed, both the
// result and an error with PhaseLeaseLost are returned.
func (s *Service) HandleImport(ctx context.Context, fileName string, r io.Reader) (*ImportResult, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, newImportError(fileName, ErrInvalidFileName)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, newImportError(fileName, err)
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := s.now()
	logger := logging.WithRequestID(ctx, s.logger).With(
		"import_id", uuid.NewString(),
		"file_name", fileName,
	)
	logger.Info("import started")

	session, err := s.sessions.Start(ctx, fileName)
	if err != nil {
		logger.Warn("import rejected", "phase", PhaseOf(err), "error", err)
		return nil, err
	}
	defer session.Close(ctx)

	input := NewStreamingCountingReader(r, 0, s.cfg.MaxFileSize)
	result, err := s.processor.Process(ctx, session, ofx.NewParser(input, logger))
	result.Bytes = input.BytesRead
	if err != nil {
		ie := newImportError(fileName, err)
		logger.Error("import failed",
			"phase", ie.Phase,
			"total", result.Total,
			"imported", result.Imported,
			"error", err,
		)
		return nil, ie
	}

	if err := session.Complete(ctx); err != nil {
		ie := newImportError(fileName, err)
		if ie.Phase != PhaseLeaseLost {
			logger.Error("failed to complete import", "phase", ie.Phase, "error", err)
			return nil, ie
		}
		result.Duration = s.now().Sub(start)
		result.Warnings = append(result.Warnings, "lease ownership was lost before the import was confirmed")
		logger.Warn("import finished without confirmed ownership", "imported", result.Imported, "error", err)
		return &result, ie
	}

	result.Duration = s.now().Sub(start)
	logger.Info("import completed",
		"statements", result.Statements,
		"total", result.Total,
		"imported", result.Imported,
		"duplicates", result.Duplicates,
		"errors", result.Errors,
		"bytes", result.Bytes,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return &result, nil
}

// ImportStatus describes the stored state of a file.
type ImportStatus struct {
	File         database.BankFile `json:"file"`
	Transactions int64             `json:"transactions"`
	Locked       bool              `json:"locked"`
}

// GetImportStatus returns the record for fileName, or store.ErrNotFound.
func (s *Service) GetImportStatus(ctx context.Context, fileName string) (*ImportStatus, error) {
	file, err := retry.DoValue(ctx, s.retry, "get bank file", func(ctx context.Context) (database.BankFile, error) {
		return s.files.GetByFileName(ctx, fileName)
	})
	if err != nil {
		return nil, err
	}
	n, err := retry.DoValue(ctx, s.retry, "count transactions", func(ctx context.Context) (int64, error) {
		return s.files.CountTransactions(ctx, file.ID)
	})
	if err != nil {
		return nil, err
	}
	return &ImportStatus{
		File:         file,
		Transactions: n,
		Locked:       file.Status == database.FileStatusInProgress && s.isLeased(ctx, fileName),
	}, nil
}

func (s *Service) isLeased(ctx context.Context, fileName string) bool {
	held, err := s.leases.Held(ctx, fileName)
	if err != nil {
		s.logger.Warn("failed to check lease", "file_name", fileName, "error", err)
		return false
	}
	return held
}

// LimiterStatus returns a snapshot of running imports.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until running imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	if err := s.limiter.WaitForDrain(ctx); err != nil {
		return fmt.Errorf("wait for imports: %w", err)
	}
	return nil
}

// IsNotFound reports whether err means no record exists.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
