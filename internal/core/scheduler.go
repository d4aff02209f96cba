package core

// scheduler.go runs the stale import sweeper.
//
// A worker that dies mid-import leaves an InProgress record and, until its
// lease expires, a lease. The next import of the same file cleans up on its
// own, but files that are never retried would keep their partial rows
// forever. The sweeper deletes such records once they are older than
// StaleAfter and nobody holds their lease.
//
// The sweeper never fails the application; individual errors are logged
// and the record is retried on the next pass.

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/JonMunkholm/ofximport/internal/lease"
	"github.com/JonMunkholm/ofximport/internal/retry"
	"github.com/JonMunkholm/ofximport/internal/store"
)

// SweepConfig holds configuration for the stale sweeper.
// All fields have sensible defaults if zero values are provided.
type SweepConfig struct {
	StaleAfter    time.Duration // Minimum record age (default: 15m)
	CheckInterval time.Duration // How often to run (default: 5m)
	BatchSize     int           // Records per pass (default: 100)
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// StartStaleSweeper runs SweepStale immediately and then every
// CheckInterval until ctx is cancelled.
func (s *Service) StartStaleSweeper(ctx context.Context, cfg SweepConfig) {
	cfg = cfg.withDefaults()
	s.logger.Info("stale sweeper started",
		"stale_after", cfg.StaleAfter,
		"interval", cfg.CheckInterval,
		"batch_size", cfg.BatchSize,
	)

	s.runSweepJob(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stale sweeper stopped")
			return
		case <-ticker.C:
			s.runSweepJob(ctx, cfg)
		}
	}
}

func (s *Service) runSweepJob(ctx context.Context, cfg SweepConfig) {
	start := s.now()
	removed, err := s.SweepStale(ctx, cfg)
	if err != nil {
		s.logger.Error("stale sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("removed stale import records",
			"records_removed", removed,
			"duration_ms", s.now().Sub(start).Milliseconds(),
		)
	}
}

// SweepStale deletes up to BatchSize InProgress records older than
// StaleAfter whose lease is free. It returns the number removed.
func (s *Service) SweepStale(ctx context.Context, cfg SweepConfig) (int, error) {
	cfg = cfg.withDefaults()
	cutoff := s.now().Add(-cfg.StaleAfter)

	stale, err := retry.DoValue(ctx, s.retry, "list stale bank files", func(ctx context.Context) ([]database.BankFile, error) {
		return s.files.ListInProgressBefore(ctx, cutoff, cfg.BatchSize)
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range stale {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		ok, err := s.sweepOne(ctx, f)
		if err != nil {
			s.logger.Warn("failed to remove stale import record", "file_name", f.FileName, "file_id", f.ID, "error", err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// sweepOne removes f under its lease. It returns false when the file is
// being imported or the record changed since it was listed.
func (s *Service) sweepOne(ctx context.Context, f database.BankFile) (bool, error) {
	token, err := s.leases.Acquire(ctx, f.FileName, s.sessions.cfg.LeaseTTL)
	if errors.Is(err, lease.ErrLeaseHeld) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.leases.Release(releaseCtx, f.FileName, token); err != nil {
			s.logger.Warn("failed to release sweeper lease", "file_name", f.FileName, "error", err)
		}
	}()

	current, err := retry.DoValue(ctx, s.retry, "get bank file", func(ctx context.Context) (database.BankFile, error) {
		return s.files.GetByFileName(ctx, f.FileName)
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current.ID != f.ID || current.Status != database.FileStatusInProgress {
		return false, nil
	}

	err = s.retry.Do(ctx, "delete bank file", func(ctx context.Context) error {
		return s.files.Delete(ctx, f.ID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("removed stale import record", "file_name", f.FileName, "file_id", f.ID, "started_at", f.ImportedAt)
	return true, nil
}
