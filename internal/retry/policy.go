// Package retry wraps single database operations with backoff and a
// shared wall-clock budget.
//
// Two failure classes are retried. Transient errors (serialization
// failure, deadlock, lost connection) back off with decorrelated jitter.
// A cancelled query is retried once after a fixed pause. Every other error
// is returned as-is on the first failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

var (
	// ErrRetriesExhausted matches every *ExhaustedError.
	ErrRetriesExhausted = errors.New("retry: attempts exhausted")

	// ErrBudgetExceeded matches an *ExhaustedError caused by the time budget.
	ErrBudgetExceeded = errors.New("retry: time budget exceeded")
)

// Config holds the retry settings.
type Config struct {
	MaxRetries       int           // retries after the first attempt for transient errors
	MedianFirstDelay time.Duration // median of the first transient backoff
	MaxDelay         time.Duration // cap on a single transient backoff
	CancelledDelay   time.Duration // pause before the single query-cancelled retry
	Budget           time.Duration // wall-clock limit across all attempts
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       5,
		MedianFirstDelay: 200 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		CancelledDelay:   5 * time.Second,
		Budget:           30 * time.Second,
	}
}

// ExhaustedError carries every failed attempt of an operation that could
// not be completed within its retry allowance.
type ExhaustedError struct {
	Op             string
	Attempts       []error
	Elapsed        time.Duration
	BudgetExceeded bool
}

func (e *ExhaustedError) Error() string {
	reason := "retries exhausted"
	if e.BudgetExceeded {
		reason = "retry budget exceeded"
	}
	var last error
	if len(e.Attempts) > 0 {
		last = e.Attempts[len(e.Attempts)-1]
	}
	return fmt.Sprintf("%s: %s after %d attempts in %s: %v",
		e.Op, reason, len(e.Attempts), e.Elapsed.Round(time.Millisecond), last)
}

func (e *ExhaustedError) Unwrap() []error {
	return e.Attempts
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted || (target == ErrBudgetExceeded && e.BudgetExceeded)
}

// Policy retries database operations. The zero value is not usable; a nil
// *Policy runs each operation exactly once.
type Policy struct {
	cfg    Config
	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// New returns a Policy. Zero fields of cfg take their DefaultConfig value.
func New(cfg Config, logger *slog.Logger) *Policy {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MedianFirstDelay <= 0 {
		cfg.MedianFirstDelay = def.MedianFirstDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.CancelledDelay <= 0 {
		cfg.CancelledDelay = def.CancelledDelay
	}
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
		rand:   rand.Float64,
	}
}

// Config returns the effective settings.
func (p *Policy) Config() Config {
	return p.cfg
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retry allowance runs out. op receives a context bounded by the budget.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}

	start := p.now()
	budgetCtx, cancel := context.WithTimeout(ctx, p.cfg.Budget)
	defer cancel()

	var (
		attempts         []error
		retries          int
		cancelledRetried bool
		jitter           = newDecorrelated(p.cfg.MedianFirstDelay, p.cfg.MaxDelay, p.rand)
	)

	exhausted := func(budget bool) error {
		return &ExhaustedError{
			Op:             op,
			Attempts:       attempts,
			Elapsed:        p.now().Sub(start),
			BudgetExceeded: budget,
		}
	}

	for {
		err := fn(budgetCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if budgetCtx.Err() != nil {
			attempts = append(attempts, err)
			return exhausted(true)
		}

		class := Classify(err)
		if class == NotRetryable {
			return err
		}
		attempts = append(attempts, err)

		var wait time.Duration
		switch {
		case class == QueryCanceled && !cancelledRetried:
			cancelledRetried = true
			wait = p.cfg.CancelledDelay
		case class == Transient && retries < p.cfg.MaxRetries:
			retries++
			wait = jitter.next()
		default:
			return exhausted(false)
		}

		if p.now().Add(wait).Sub(start) > p.cfg.Budget {
			return exhausted(true)
		}

		p.logger.Warn("retrying database operation",
			"op", op,
			"attempt", len(attempts),
			"class", class.String(),
			"delay_ms", wait.Milliseconds(),
			"error", err,
		)

		if err := p.sleep(budgetCtx, wait); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return exhausted(true)
		}
	}
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decorrelated produces "decorrelated jitter" delays: each delay is drawn
// uniformly from [base, 3*previous], capped at max. base is half the
// requested median so that the first delay has that median.
type decorrelated struct {
	base time.Duration
	max  time.Duration
	prev time.Duration
	rand func() float64
}

func newDecorrelated(median, max time.Duration, rnd func() float64) *decorrelated {
	base := median / 2
	if base <= 0 {
		base = time.Millisecond
	}
	return &decorrelated{base: base, max: max, prev: base, rand: rnd}
}

func (d *decorrelated) next() time.Duration {
	upper := d.prev * 3
	delay := d.base + time.Duration(d.rand()*float64(upper-d.base))
	if delay > d.max {
		delay = d.max
	}
	d.prev = delay
	return delay
}
