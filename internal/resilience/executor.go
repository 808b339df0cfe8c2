package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Default retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
)

// PoolResetter discards pooled connections (and with them any cached
// prepared statements) so the next attempt starts from a fresh session.
type PoolResetter interface {
	ResetPool(ctx context.Context) error
}

// PoolResetterFunc adapts a function to PoolResetter.
type PoolResetterFunc func(ctx context.Context) error

// ResetPool calls f(ctx).
func (f PoolResetterFunc) ResetPool(ctx context.Context) error { return f(ctx) }

// Executor runs persistence operations with bounded, classified retries.
//
// MaxAttempts is the total number of attempts including the first one. The
// delay before attempt n+1 is BaseDelay*n. Concurrent pool resets are
// coalesced so a burst of statement conflicts triggers a single reset.
//
// An Executor is safe for concurrent use.
type Executor struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Classify    Classifier
	Resetter    PoolResetter

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
	group singleflight.Group
}

// New builds an Executor. Non-positive maxAttempts falls back to
// DefaultMaxAttempts and a negative baseDelay to DefaultBaseDelay.
func New(maxAttempts int, baseDelay time.Duration, classify Classifier, resetter PoolResetter) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay < 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Executor{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Classify:    classify,
		Resetter:    resetter,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable kind, or the
// attempt budget is spent. Any returned error is a *Error.
//
// Cancelling ctx stops the retry loop at the next wait; the error then wraps
// ctx.Err() with KindFatal.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := e.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return &Error{Kind: KindFatal, Op: op, Attempts: attempt - 1, Err: err}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		kind := e.classify(err)

		if !kind.Retryable() {
			if kind == KindFatal {
				failuresTotal.WithLabelValues(op, kind.String()).Inc()
			}
			return &Error{Kind: kind, Op: op, Attempts: attempt, Err: err}
		}
		if attempt >= attempts {
			failuresTotal.WithLabelValues(op, kind.String()).Inc()
			log.Error().Err(err).Str("op", op).Str("kind", kind.String()).Int("attempts", attempt).Msg("persistence retries exhausted")
			return &Error{Kind: kind, Op: op, Attempts: attempt, Err: err}
		}

		retriesTotal.WithLabelValues(op, kind.String()).Inc()
		delay := e.BaseDelay * time.Duration(attempt)
		log.Warn().Err(err).Str("op", op).Str("kind", kind.String()).Int("attempt", attempt).Dur("delay", delay).Msg("retrying persistence operation")

		if kind == KindStatementConflict {
			if rerr := e.resetPool(ctx); rerr != nil {
				log.Warn().Err(rerr).Str("op", op).Msg("pool reset failed")
			}
		}

		if werr := e.wait(ctx, delay); werr != nil {
			return &Error{Kind: KindFatal, Op: op, Attempts: attempt, Err: errors.Join(werr, err)}
		}
	}
}

// Execute is Do for operations that produce a value.
func Execute[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (e *Executor) classify(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if e.Classify != nil {
		return e.Classify(err)
	}
	return defaultClassify(err)
}

// resetPool performs at most one reset at a time; callers arriving while a
// reset is running share its result.
func (e *Executor) resetPool(ctx context.Context) error {
	if e.Resetter == nil {
		return nil
	}
	_, err, _ := e.group.Do("reset", func() (any, error) {
		poolResetsTotal.Inc()
		return nil, e.Resetter.ResetPool(context.WithoutCancel(ctx))
	})
	return err
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	if e.sleep != nil {
		return e.sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
