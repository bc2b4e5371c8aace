// Package retry bounds generation attempts and spaces them with linear
// backoff. It holds no session state and never persists anything; the
// conversation layer decides what a surfaced failure means for the log.
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultMaxAttempts caps attempts at one orchestrated call.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay scales linearly with the attempt number: the wait
	// after attempt n is BaseDelay * n (2s, then 4s).
	DefaultBaseDelay = 2 * time.Second
)

// retryable is satisfied by classified errors that may be retried.
type retryable interface {
	Retryable() bool
}

// Orchestrator runs a single-attempt generation function up to MaxAttempts
// times. OnRetry, when set, is invoked before every attempt after the first
// so callers can surface transient "retrying (n/max)" progress; those
// notices are never persisted.
type Orchestrator struct {
	MaxAttempts int
	BaseDelay   time.Duration
	OnRetry     func(attempt, max int)

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an Orchestrator with the default attempt budget and backoff.
func New() *Orchestrator {
	return &Orchestrator{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		sleep:       ctxSleep,
	}
}

// Do invokes fn until it succeeds, fails terminally, or the attempt budget is
// exhausted. The last failure is propagated unchanged so the caller sees the
// original classification and remote message.
func (o *Orchestrator) Do(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	max := o.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	sleep := o.sleep
	if sleep == nil {
		sleep = ctxSleep
	}

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if attempt > 1 && o.OnRetry != nil {
			o.OnRetry(attempt, max)
		}

		reply, err := fn(ctx)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		var r retryable
		if !errors.As(err, &r) || !r.Retryable() {
			return "", err
		}
		if attempt == max {
			break
		}

		if err := sleep(ctx, o.BaseDelay*time.Duration(attempt)); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
