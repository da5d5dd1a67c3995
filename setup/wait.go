package setup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 60 * time.Second
)

// HealthCheck reports whether a service has recovered
type HealthCheck func(ctx context.Context) bool

type waitConfig struct {
	interval    time.Duration
	timeout     time.Duration
	healthCheck HealthCheck
}

// WaitOption tunes a readiness wait
type WaitOption func(*waitConfig)

// WithInterval sets the pause between checks
func WithInterval(d time.Duration) WaitOption {
	return func(w *waitConfig) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithTimeout sets how long to wait for checks to pass
func WithTimeout(d time.Duration) WaitOption {
	return func(w *waitConfig) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithHealthCheck replaces the default container readiness check
func WithHealthCheck(check HealthCheck) WaitOption {
	return func(w *waitConfig) {
		w.healthCheck = check
	}
}

func newWaitConfig(opts []WaitOption) waitConfig {
	w := waitConfig{interval: DefaultInterval, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

var errNotReady = errors.New("not ready")

// Poll calls check every interval until it returns true. It returns an error
// matching ErrTimeOut once timeout elapses without success. check is always
// called at least once.
func Poll(ctx context.Context, interval, timeout time.Duration, check func(ctx context.Context) bool) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	op := func() (struct{}, error) {
		if check(ctx) {
			return struct{}{}, nil
		}
		return struct{}{}, errNotReady
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxElapsedTime(timeout),
	)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrTimeOut, ctx.Err())
	case errors.Is(err, errNotReady):
		return fmt.Errorf("%w after %s", ErrTimeOut, timeout)
	default:
		return fmt.Errorf("%w: %w", ErrTimeOut, err)
	}
}
