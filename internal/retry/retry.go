// Package retry runs fallible operations under an exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"time"
)

// Policy governs a single fallible call.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps every computed delay.
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64
	// ShouldRetry decides whether an error is worth another attempt.
	// DefaultShouldRetry is used when nil.
	ShouldRetry func(err error) bool
	// OnRetry is an optional observer invoked before each wait.
	OnRetry func(attempt int, err error)
	// Logger receives a warning before each wait. Nil disables logging.
	Logger *slog.Logger
	// Sleep suspends the caller. Defaults to a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns three attempts starting at one second, doubling, capped at ten seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
}

// Delay returns the wait that follows the given 1-based attempt:
// min(InitialDelay * BackoffFactor^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	d := float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Do calls op until it succeeds, the policy gives up, or ctx is done.
// The last error is returned unchanged when attempts run out or the error is
// not retryable.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if attempt >= maxAttempts || ctx.Err() != nil || !shouldRetry(err) {
			return zero, err
		}

		delay := p.Delay(attempt)
		if p.Logger != nil {
			p.Logger.Warn("retrying after failure",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", maxAttempts),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if serr := sleep(ctx, delay); serr != nil {
			return zero, fmt.Errorf("retry: wait interrupted: %w", errors.Join(err, serr))
		}
	}
}

// Run is Do for operations without a result value.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryableError marks an error as transient regardless of its shape.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// Retryable wraps err so DefaultShouldRetry treats it as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// statusCoder is implemented by errors that carry an upstream HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// DefaultShouldRetry retries transport failures and 5xx responses.
// Everything else, including 4xx responses and validation errors, is final.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var re *retryableError
	if errors.As(err, &re) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() != 0 {
		status := sc.HTTPStatus()
		return status >= 500 && status < 600
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
