package embedder

import (
	"context"
	"errors"
	"time"
)

// Backoff describes how often and how patiently a provider call is retried
type Backoff struct {
	Attempts int           // Total calls, including the first
	Initial  time.Duration // Wait after the first failure
	Max      time.Duration // Upper bound of any single wait
	Factor   float64       // Growth of the wait per failure
}

var defaultBackoff = Backoff{
	Attempts: 3,
	Initial:  100 * time.Millisecond,
	Max:      5 * time.Second,
	Factor:   2,
}

// delay returns the wait after the given failed attempt (1-based)
func (b Backoff) delay(failed int) time.Duration {
	d := b.Initial
	for i := 1; i < failed; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

// permanentError marks a failure that retrying cannot fix (e.g. HTTP 401)
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// permanent wraps err so retry gives up immediately
func permanent(err error) error {
	return &permanentError{err: err}
}

// retry calls fn until it succeeds, fails permanently, ctx ends or the
// attempts are used up. The last error is returned.
func retry[T any](ctx context.Context, b Backoff, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(b.Attempts, 1)

	for failed := 1; ; failed++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if failed >= attempts {
			return zero, err
		}

		timer := time.NewTimer(b.delay(failed))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
