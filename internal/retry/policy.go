// Package retry provides the single retry policy applied to every outbound
// call (LLM, embeddings, search index, third-party lookups) and to
// queue-level task retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how many times to try, how long to wait between tries
// and which errors are worth another try.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	// Retryable classifies errors. Nil means IsTransient.
	Retryable func(error) bool
	// OnRetry is called before each wait. Optional.
	OnRetry func(err error, wait time.Duration)
}

// Default mirrors the crawler's historical retry settings.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		Initial:     250 * time.Millisecond,
		Max:         5 * time.Second,
		Multiplier:  2,
		Retryable:   IsTransient,
	}
}

// WithRetryable returns a copy of p using fn to classify errors.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

// WithOnRetry returns a copy of p that reports each retry to fn.
func (p Policy) WithOnRetry(fn func(err error, wait time.Duration)) Policy {
	p.OnRetry = fn
	return p
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is spent.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	p = p.normalized()
	operation := func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(p.OnRetry))
	}
	v, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		return v, fmt.Errorf("after retries: %w", err)
	}
	return v, nil
}

// ShouldRetry reports whether a task that failed with err on its attempt-th
// try (1-based) deserves another try.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	p = p.normalized()
	if attempt >= p.MaxAttempts {
		return false
	}
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	return p.Retryable(err)
}

// Backoff returns a jittered wait before try number attempt+1.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	b := p.newBackOff()
	b.Reset()
	wait := p.Initial
	for i := 0; i <= attempt && i < 64; i++ {
		wait = b.NextBackOff()
	}
	if wait > p.Max {
		wait = p.Max
	}
	return wait
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	return b
}

func (p Policy) normalized() Policy {
	def := Default()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Permanent wraps err so that no policy retries it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Always classifies every error as retryable.
func Always(error) bool { return true }
