package txlog

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures the commit retry combinator per §4.4/§9:
// {maxRetries, baseDelay, maxDelay, multiplier, jitterFactor,
// isRetryable}.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
	IsRetryable  func(error) bool
}

// DefaultRetryPolicy is the policy named in §4.4: up to 3 attempts,
// 100ms base delay, factor 2, 10s cap, full jitter at 0.5. Retries
// ConcurrencyError and storage ServiceUnavailable; everything else
// (ValidationError, SchemaMismatchError, PermissionDenied) is
// non-retryable.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.5,
		IsRetryable:  defaultIsRetryable,
	}
}

// Retryable is implemented by errors that know their own retry status
// (ConcurrencyError, and storage.ServiceUnavailable).
type Retryable interface {
	Retryable() bool
}

func defaultIsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

func (p RetryPolicy) backOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = p.JitterFactor
	eb.MaxElapsedTime = 0 // bounded by MaxRetries via WithMaxRetries instead

	// MaxRetries counts attempts, the first one included.
	retries := p.MaxRetries - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(eb, uint64(retries))
}

// Retry runs op under p, retrying only errors p.IsRetryable accepts;
// any other error is returned immediately via backoff.Permanent so the
// underlying combinator stops without burning further attempts.
// Honors ctx cancellation between attempts.
func Retry(ctx context.Context, p RetryPolicy, op func() error) error {
	if p.IsRetryable == nil {
		p.IsRetryable = defaultIsRetryable
	}
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !p.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(p.backOff(), ctx))
}
