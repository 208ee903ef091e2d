// Package retry is the single backoff helper every transport retry routes
// through: bounded attempts, exponential delay (base × 2^attempt), and a
// caller-supplied classifier deciding retry vs give-up per error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Class tells Do whether an error is worth another attempt.
type Class int

const (
	// Transient errors are retried until attempts run out.
	Transient Class = iota
	// Permanent errors stop the loop immediately.
	Permanent
)

// Always classifies every error as transient.
func Always(error) Class { return Transient }

// Do runs op up to maxAttempts times, sleeping base × 2^attempt between
// attempts. classify may be nil (treated as Always). The last error is
// returned on exhaustion; ctx cancellation aborts the wait.
func Do(ctx context.Context, maxAttempts int, base time.Duration, classify func(error) Class, op func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if classify == nil {
		classify = Always
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	wrapped := func() error {
		err := op(ctx)
		if err != nil && classify(err) == Permanent {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx))
}
