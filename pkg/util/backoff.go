package util

import (
	"time"

	"github.com/cenkalti/backoff"
)

// BackoffFactory creates a fresh backoff.BackOff for every retry sequence.
type BackoffFactory func() backoff.BackOff

// NewReconnectBackoffFactory creates a BackoffFactory which waits a fixed delay before every
// attempt, and stops after the given number of attempts.  Zero attempts means no limit.
//
// backoff.ExponentialBackOff is not used even with a Multiplier of 1.0, because its randomization
// would move the reconnect away from the fixed delay.
func NewReconnectBackoffFactory(delay time.Duration, attempts int) BackoffFactory {
	return func() backoff.BackOff {
		bo := backoff.NewConstantBackOff(delay)
		if attempts <= 0 {
			return bo
		}
		return backoff.WithMaxRetries(bo, uint64(attempts))
	}
}
