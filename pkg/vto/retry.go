package vto

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds user-triggered retries.
type RetryPolicy struct {
	Max      int           `json:"max"`
	Initial  time.Duration `json:"initial"`
	Ceiling  time.Duration `json:"ceiling"`
	Multiple float64       `json:"multiple"`
}

// DefaultRetryPolicy allows three retries with delays 2s, 4s, 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Max:      3,
		Initial:  time.Second,
		Ceiling:  5 * time.Second,
		Multiple: 2,
	}
}

// Delay returns the backoff before the boot that follows retry number
// count (1-based): min(Initial * Multiple^count, Ceiling).
func (p RetryPolicy) Delay(count int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          p.Multiple,
		MaxInterval:         p.Ceiling,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < count; i++ {
		d = b.NextBackOff()
	}
	return d
}

// RetryContext is the retry bookkeeping carried in snapshots.
type RetryContext struct {
	Count   int           `json:"count"`
	Max     int           `json:"max"`
	Backoff time.Duration `json:"backoff"`
}

// CanRetry reports whether another retry is allowed.
func (r RetryContext) CanRetry() bool {
	return r.Count < r.Max
}

// Exhausted reports whether retries are used up.
func (r RetryContext) Exhausted() bool {
	return !r.CanRetry()
}
