package retryq

import "time"

// Backoff computes the exponential retry schedule: base * 2^attemptCount,
// capped at max. Both bounds come from configuration.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the next attempt after attemptCount
// failures. Strictly increasing in attemptCount until the cap is reached.
func (b Backoff) Delay(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}
	d := b.Base
	for i := 0; i < attemptCount; i++ {
		d *= 2
		if d >= b.Max || d <= 0 { // <=0 guards shift overflow
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// NextRetryAt returns the absolute next-retry time from now.
func (b Backoff) NextRetryAt(now time.Time, attemptCount int) time.Time {
	return now.Add(b.Delay(attemptCount))
}
