package queue

import "time"

// RetryPolicy bounds how often a failing job is re-attempted and how long
// the worker waits before each retry.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// Delays is indexed by retry attempt (1-based). Attempts past the end
	// reuse the last entry.
	Delays []time.Duration
}

// DefaultRetryPolicy retries three times after 10s, 30s and 90s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Delays:     []time.Duration{10 * time.Second, 30 * time.Second, 90 * time.Second},
	}
}

// DelayFor returns the wait before retry attempt n (1 = first retry).
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt-1]
}

// MaxAttempts is the initial try plus every retry.
func (p RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}
