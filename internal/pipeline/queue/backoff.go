package queue

import "time"

const (
	// DefaultBackoffBase is the first retry delay
	DefaultBackoffBase = 5 * time.Second
	// DefaultBackoffCap bounds the retry delay growth
	DefaultBackoffCap = 5 * time.Minute
)

// NextBackoff returns the delay before the next attempt given the number of
// attempts already recorded. The schedule is base·2^attempts capped, so
// successive delays are non-decreasing: 5s, 10s, 20s, ... up to the cap.
func NextBackoff(base, cap time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if cap <= 0 {
		cap = DefaultBackoffCap
	}
	if attempts < 0 {
		attempts = 0
	}

	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
