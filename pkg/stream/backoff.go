package stream

import (
	"math/rand"
	"time"
)

// backoffDelay computes the reconnect delay for the given attempt
// (1-based): base doubled per attempt, capped at max. The result is
// monotonically non-decreasing until the cap; jitter is added by the
// caller so this stays testable.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// withJitter adds up to 25% random jitter so reconnecting clients do
// not stampede the server in lockstep.
func withJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(int64(delay)/4+1))
}
