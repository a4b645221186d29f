package jobs

import (
	"math"
	"time"
)

// Backoff returns the delay before the next attempt after attempts failures:
// base * 2^(attempts-1). It saturates at the largest time.Duration.
func Backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts <= 1 {
		return base
	}

	delay := base
	for idx := 1; idx < attempts; idx++ {
		if delay > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		delay *= 2
	}
	return delay
}
