package usecase

import (
	"math/rand/v2"
	"time"
)

// sleepBetween picks a random duration in [lo, hi]. It returns lo when hi <= lo.
func sleepBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// backoffDelays returns base*2^attempt for each attempt. The loop waits the
// whole schedule before its next cycle; nothing is retried in between.
func backoffDelays(base time.Duration, attempts int) []time.Duration {
	delays := make([]time.Duration, 0, attempts)
	for attempt := 0; attempt < attempts; attempt++ {
		delays = append(delays, base*time.Duration(1<<min(attempt, 20)))
	}
	return delays
}
