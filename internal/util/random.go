package util

import (
	"math/rand/v2"
	"time"
)

// Jitter returns a random delay uniformly distributed in [0, max). It spreads
// simultaneous follow-up sends so users crossing a threshold in the same
// sweep do not all receive messages at the identical instant.
func Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
