package job

import (
	"math"
	"time"
)

// BackoffFunc computes the delay before a failed job becomes eligible for
// another lease. attempts is the number of attempts already consumed.
type BackoffFunc func(attempts int) time.Duration

// ExponentialBackoff returns a BackoffFunc that doubles the delay with each
// consumed attempt, starting at base for the first retry and capping at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return func(attempts int) time.Duration {
		if attempts <= 0 {
			return 0
		}
		delay := time.Duration(float64(base) * math.Pow(2, float64(attempts-1)))
		if delay <= 0 || delay > max {
			return max
		}
		return delay
	}
}
