package refresher

import (
	"math"
	"math/rand"
	"time"
)

// maxRetryDelay caps the exponential growth so a long offline stretch does
// not push the next retry hours away.
const maxRetryDelay = 30 * time.Minute

// retryDelay computes the delay before retry number attempts (1-based) with
// exponential growth and a multiplicative jitter drawn from [1, 2) so that
// clients that failed together do not retry together.
func retryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(base) * math.Pow(2, float64(attempts-1)) * (1 + rand.Float64())
	if delay > float64(maxRetryDelay) {
		return maxRetryDelay
	}
	return time.Duration(delay)
}
