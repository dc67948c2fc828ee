package queue

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter.
type Backoff struct {
	Initial    time.Duration // Delay after the first attempt (default: 5s)
	Max        time.Duration // Maximum delay (default: 5m)
	Multiplier float64       // Multiplier per attempt (default: 2.0)
	Jitter     float64       // Jitter factor 0-1 (default: 0.1 = 10%)
}

// DefaultBackoff returns the queue's default retry schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    5 * time.Second,
		Max:        5 * time.Minute,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Delay returns the delay before retrying a job that has made attempts attempts.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	// initial * multiplier^(attempts-1)
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempts-1))

	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// delay * (1 + random(-jitter, +jitter))
	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay = delay + (rand.Float64()*2-1)*jitterRange
	}

	if delay < 0 {
		delay = float64(b.Initial)
	}

	return time.Duration(delay)
}
