// Package backoff computes retry delays for the client retry loop.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy selects the delay curve.
type Strategy int

const (
	// ExponentialJitter grows delay geometrically and adds up to
	// jitter*delay of random noise.
	ExponentialJitter Strategy = iota
	// DecorrelatedJitter picks a random delay between the base and three
	// times the previous upper bound (AWS-style), which spreads retries
	// from many clients more evenly.
	DecorrelatedJitter
)

// Delay returns the wait before retry number attempt (0-based). The result
// never exceeds max and is never negative.
func Delay(s Strategy, attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	switch s {
	case DecorrelatedJitter:
		return decorrelated(attempt, initial, max)
	default:
		return exponential(attempt, initial, max, multiplier, jitter)
	}
}

func exponential(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(initial) * Pow(multiplier, attempt))
	if d < 0 || d > max {
		d = max
	}

	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	if jitter > 0 {
		noise := time.Duration(float64(d) * jitter * rand.Float64())
		if d+noise > max {
			d = max
		} else {
			d += noise
		}
	}
	return d
}

func decorrelated(attempt int, initial, max time.Duration) time.Duration {
	if attempt == 0 {
		return initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(initial)
	upper := base * Pow(3.0, attempt)
	if upper > float64(max) || upper < base {
		upper = float64(max)
	}
	if upper < base {
		upper = base
	}

	d := time.Duration(base + rand.Float64()*(upper-base))
	if d < 0 || d > max {
		d = max
	}
	return d
}

// Pow is an integer-exponent power helper avoiding math.Pow on hot paths.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
