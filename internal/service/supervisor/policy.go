package supervisor

import (
	"math"
	"time"
)

// Policy decides whether and when a crashed child is relaunched.
type Policy struct {
	// MaxRestarts caps consecutive restarts; 0 means unbounded.
	MaxRestarts int
	// Delay is waited before the first restart.
	Delay time.Duration
	// Multiplier grows the delay after each restart; values below 1 keep it fixed.
	Multiplier float64
	// MaxDelay caps the grown delay; 0 means no cap.
	MaxDelay time.Duration
}

// Exhausted reports whether no further restart is allowed after restarts.
func (p Policy) Exhausted(restarts int) bool {
	return p.MaxRestarts > 0 && restarts >= p.MaxRestarts
}

// Backoff returns the delay before restart number restart+1.
func (p Policy) Backoff(restart int) time.Duration {
	if p.Multiplier <= 1 || restart <= 0 {
		return p.capped(p.Delay)
	}

	grown := float64(p.Delay) * math.Pow(p.Multiplier, float64(restart))
	if grown >= math.MaxInt64 {
		return p.capped(time.Duration(math.MaxInt64))
	}

	return p.capped(time.Duration(grown))
}

func (p Policy) capped(delay time.Duration) time.Duration {
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}
