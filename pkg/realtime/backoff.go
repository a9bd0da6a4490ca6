package realtime

import (
	"math"
	"time"
)

// Backoff gives the wait before reconnect attempt n, counting from 1.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ConstantBackoff waits the same time before every attempt.
type ConstantBackoff time.Duration

func (b ConstantBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// ExponentialBackoff multiplies Initial by Multiplier for every failed
// attempt, up to Max.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	m := b.Multiplier
	if m < 1 {
		m = 2
	}
	d := float64(b.Initial) * math.Pow(m, float64(max(attempt-1, 0)))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
