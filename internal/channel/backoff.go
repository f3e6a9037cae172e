package channel

import "time"

// BackoffPolicy maps a count of failed attempts to the delay before the next one
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxFactor   int
	MaxAttempts int
}

// DefaultBackoff waits 1s, 2s, ... capped at 5s, for at most 10 reconnects
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   time.Second,
		MaxFactor:   5,
		MaxAttempts: 10,
	}
}

// Delay returns min(attempt+1, MaxFactor) × BaseDelay
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := attempt + 1
	if p.MaxFactor > 0 && factor > p.MaxFactor {
		factor = p.MaxFactor
	}
	return time.Duration(factor) * p.BaseDelay
}

// Exhausted reports whether no further automatic attempt may be scheduled
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
