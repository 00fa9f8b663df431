package reminders

import "time"

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 60 * time.Second
)

// Policy is a fixed-backoff retry policy.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultPolicy returns the standard policy (3 attempts, 60s apart).
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, Backoff: DefaultRetryBackoff}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetryBackoff
	}
	return p
}

// ShouldRetry reports whether a job that has now made attempts attempts
// may be tried again.
func (p Policy) ShouldRetry(attempts int) bool {
	return attempts < p.normalized().MaxRetries
}

// NextAttemptAt returns when a failed job becomes due again. The result is
// always strictly after prev.
func (p Policy) NextAttemptAt(now, prev time.Time) time.Time {
	p = p.normalized()
	next := now.Add(p.Backoff)
	if !next.After(prev) {
		next = prev.Add(p.Backoff)
	}
	return next
}
