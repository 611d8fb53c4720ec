package kctx

import "time"

// Timeout is a cooperative deadline: nothing preempts a running step, so
// callers must poll Expired() at natural suspension points (between
// membrane trap calls, between commit steps) the way
// swap/coordinator_timeout.go polls block height between swap checks.
type Timeout struct {
	deadline time.Time
	limits   Limits
}

// NewTimeout returns a Timeout expiring after d, honoring limits.Replaying
// (a replaying Timeout never expires — it must finish whatever the
// original run did, however long that takes on this machine).
func NewTimeout(d time.Duration, limits Limits) *Timeout {
	return &Timeout{deadline: time.Now().Add(d), limits: limits}
}

// Expired reports whether the deadline has passed. Always false while
// replaying.
func (t *Timeout) Expired() bool {
	if t.limits.Replaying {
		return false
	}
	return time.Now().After(t.deadline)
}

// Remaining returns the time left before expiry, or 0 if already expired.
// Always returns the original duration-unbounded value while replaying by
// reporting a large sentinel instead of a negative/zero duration.
func (t *Timeout) Remaining() time.Duration {
	if t.limits.Replaying {
		return time.Hour * 24 * 365
	}
	d := time.Until(t.deadline)
	if d < 0 {
		return 0
	}
	return d
}
