package domain

import "time"

// CycleState is the phase of the trading cycle controller.
type CycleState string

const (
	StateSeekingEntry CycleState = "SEEKING_ENTRY"
	StatePositionOpen CycleState = "POSITION_OPEN"
	StateFlat         CycleState = "FLAT"
)

// FailureBreaker counts consecutive failed reconciliation passes and enforces
// a cooldown once too many pile up.
type FailureBreaker struct {
	ConsecutiveFailures int
	MaxFailures         int
	CooldownDuration    time.Duration
	CooldownUntil       time.Time
	Trips               int
	LastReason          string
}

// IsOpen returns true if passes are allowed (not cooling down).
func (fb *FailureBreaker) IsOpen(now time.Time) bool {
	return !now.Before(fb.CooldownUntil)
}

// RecordFailure counts a failed pass and reports whether it tripped the
// breaker.
func (fb *FailureBreaker) RecordFailure(now time.Time, reason string) bool {
	fb.ConsecutiveFailures++
	fb.LastReason = reason
	if fb.MaxFailures <= 0 || fb.ConsecutiveFailures < fb.MaxFailures {
		return false
	}
	fb.CooldownUntil = now.Add(fb.CooldownDuration)
	fb.ConsecutiveFailures = 0
	fb.Trips++
	return true
}

// RecordSuccess resets the consecutive failure counter.
func (fb *FailureBreaker) RecordSuccess() {
	fb.ConsecutiveFailures = 0
}
