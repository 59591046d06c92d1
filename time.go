package credentials

import "time"

// IsWithinThresholdPeriod reports whether t is still inside the given
// window at the instant now.
func IsWithinThresholdPeriod(t time.Time, window time.Duration, now time.Time) bool {
	return t.Add(window).After(now)
}

// IsOutsideThresholdPeriod is the negation of IsWithinThresholdPeriod.
func IsOutsideThresholdPeriod(t time.Time, window time.Duration, now time.Time) bool {
	return !IsWithinThresholdPeriod(t, window, now)
}
