package requery

import "time"

// clock abstracts time so retry and revalidation schedules can be driven
// deterministically in tests.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) timer
}

// timer is the stoppable handle returned by clock.AfterFunc.
type timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) timer {
	return time.AfterFunc(d, fn)
}
