// Package schedule fires lifecycle transitions at validity-window
// boundaries: a start timer moves an accepted permission into
// streaming, an expiration timer fulfils it.
package schedule

import "time"

// Clock abstracts time so tests can drive timers deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending call.
type Timer interface {
	// Stop cancels the timer. It reports whether the call was
	// prevented; false means it already fired or was stopped.
	Stop() bool
}

// RealClock delegates to the time package.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc implements Clock.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool { return r.t.Stop() }
