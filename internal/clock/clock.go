package clock

import (
	"time"
)

// Clock abstracts the passage of time so that components scheduling
// timeouts and sweeps can be driven by a fake in tests.
type Clock interface {

	// Now returns the current local time.
	Now() time.Time

	// UTC returns the current time in UTC.
	UTC() time.Time

	// After waits for the duration to elapse and then sends the current
	// time on the returned channel.
	After(d time.Duration) <-chan time.Time
}

// Sleeper pauses the calling goroutine.
type Sleeper interface {

	// Sleep pauses the current goroutine for at least the duration d.
	Sleep(d time.Duration)
}

// WallClock is a Clock backed by the wall time.
type WallClock struct{}

// New creates a Clock backed by the wall time.
func New() WallClock {
	return WallClock{}
}

// Now returns the current local time.
func (WallClock) Now() time.Time {
	return time.Now()
}

// UTC returns the current time in UTC.
func (WallClock) UTC() time.Time {
	return time.Now().UTC()
}

// After waits for the duration to elapse and then sends the current time
// on the returned channel.
func (WallClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// DefaultSleeper sleeps using the runtime timer.
var DefaultSleeper = sleeper{}

type sleeper struct{}

func (sleeper) Sleep(d time.Duration) {
	time.Sleep(d)
}
