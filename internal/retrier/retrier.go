package retrier

import (
	"time"

	"github.com/pdtopdog/piwheels/internal/clock"
)

// Retrier runs a function repeatedly until it succeeds or the backoff
// schedule is exhausted.
type Retrier struct {
	sleeper clock.Sleeper
	backoff []time.Duration
}

// New creates a Retrier that retries amount times, sleeping duration
// between each attempt.
func New(sleeper clock.Sleeper, amount int, duration time.Duration) *Retrier {
	return &Retrier{
		sleeper: sleeper,
		backoff: linear(amount, duration),
	}
}

// NewExponential creates a Retrier whose sleep doubles after every
// failed attempt.
func NewExponential(sleeper clock.Sleeper, amount int, duration time.Duration) *Retrier {
	return &Retrier{
		sleeper: sleeper,
		backoff: exponential(amount, duration),
	}
}

// Run executes the given function until it returns nil, or returns the
// last error once the schedule is exhausted.
func (r *Retrier) Run(fn func() error) error {
	var retries int
	for {
		err := fn()
		if err == nil {
			return nil
		}

		if retries >= len(r.backoff) {
			return errRetry{err}
		}
		r.sleeper.Sleep(r.backoff[retries])
		retries++
	}
}

func linear(n int, d time.Duration) []time.Duration {
	res := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		res[i] = d
	}
	return res
}

func exponential(n int, d time.Duration) []time.Duration {
	res := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		res[i] = d
		d *= 2
	}
	return res
}

type errRetry struct {
	err error
}

func (e errRetry) Error() string {
	return e.err.Error()
}

// ErrRetry reports whether the error came from an exhausted Retrier.
func ErrRetry(err error) bool {
	_, ok := err.(errRetry)
	return ok
}
