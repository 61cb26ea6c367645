package driver

import (
	"time"

	"github.com/go-kit/kit/log"

	"github.com/pdtopdog/piwheels/internal/clock"
)

// Option to be passed to New to customize the resulting instance.
type Option func(*options)

type options struct {
	events      Events
	clock       clock.Clock
	logger      log.Logger
	sleepMin    time.Duration
	sleepMax    time.Duration
	busyTimeout time.Duration
	idleTimeout time.Duration
	sweep       time.Duration
}

// WithEvents sets the status event sink on the option
func WithEvents(events Events) Option {
	return func(options *options) {
		options.events = events
	}
}

// WithClock sets the clock on the option
func WithClock(clock clock.Clock) Option {
	return func(options *options) {
		options.clock = clock
	}
}

// WithLogger sets the logger on the option
func WithLogger(logger log.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithSleep bounds the idle sleep backoff.
func WithSleep(min, max time.Duration) Option {
	return func(options *options) {
		options.sleepMin = min
		options.sleepMax = max
	}
}

// WithTimeouts sets the busy and idle heartbeat timeouts.
func WithTimeouts(busy, idle time.Duration) Option {
	return func(options *options) {
		options.busyTimeout = busy
		options.idleTimeout = idle
	}
}

// WithSweep sets the reaper cadence.
func WithSweep(sweep time.Duration) Option {
	return func(options *options) {
		options.sweep = sweep
	}
}

// Create a options instance with default values.
func newOptions() *options {
	return &options{
		clock:       clock.New(),
		logger:      log.NewNopLogger(),
		sleepMin:    10 * time.Second,
		sleepMax:    10 * time.Minute,
		busyTimeout: 5 * time.Minute,
		idleTimeout: 30 * time.Minute,
		sweep:       10 * time.Second,
	}
}
