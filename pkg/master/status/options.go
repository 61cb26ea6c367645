package status

import (
	"time"

	"github.com/go-kit/kit/log"

	"github.com/pdtopdog/piwheels/internal/clock"
)

// Option to be passed to New to customize the resulting instance.
type Option func(*options)

type options struct {
	interval time.Duration
	clock    clock.Clock
	logger   log.Logger
}

// WithInterval sets the broadcast cadence on the option
func WithInterval(interval time.Duration) Option {
	return func(options *options) {
		options.interval = interval
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

// Create a options instance with default values.
func newOptions() *options {
	return &options{
		interval: 30 * time.Second,
		clock:    clock.New(),
		logger:   log.NewNopLogger(),
	}
}
