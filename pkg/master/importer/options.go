package importer

import (
	"github.com/go-kit/kit/log"

	"github.com/pdtopdog/piwheels/internal/clock"
)

// Option to be passed to New to customize the resulting instance.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger log.Logger
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
		clock:  clock.New(),
		logger: log.NewNopLogger(),
	}
}
