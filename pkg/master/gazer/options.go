package gazer

import (
	"time"

	"github.com/go-kit/kit/log"
)

// Option to be passed to New to customize the resulting instance.
type Option func(*options)

type options struct {
	interval time.Duration
	logger   log.Logger
}

// WithInterval sets the poll cadence on the option
func WithInterval(interval time.Duration) Option {
	return func(options *options) {
		options.interval = interval
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
		interval: 10 * time.Minute,
		logger:   log.NewNopLogger(),
	}
}
