package juggler

import (
	"github.com/go-kit/kit/log"
)

// Option to be passed to New to customize the resulting instance.
type Option func(*options)

type options struct {
	retries int
	logger  log.Logger
}

// WithRetries caps the number of hash-mismatched uploads of one file;
// the mismatch that reaches the cap fails the build.
func WithRetries(retries int) Option {
	return func(options *options) {
		options.retries = retries
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
		retries: 3,
		logger:  log.NewNopLogger(),
	}
}
