package secretary

import (
	"github.com/go-kit/kit/log"
)

// Option to be passed to New to customize the resulting instance.
type Option func(*options)

type options struct {
	queueSize int
	logger    log.Logger
}

// WithQueueSize bounds the inbound queue.
func WithQueueSize(size int) Option {
	return func(options *options) {
		options.queueSize = size
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
		queueSize: 64,
		logger:    log.NewNopLogger(),
	}
}
