package client

import (
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
)

// Option to be passed to New to customize the resulting instance.
type Option func(*options)

type options struct {
	client *http.Client
	logger log.Logger
}

// WithHTTPClient sets the http client on the option
func WithHTTPClient(client *http.Client) Option {
	return func(options *options) {
		options.client = client
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
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.NewNopLogger(),
	}
}
