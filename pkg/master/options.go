package master

import (
	"github.com/go-kit/kit/log"

	"github.com/pdtopdog/piwheels/internal/fsys"
)

// Option to be passed to New to customize the resulting instance.
type Option func(*options)

type options struct {
	fileSystem fsys.FileSystem
	logger     log.Logger
}

// WithFileSystem sets the filesystem on the option
func WithFileSystem(fileSystem fsys.FileSystem) Option {
	return func(options *options) {
		options.fileSystem = fileSystem
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
		fileSystem: fsys.NewLocalFileSystem(),
		logger:     log.NewNopLogger(),
	}
}
