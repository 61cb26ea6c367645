package fsys

import (
	"io"
	"os"
	"path/filepath"
	"time"
)

// FileSystem is an abstraction over the native filesystem. Both the
// wheel store and the index writer go through it so that tests can run
// against a temp-dir or fake implementation.
type FileSystem interface {

	// Create takes a path, creates the file and then returns a File back
	// that can be used. This returns an error if the file can not be
	// created in some way.
	Create(string) (File, error)

	// Open takes a path, opens a potential file and then returns a File
	// if that file exists, otherwise it returns an error if the file
	// wasn't found.
	Open(string) (File, error)

	// OpenFile is the generalized Open call with explicit flag and perm.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Rename moves oldname over newname. On the same filesystem the
	// rename is atomic.
	Rename(oldname, newname string) error

	// Exists takes a path and checks to see if the potential file exists
	// or not.
	Exists(string) bool

	// Remove takes a path and removes a potential file.
	Remove(string) error

	// RemoveAll takes a path and removes all potential files and
	// directories.
	RemoveAll(string) error

	// MkdirAll takes a path and generates a directory structure from
	// that path.
	MkdirAll(string, os.FileMode) error

	// Chtimes updates the access and modification times of a path.
	Chtimes(string, time.Time, time.Time) error

	// Walk walks the file tree rooted at root.
	Walk(string, filepath.WalkFunc) error
}

// File composes the reading, writing and closing of a file.
type File interface {
	io.Reader
	io.Writer
	io.Closer

	// Name returns the name of the file
	Name() string

	// Size returns the size of the file
	Size() int64

	// Sync flushes the file to the underlying storage.
	Sync() error
}

type notFound interface {
	NotFound() bool
}

type errNotFound struct {
	err error
}

// NotFound creates a new not found error
func NotFound(err error) error {
	return errNotFound{err}
}

func (e errNotFound) Error() string {
	return e.err.Error()
}

func (e errNotFound) NotFound() bool {
	return true
}

// ErrNotFound reports whether the error is a not found error.
func ErrNotFound(err error) bool {
	if err != nil {
		if _, ok := err.(notFound); ok {
			return true
		}
	}
	return false
}
