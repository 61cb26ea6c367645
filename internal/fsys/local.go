package fsys

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// LocalFileSystem represents a local disk filesystem
type LocalFileSystem struct{}

// NewLocalFileSystem yields a local disk filesystem.
func NewLocalFileSystem() LocalFileSystem {
	return LocalFileSystem{}
}

// Create takes a path, creates the file and then returns a File back that
// can be used.
func (LocalFileSystem) Create(path string) (File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return localFile{f}, nil
}

// Open takes a path, opens a potential file and then returns a File if
// that file exists, otherwise it returns an error if the file wasn't
// found.
func (LocalFileSystem) Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound{err}
		}
		return nil, errors.WithStack(err)
	}
	return localFile{f}, nil
}

// OpenFile is the generalized Open call with explicit flag and perm.
func (LocalFileSystem) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound{err}
		}
		return nil, errors.WithStack(err)
	}
	return localFile{f}, nil
}

// Rename moves oldname over newname.
func (LocalFileSystem) Rename(oldname, newname string) error {
	err := os.Rename(oldname, newname)
	return errors.WithStack(err)
}

// Exists takes a path and checks to see if the potential file exists or
// not.
// Note: Only a not-exist error reports false; any other error trying to
// stat the file reports true.
func (LocalFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	return !os.IsNotExist(err)
}

// Remove takes a path and removes a potential file.
func (LocalFileSystem) Remove(path string) error {
	err := os.Remove(path)
	return errors.WithStack(err)
}

// RemoveAll takes a path and removes all potential files and directories.
func (LocalFileSystem) RemoveAll(path string) error {
	err := os.RemoveAll(path)
	return errors.WithStack(err)
}

// MkdirAll takes a path and generates a directory structure from that
// path.
func (LocalFileSystem) MkdirAll(path string, mode os.FileMode) error {
	err := os.MkdirAll(path, mode)
	return errors.WithStack(err)
}

// Chtimes updates the access and modification times of a path.
func (LocalFileSystem) Chtimes(path string, atime, mtime time.Time) error {
	err := os.Chtimes(path, atime, mtime)
	return errors.WithStack(err)
}

// Walk walks the file tree rooted at root.
func (LocalFileSystem) Walk(root string, walkFn filepath.WalkFunc) error {
	err := filepath.Walk(root, walkFn)
	return errors.WithStack(err)
}

type localFile struct {
	*os.File
}

func (f localFile) Size() int64 {
	fi, err := f.File.Stat()
	if err != nil {
		return -1
	}
	return fi.Size()
}
