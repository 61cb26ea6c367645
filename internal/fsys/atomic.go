package fsys

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteFileAtomic writes data to path by writing a hidden sibling file
// and renaming it into place. Readers either see the old content or the
// new content, never a partial write. The sibling lives in the same
// directory so the rename never crosses a filesystem boundary.
func WriteFileAtomic(fs FileSystem, path string, data []byte, perm os.FileMode) error {
	dir, name := filepath.Split(path)
	tmp := filepath.Join(dir, "."+name+".tmp")

	f, err := fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fs.Remove(tmp)
		return errors.Wrapf(err, "failed to write %q", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fs.Remove(tmp)
		return errors.Wrapf(err, "failed to sync %q", tmp)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return errors.Wrapf(err, "failed to close %q", tmp)
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return errors.Wrapf(err, "failed to rename %q over %q", tmp, path)
	}
	return nil
}
