package fsys_test

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/internal/fsys"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	fs := fsys.NewLocalFileSystem()

	path := filepath.Join(dir, "index.html")
	require.NoError(t, fsys.WriteFileAtomic(fs, path, []byte("first"), 0644))

	got, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first", string(got))

	require.NoError(t, fsys.WriteFileAtomic(fs, path, []byte("second"), 0644))

	got, err = ioutil.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))

	// No sibling temp files left behind.
	entries, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteFileAtomicMissingDir(t *testing.T) {
	dir := t.TempDir()
	fs := fsys.NewLocalFileSystem()

	err := fsys.WriteFileAtomic(fs, filepath.Join(dir, "nope", "index.html"), []byte("x"), 0644)
	require.Error(t, err)
}
