package scribe_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/fsys"
	"github.com/pdtopdog/piwheels/pkg/master/scribe"
)

type fakeOracle struct {
	mutex    sync.Mutex
	packages []string
	files    map[string][]db.File
	stats    db.Statistics

	packageReads int
}

func (f *fakeOracle) IndexPackages(ctx context.Context) ([]string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.packages, nil
}

func (f *fakeOracle) GetPackageFiles(ctx context.Context, name string) ([]db.File, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.packageReads++
	return f.files[name], nil
}

func (f *fakeOracle) GetStatistics(ctx context.Context) (db.Statistics, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.stats, nil
}

func newScribe(t *testing.T, oracle scribe.Oracle) (*scribe.Scribe, string) {
	t.Helper()

	dir := t.TempDir()
	return scribe.New(fsys.NewLocalFileSystem(), dir, oracle), dir
}

func TestPackageIndexListsFiles(t *testing.T) {
	oracle := &fakeOracle{
		packages: []string{"foo"},
		files: map[string][]db.File{
			"foo": {{
				Filename: "foo-1.0-cp39-cp39-linux_armv7l.whl",
				Filehash: "abcd",
				Filesize: 42,
				ABITag:   "cp39",
			}},
		},
	}
	s, dir := newScribe(t, oracle)

	s.RewritePackage("foo")
	s.Drain(context.Background())

	body, err := ioutil.ReadFile(filepath.Join(dir, "simple", "foo", "index.html"))
	require.NoError(t, err)
	require.Contains(t, string(body), `foo-1.0-cp39-cp39-linux_armv7l.whl#sha256=abcd`)

	project, err := ioutil.ReadFile(filepath.Join(dir, "project", "foo", "index.html"))
	require.NoError(t, err)
	require.Contains(t, string(project), "foo-1.0-cp39-cp39-linux_armv7l.whl")
}

func TestCoalescing(t *testing.T) {
	oracle := &fakeOracle{
		packages: []string{"foo"},
		files:    map[string][]db.File{"foo": {{Filename: "foo-1.0.whl"}}},
	}
	s, _ := newScribe(t, oracle)

	for i := 0; i < 10; i++ {
		s.RewritePackage("foo")
	}
	// Ten requests collapse to one index and one project target.
	require.Equal(t, 2, s.Pending())

	s.Drain(context.Background())
	require.Equal(t, 0, s.Pending())

	oracle.mutex.Lock()
	defer oracle.mutex.Unlock()
	require.Equal(t, 2, oracle.packageReads)
}

func TestRootSkippedWhenUnchanged(t *testing.T) {
	oracle := &fakeOracle{packages: []string{"bar", "foo"}}
	s, dir := newScribe(t, oracle)

	s.RewriteRoot()
	s.Drain(context.Background())

	path := filepath.Join(dir, "simple", "index.html")
	first, err := os.Stat(path)
	require.NoError(t, err)

	body, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(body), `<a href="foo/">foo</a>`)

	// Same package set: the page must not be rewritten.
	require.NoError(t, os.Chtimes(path, first.ModTime().Add(-time.Hour), first.ModTime().Add(-time.Hour)))
	s.RewriteRoot()
	s.Drain(context.Background())

	second, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, first.ModTime().Add(-time.Hour), second.ModTime())

	// A changed set rewrites the page and the json listing.
	oracle.mutex.Lock()
	oracle.packages = []string{"bar", "baz", "foo"}
	oracle.mutex.Unlock()
	s.RewriteRoot()
	s.Drain(context.Background())

	body, err = ioutil.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(body), `baz`)

	listing, err := ioutil.ReadFile(filepath.Join(dir, "packages.json"))
	require.NoError(t, err)
	require.Contains(t, string(listing), `"baz"`)
}

func TestSetupRendersEverything(t *testing.T) {
	oracle := &fakeOracle{
		packages: []string{"foo"},
		files:    map[string][]db.File{"foo": {{Filename: "foo-1.0.whl"}}},
	}
	s, dir := newScribe(t, oracle)

	require.NoError(t, s.Setup(context.Background()))

	for _, path := range []string{
		filepath.Join(dir, "simple", "index.html"),
		filepath.Join(dir, "simple", "foo", "index.html"),
		filepath.Join(dir, "project", "foo", "index.html"),
		filepath.Join(dir, "packages.json"),
		filepath.Join(dir, "stats.html"),
	} {
		require.FileExists(t, path)
	}
}
