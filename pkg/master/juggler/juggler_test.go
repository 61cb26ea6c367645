package juggler_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/ioutil"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/fsys"
	"github.com/pdtopdog/piwheels/internal/protocol"
	"github.com/pdtopdog/piwheels/pkg/master/juggler"
)

type fakeRecorder struct {
	mutex  sync.Mutex
	builds []db.Build
	files  [][]db.File
	deps   [][]db.Dependency
}

func (r *fakeRecorder) RecordBuild(build db.Build, files []db.File, deps []db.Dependency) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.builds = append(r.builds, build)
	r.files = append(r.files, files)
	r.deps = append(r.deps, deps)
	return nil
}

func fileInfo(filename string, content []byte) protocol.FileInfo {
	digest := sha256.Sum256(content)
	return protocol.FileInfo{
		Filename: filename,
		Filesize: int64(len(content)),
		Filehash: hex.EncodeToString(digest[:]),
	}
}

func newJuggler(t *testing.T, recorder juggler.Recorder) (*juggler.Juggler, string) {
	t.Helper()

	dir := t.TempDir()
	j := juggler.New(fsys.NewLocalFileSystem(), dir, recorder)
	require.NoError(t, j.Setup())
	return j, dir
}

func TestInstallVerifiesAndRenames(t *testing.T) {
	j, dir := newJuggler(t, &fakeRecorder{})

	content := []byte("wheel bytes")
	info := fileInfo("foo-1.0-cp39-cp39-linux_armv7l.whl", content)

	require.NoError(t, j.Install(bytes.NewReader(content), info, "foo"))

	installed := filepath.Join(dir, "simple", "foo", info.Filename)
	got, err := ioutil.ReadFile(installed)
	require.NoError(t, err)
	require.Equal(t, content, got)

	// Nothing left in the temp area.
	entries, err := ioutil.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestInstallRejectsTamperedContent(t *testing.T) {
	j, dir := newJuggler(t, &fakeRecorder{})

	info := fileInfo("foo-1.0-cp39-cp39-linux_armv7l.whl", []byte("original"))

	err := j.Install(bytes.NewReader([]byte("tampered")), info, "foo")
	require.Error(t, err)
	require.True(t, juggler.ErrMismatch(err))

	// The mismatched file never reaches the served area.
	require.NoFileExists(t, filepath.Join(dir, "simple", "foo", info.Filename))
	entries, err := ioutil.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSetupPurgesTempArea(t *testing.T) {
	dir := t.TempDir()
	fs := fsys.NewLocalFileSystem()
	require.NoError(t, fs.MkdirAll(filepath.Join(dir, "tmp"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "tmp", "partial.whl"), []byte("junk"), 0644))

	j := juggler.New(fs, dir, &fakeRecorder{})
	require.NoError(t, j.Setup())

	entries, err := ioutil.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExpectTracksOutstandingFiles(t *testing.T) {
	j, _ := newJuggler(t, &fakeRecorder{})

	build := db.Build{Package: "foo", Version: "1.0", ABITag: "cp39m", Status: true}
	first := fileInfo("foo-1.0-cp39-cp39-linux_armv7l.whl", []byte("a"))
	second := fileInfo("foo-1.0-cp39-none-any.whl", []byte("b"))
	j.Expect("slave-1", build, []protocol.FileInfo{first, second})

	next, ok := j.NextFilename("slave-1")
	require.True(t, ok)
	require.Equal(t, first.Filename, next)

	_, ok = j.NextFilename("unknown")
	require.False(t, ok)
}

func TestRecordBuildAfterLastVerifiedFile(t *testing.T) {
	recorder := &fakeRecorder{}
	j, _ := newJuggler(t, recorder)

	build := db.Build{Package: "foo", Version: "1.0", ABITag: "cp39m", Status: true}
	content := []byte("wheel bytes")
	info := fileInfo("foo-1.0-cp39-cp39-linux_armv7l.whl", content)
	info.Dependencies = []protocol.Dependency{{Tool: "apt", Name: "libatlas3-base"}}
	j.Expect("slave-1", build, []protocol.FileInfo{info})

	require.NoError(t, j.Install(bytes.NewReader(content), info, "foo"))
	verdict := juggler.Complete(j, "slave-1", info.Filename, protocol.VerdictOK)
	require.Equal(t, protocol.VerdictOK, verdict)

	require.Len(t, recorder.builds, 1)
	require.Equal(t, "foo", recorder.builds[0].Package)
	require.Len(t, recorder.files[0], 1)
	require.Equal(t, info.Filename, recorder.files[0][0].Filename)
	require.Len(t, recorder.deps[0], 1)
	require.Equal(t, "libatlas3-base", recorder.deps[0][0].Dependency)
}

func TestRetriesEscalateToError(t *testing.T) {
	recorder := &fakeRecorder{}
	j, _ := newJuggler(t, recorder)

	build := db.Build{Package: "foo", Version: "1.0", Status: true}
	info := fileInfo("foo-1.0-cp39-cp39-linux_armv7l.whl", []byte("a"))
	j.Expect("slave-1", build, []protocol.FileInfo{info})

	// Default cap is 3 attempts; the third mismatch abandons the file.
	require.Equal(t, protocol.VerdictRetry, juggler.Complete(j, "slave-1", info.Filename, protocol.VerdictRetry))
	require.Equal(t, protocol.VerdictRetry, juggler.Complete(j, "slave-1", info.Filename, protocol.VerdictRetry))
	require.Equal(t, protocol.VerdictError, juggler.Complete(j, "slave-1", info.Filename, protocol.VerdictRetry))

	require.Empty(t, recorder.builds)
}

func TestShutdownDiscardsPendingTransfers(t *testing.T) {
	j, _ := newJuggler(t, &fakeRecorder{})

	build := db.Build{Package: "foo", Version: "1.0", Status: true}
	info := fileInfo("foo-1.0-cp39-cp39-linux_armv7l.whl", []byte("a"))
	j.Expect("slave-1", build, []protocol.FileInfo{info})

	j.Shutdown()

	_, ok := j.NextFilename("slave-1")
	require.False(t, ok)
}

func TestDiscardRemovesState(t *testing.T) {
	j, _ := newJuggler(t, &fakeRecorder{})

	build := db.Build{Package: "foo", Version: "1.0", Status: true}
	info := fileInfo("foo-1.0-cp39-cp39-linux_armv7l.whl", []byte("a"))
	j.Expect("slave-1", build, []protocol.FileInfo{info})

	j.Discard("slave-1")

	_, ok := j.NextFilename("slave-1")
	require.False(t, ok)
}
