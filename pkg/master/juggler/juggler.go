package juggler

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/fsys"
	"github.com/pdtopdog/piwheels/internal/protocol"
)

// ChunkSize is the fixed transfer chunk size.
const ChunkSize = protocol.TransferChunkSize

// Recorder persists a verified build. The secretary implements it; the
// call enqueues and may block under backpressure, it never fails the
// transfer.
type Recorder interface {

	// RecordBuild persists a build attempt with its verified files.
	RecordBuild(build db.Build, files []db.File, deps []db.Dependency) error
}

// Juggler owns the wheel area of the filesystem. It receives artifact
// uploads from slaves, verifies them against their declared hashes and
// installs them atomically under simple/<package>/. No other component
// writes there.
type Juggler struct {
	fs       fsys.FileSystem
	output   string
	retries  int
	recorder Recorder
	logger   log.Logger

	mutex     sync.Mutex
	transfers map[string]*transferSet
	conns     map[io.Closer]struct{}
}

// transferSet is everything one slave still owes us for its last
// successful build.
type transferSet struct {
	build    db.Build
	files    []protocol.FileInfo
	verdicts map[string]protocol.VerdictStatus
	attempts map[string]int
}

// New creates a Juggler rooted at output.
func New(fs fsys.FileSystem, output string, recorder Recorder, options ...Option) *Juggler {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Juggler{
		fs:        fs,
		output:    output,
		retries:   opts.retries,
		recorder:  recorder,
		logger:    opts.logger,
		transfers: make(map[string]*transferSet),
		conns:     make(map[io.Closer]struct{}),
	}
}

// Setup creates the filesystem layout and purges any partial upload
// left behind by a previous run. Anything under simple/ has already
// been verified; anything under tmp/ has not.
func (j *Juggler) Setup() error {
	if err := j.fs.MkdirAll(j.simpleDir(), 0755); err != nil {
		return errors.WithStack(err)
	}
	if err := j.fs.RemoveAll(j.tempDir()); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(j.fs.MkdirAll(j.tempDir(), 0755))
}

// Expect registers the artifacts a slave is about to upload for the
// given build. The driver calls this when a successful build reports
// files.
func (j *Juggler) Expect(slaveID string, build db.Build, files []protocol.FileInfo) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	j.transfers[slaveID] = &transferSet{
		build:    build,
		files:    files,
		verdicts: make(map[string]protocol.VerdictStatus),
		attempts: make(map[string]int),
	}
}

// NextFilename returns the first expected file that has not been
// verified yet, or false when every file is in.
func (j *Juggler) NextFilename(slaveID string) (string, bool) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	set, ok := j.transfers[slaveID]
	if !ok {
		return "", false
	}
	for _, file := range set.files {
		if set.verdicts[file.Filename] != protocol.VerdictOK {
			return file.Filename, true
		}
	}
	return "", false
}

// Verdict returns the outcome of the named upload, or false when no
// verdict has been reached.
func (j *Juggler) Verdict(slaveID, filename string) (protocol.VerdictStatus, bool) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	set, ok := j.transfers[slaveID]
	if !ok {
		return "", false
	}
	verdict, ok := set.verdicts[filename]
	return verdict, ok
}

// Discard drops a slave's transfer state and removes anything it had
// half-uploaded. Installed files are untouched; the build was never
// recorded, so a later attempt re-uploads them.
func (j *Juggler) Discard(slaveID string) {
	j.mutex.Lock()
	set, ok := j.transfers[slaveID]
	delete(j.transfers, slaveID)
	j.mutex.Unlock()

	if !ok {
		return
	}
	for _, file := range set.files {
		j.fs.Remove(j.tempPath(file.Filename))
	}
}

// Install verifies the content read from r against the declared hash
// and size, then atomically renames it into place. It is also the
// entry point for externally produced wheels.
func (j *Juggler) Install(r io.Reader, info protocol.FileInfo, pkg string) error {
	if err := j.fs.MkdirAll(j.packageDir(pkg), 0755); err != nil {
		return errors.WithStack(err)
	}

	tmp := j.tempPath(info.Filename)
	f, err := j.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", tmp)
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), r)
	if err != nil {
		f.Close()
		j.fs.Remove(tmp)
		return errors.Wrapf(err, "failed to write %q", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		j.fs.Remove(tmp)
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		j.fs.Remove(tmp)
		return errors.WithStack(err)
	}

	if size != info.Filesize {
		j.fs.Remove(tmp)
		return errMismatch{errors.Errorf("size mismatch for %q: got %d, want %d", info.Filename, size, info.Filesize)}
	}
	if digest := hex.EncodeToString(hash.Sum(nil)); digest != info.Filehash {
		j.fs.Remove(tmp)
		return errMismatch{errors.Errorf("hash mismatch for %q: got %s, want %s", info.Filename, digest, info.Filehash)}
	}

	target := filepath.Join(j.packageDir(pkg), info.Filename)
	if err := j.fs.Rename(tmp, target); err != nil {
		j.fs.Remove(tmp)
		return errors.Wrapf(err, "failed to install %q", info.Filename)
	}
	return nil
}

// RemoveFiles deletes the named installed wheels from the package's own
// directory. Used when a build is deleted.
func (j *Juggler) RemoveFiles(pkg string, filenames []string) {
	for _, filename := range filenames {
		path := filepath.Join(j.packageDir(pkg), filename)
		if err := j.fs.Remove(path); err != nil {
			level.Warn(j.logger).Log("msg", "failed to remove wheel", "path", path, "err", err)
		}
	}
}

// complete records the verdict for a finished upload. When the verdict
// is ok and it was the last outstanding file, the whole build is handed
// to the recorder.
func (j *Juggler) complete(slaveID, filename string, verdict protocol.VerdictStatus) protocol.VerdictStatus {
	j.mutex.Lock()
	set, ok := j.transfers[slaveID]
	if !ok {
		j.mutex.Unlock()
		return protocol.VerdictError
	}

	if verdict == protocol.VerdictRetry {
		set.attempts[filename]++
		if set.attempts[filename] >= j.retries {
			verdict = protocol.VerdictError
		}
	}
	set.verdicts[filename] = verdict

	done := verdict == protocol.VerdictOK
	if done {
		for _, file := range set.files {
			if set.verdicts[file.Filename] != protocol.VerdictOK {
				done = false
				break
			}
		}
	}
	build, files, deps := set.build, set.files, dependencies(set.files)
	j.mutex.Unlock()

	if done {
		if err := j.recorder.RecordBuild(build, dbFiles(build, files), deps); err != nil {
			level.Error(j.logger).Log("msg", "failed to record build", "package", build.Package, "err", err)
		}
	}
	return verdict
}

// Done discards the bookkeeping for a finished transfer set. The driver
// calls it once it has told the slave DONE.
func (j *Juggler) Done(slaveID string) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	delete(j.transfers, slaveID)
}

// Shutdown closes every transfer connection and discards the pending
// sets and their partial uploads. Installed, verified files stay put;
// unrecorded builds return to the pending queue on the next master.
func (j *Juggler) Shutdown() {
	j.mutex.Lock()
	conns := make([]io.Closer, 0, len(j.conns))
	for conn := range j.conns {
		conns = append(conns, conn)
	}
	j.conns = make(map[io.Closer]struct{})
	var ids []string
	for id := range j.transfers {
		ids = append(ids, id)
	}
	j.mutex.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	for _, id := range ids {
		j.Discard(id)
	}
}

func (j *Juggler) trackConn(conn io.Closer) {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.conns[conn] = struct{}{}
}

func (j *Juggler) untrackConn(conn io.Closer) {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	delete(j.conns, conn)
}

func (j *Juggler) expected(slaveID, filename string) (protocol.FileInfo, bool) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	set, ok := j.transfers[slaveID]
	if !ok {
		return protocol.FileInfo{}, false
	}
	for _, file := range set.files {
		if file.Filename == filename {
			return file, true
		}
	}
	return protocol.FileInfo{}, false
}

func (j *Juggler) simpleDir() string {
	return filepath.Join(j.output, "simple")
}

func (j *Juggler) packageDir(pkg string) string {
	return filepath.Join(j.simpleDir(), db.CanonicalName(pkg))
}

func (j *Juggler) tempDir() string {
	return filepath.Join(j.output, "tmp")
}

func (j *Juggler) tempPath(filename string) string {
	return filepath.Join(j.tempDir(), filename)
}

func dbFiles(build db.Build, files []protocol.FileInfo) []db.File {
	result := make([]db.File, len(files))
	for i, file := range files {
		result[i] = db.File{
			Filename:          file.Filename,
			Filesize:          file.Filesize,
			Filehash:          file.Filehash,
			PackageTag:        file.PackageTag,
			PackageVersionTag: file.PackageVersionTag,
			PyVersionTag:      file.PyVersionTag,
			ABITag:            file.ABITag,
			PlatformTag:       file.PlatformTag,
		}
	}
	return result
}

func dependencies(files []protocol.FileInfo) []db.Dependency {
	var deps []db.Dependency
	for _, file := range files {
		for _, dep := range file.Dependencies {
			deps = append(deps, db.Dependency{
				Filename:   file.Filename,
				Tool:       dep.Tool,
				Dependency: dep.Name,
			})
		}
	}
	return deps
}

type mismatch interface {
	Mismatch() bool
}

type errMismatch struct {
	err error
}

func (e errMismatch) Error() string {
	return e.err.Error()
}

func (e errMismatch) Mismatch() bool {
	return true
}

// ErrMismatch reports whether the error is a hash or size mismatch, as
// opposed to an I/O failure.
func ErrMismatch(err error) bool {
	if err != nil {
		if _, ok := errors.Cause(err).(mismatch); ok {
			return true
		}
	}
	return false
}
