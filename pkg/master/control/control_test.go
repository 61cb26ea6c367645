package control_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/pkg/master/control"
	"github.com/pdtopdog/piwheels/pkg/master/registry"
)

type fakeOracle struct {
	packages []string
	versions []string
	skips    map[string]string
	builds   map[int64][]string
	killed   []int64
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		skips:  make(map[string]string),
		builds: make(map[int64][]string),
	}
}

func (f *fakeOracle) AddNewPackage(ctx context.Context, name string) (bool, error) {
	f.packages = append(f.packages, name)
	return true, nil
}

func (f *fakeOracle) AddNewPackageVersion(ctx context.Context, name, version string, released time.Time) (bool, error) {
	f.versions = append(f.versions, name+"-"+version)
	return true, nil
}

func (f *fakeOracle) SkipPackage(ctx context.Context, name, reason string) error {
	f.skips[name] = reason
	return nil
}

func (f *fakeOracle) SkipPackageVersion(ctx context.Context, name, version, reason string) error {
	f.skips[name+"-"+version] = reason
	return nil
}

func (f *fakeOracle) GetBuild(ctx context.Context, buildID int64) (db.Build, []db.File, error) {
	if _, ok := f.builds[buildID]; !ok {
		return db.Build{}, nil, errors.Errorf("build %d not found", buildID)
	}
	return db.Build{BuildID: buildID, Package: "foo", Version: "1.0", Status: true}, nil, nil
}

func (f *fakeOracle) DeleteBuild(ctx context.Context, buildID int64) ([]string, error) {
	filenames, ok := f.builds[buildID]
	if !ok {
		return nil, errors.Errorf("build %d not found", buildID)
	}
	delete(f.builds, buildID)
	f.killed = append(f.killed, buildID)
	return filenames, nil
}

func (f *fakeOracle) GetVersionBuilds(ctx context.Context, name, version string) ([]int64, error) {
	var ids []int64
	for id := range f.builds {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeOracle) GetStatistics(ctx context.Context) (db.Statistics, error) {
	return db.Statistics{PackagesCount: len(f.packages)}, nil
}

type fakeDriver struct {
	paused  bool
	killed  []string
	aborted []string
}

func (f *fakeDriver) Pause()       { f.paused = true }
func (f *fakeDriver) Resume()      { f.paused = false }
func (f *fakeDriver) Paused() bool { return f.paused }

func (f *fakeDriver) Kill(slaveID string) bool {
	f.killed = append(f.killed, slaveID)
	return slaveID != "missing"
}

func (f *fakeDriver) Abort(pkg, version string) {
	f.aborted = append(f.aborted, pkg+"|"+version)
}

type fakeJuggler struct {
	removed map[string][]string
}

func (f *fakeJuggler) RemoveFiles(pkg string, filenames []string) {
	if f.removed == nil {
		f.removed = make(map[string][]string)
	}
	f.removed[pkg] = append(f.removed[pkg], filenames...)
}

type fakeIndexer struct {
	logged  []string
	deleted []string
}

func (f *fakeIndexer) BuildLogged(pkg string)  { f.logged = append(f.logged, pkg) }
func (f *fakeIndexer) BuildDeleted(pkg string) { f.deleted = append(f.deleted, pkg) }

type fakeSlaves struct {
	slaves []registry.Slave
}

func (f *fakeSlaves) Slaves() []registry.Slave { return f.slaves }

type harness struct {
	control *control.Control
	oracle  *fakeOracle
	driver  *fakeDriver
	juggler *fakeJuggler
	indexer *fakeIndexer
	server  *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	oracle := newFakeOracle()
	driver := &fakeDriver{}
	jug := &fakeJuggler{}
	idx := &fakeIndexer{}
	c := control.New(oracle, driver, jug, idx, &fakeSlaves{})

	server := httptest.NewServer(c.Router())
	t.Cleanup(server.Close)

	return &harness{
		control: c,
		oracle:  oracle,
		driver:  driver,
		juggler: jug,
		indexer: idx,
		server:  server,
	}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)

	response := h.do(t, http.MethodPost, "/pause", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.True(t, h.driver.paused)

	response = h.do(t, http.MethodPost, "/resume", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.False(t, h.driver.paused)
}

func TestAddPackageAndVersion(t *testing.T) {
	h := newHarness(t)

	response := h.do(t, http.MethodPost, "/packages", map[string]string{"name": "foo"})
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, []string{"foo"}, h.oracle.packages)

	response = h.do(t, http.MethodPost, "/packages/foo/versions", map[string]string{"version": "1.0"})
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, []string{"foo-1.0"}, h.oracle.versions)
}

func TestAddPackageRequiresName(t *testing.T) {
	h := newHarness(t)

	response := h.do(t, http.MethodPost, "/packages", map[string]string{})
	require.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestSkipVersionAbortsInFlight(t *testing.T) {
	h := newHarness(t)

	response := h.do(t, http.MethodPost, "/packages/foo/versions/1.0/skip", map[string]string{"reason": "bad-build"})
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, "bad-build", h.oracle.skips["foo-1.0"])
	require.Equal(t, []string{"foo|1.0"}, h.driver.aborted)
}

func TestUnskipDoesNotAbort(t *testing.T) {
	h := newHarness(t)

	response := h.do(t, http.MethodPost, "/packages/foo/skip", map[string]string{"reason": ""})
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Empty(t, h.driver.aborted)
}

func TestKillSlave(t *testing.T) {
	h := newHarness(t)

	response := h.do(t, http.MethodPost, "/slaves/abc/kill", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, []string{"abc"}, h.driver.killed)

	response = h.do(t, http.MethodPost, "/slaves/missing/kill", nil)
	require.Equal(t, http.StatusNotFound, response.StatusCode)
}

func TestDeleteBuildRemovesFilesAndRewrites(t *testing.T) {
	h := newHarness(t)
	h.oracle.builds[7] = []string{"foo-1.0-cp39-cp39-linux_armv7l.whl"}

	response := h.do(t, http.MethodDelete, "/builds/7", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, []string{"foo-1.0-cp39-cp39-linux_armv7l.whl"}, h.juggler.removed["foo"])
	require.Equal(t, []string{"foo"}, h.indexer.deleted)
}

func TestDeleteBuildNotFound(t *testing.T) {
	h := newHarness(t)

	response := h.do(t, http.MethodDelete, "/builds/99", nil)
	require.Equal(t, http.StatusNotFound, response.StatusCode)
}

func TestRebuildRemovesEveryBuildOfVersion(t *testing.T) {
	h := newHarness(t)
	h.oracle.builds[1] = []string{"a.whl"}
	h.oracle.builds[2] = []string{"b.whl"}

	response := h.do(t, http.MethodPost, "/packages/foo/versions/1.0/rebuild", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Len(t, h.oracle.killed, 2)
	require.Equal(t, []string{"foo"}, h.indexer.deleted)
}
