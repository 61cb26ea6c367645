package slave_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/ioutil"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/fsys"
	"github.com/pdtopdog/piwheels/internal/protocol"
	"github.com/pdtopdog/piwheels/pkg/master/driver"
	"github.com/pdtopdog/piwheels/pkg/master/juggler"
	"github.com/pdtopdog/piwheels/pkg/master/registry"
	"github.com/pdtopdog/piwheels/pkg/slave"
)

type scriptedOracle struct {
	mutex   sync.Mutex
	pending []db.PendingBuild
}

func (f *scriptedOracle) GetPendingBuilds(ctx context.Context, abi string, limit int) ([]db.PendingBuild, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	pending := f.pending
	f.pending = nil
	return pending, nil
}

type capturingRecorder struct {
	mutex  sync.Mutex
	builds chan db.Build
	files  [][]db.File
}

func (r *capturingRecorder) RecordBuild(build db.Build, files []db.File, deps []db.Dependency) error {
	r.mutex.Lock()
	r.files = append(r.files, files)
	r.mutex.Unlock()
	r.builds <- build
	return nil
}

type fakeBuilder struct {
	dir     string
	content []byte
}

func (b *fakeBuilder) Build(ctx context.Context, pkg, version string) (slave.Result, error) {
	filename := pkg + "-" + version + "-cp39-cp39-linux_armv7l.whl"
	path := filepath.Join(b.dir, filename)
	if err := ioutil.WriteFile(path, b.content, 0644); err != nil {
		return slave.Result{}, err
	}
	digest := sha256.Sum256(b.content)
	return slave.Result{
		Status:   true,
		Duration: 7 * time.Second,
		Output:   "collected wheel",
		Files: []protocol.FileInfo{{
			Filename:          filename,
			Filesize:          int64(len(b.content)),
			Filehash:          hex.EncodeToString(digest[:]),
			PackageTag:        pkg,
			PackageVersionTag: version,
			PyVersionTag:      "cp39",
			ABITag:            "cp39",
			PlatformTag:       "linux_armv7l",
		}},
		Paths: map[string]string{filename: path},
	}, nil
}

// The full exchange against the real driver and juggler: HELLO, IDLE,
// BUILD, BUILT, upload, SENT, DONE.
func TestSlaveBuildsAndUploads(t *testing.T) {
	output := t.TempDir()
	recorder := &capturingRecorder{builds: make(chan db.Build, 1)}

	jug := juggler.New(fsys.NewLocalFileSystem(), output, recorder)
	require.NoError(t, jug.Setup())

	oracle := &scriptedOracle{pending: []db.PendingBuild{{Package: "foo", Version: "1.0"}}}
	reg := registry.New()
	drv := driver.New(reg, oracle, jug, recorder,
		driver.WithSleep(time.Millisecond, 2*time.Millisecond),
	)

	router := mux.NewRouter()
	router.Handle("/slaves", drv)
	router.Handle("/files", jug)
	server := httptest.NewServer(router)
	defer server.Close()

	content := []byte("definitely a wheel")
	builder := &fakeBuilder{dir: t.TempDir(), content: content}
	s := slave.New("ws"+strings.TrimPrefix(server.URL, "http"), slave.Info{
		Label:       "pi1",
		ABITag:      "cp39m",
		PlatformTag: "linux_armv7l",
		PyTag:       "cp39",
	}, builder)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case build := <-recorder.builds:
		require.Equal(t, "foo", build.Package)
		require.Equal(t, "1.0", build.Version)
		require.Equal(t, "cp39m", build.ABITag)
		require.Equal(t, "pi1", build.BuiltBy)
		require.True(t, build.Status)
	case <-ctx.Done():
		t.Fatalf("timed out waiting for the build to be recorded")
	}

	// The uploaded bytes match the built bytes.
	installed, err := ioutil.ReadFile(filepath.Join(output, "simple", "foo", "foo-1.0-cp39-cp39-linux_armv7l.whl"))
	require.NoError(t, err)
	require.Equal(t, content, installed)

	cancel()
	<-done
}
