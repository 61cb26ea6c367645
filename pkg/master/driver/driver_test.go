package driver_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/protocol"
	"github.com/pdtopdog/piwheels/pkg/master/driver"
	"github.com/pdtopdog/piwheels/pkg/master/registry"
)

type fakeOracle struct {
	mutex   sync.Mutex
	pending []db.PendingBuild
}

func (f *fakeOracle) GetPendingBuilds(ctx context.Context, abi string, limit int) ([]db.PendingBuild, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.pending, nil
}

type fakeJuggler struct {
	mutex     sync.Mutex
	expected  map[string][]protocol.FileInfo
	verdicts  map[string]protocol.VerdictStatus
	discarded []string
	done      []string
}

func newFakeJuggler() *fakeJuggler {
	return &fakeJuggler{
		expected: make(map[string][]protocol.FileInfo),
		verdicts: make(map[string]protocol.VerdictStatus),
	}
}

func (f *fakeJuggler) Expect(slaveID string, build db.Build, files []protocol.FileInfo) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.expected[slaveID] = files
}

func (f *fakeJuggler) NextFilename(slaveID string) (string, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, file := range f.expected[slaveID] {
		if f.verdicts[file.Filename] != protocol.VerdictOK {
			return file.Filename, true
		}
	}
	return "", false
}

func (f *fakeJuggler) Verdict(slaveID, filename string) (protocol.VerdictStatus, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	verdict, ok := f.verdicts[filename]
	return verdict, ok
}

func (f *fakeJuggler) Discard(slaveID string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.discarded = append(f.discarded, slaveID)
	delete(f.expected, slaveID)
}

func (f *fakeJuggler) Done(slaveID string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.done = append(f.done, slaveID)
	delete(f.expected, slaveID)
}

func (f *fakeJuggler) setVerdict(filename string, verdict protocol.VerdictStatus) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.verdicts[filename] = verdict
}

type fakeRecorder struct {
	mutex  sync.Mutex
	builds []db.Build
}

func (f *fakeRecorder) RecordBuild(build db.Build, files []db.File, deps []db.Dependency) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.builds = append(f.builds, build)
	return nil
}

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) UTC() time.Time {
	return c.Now().UTC()
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *fakeClock) advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	driver   *driver.Driver
	registry *registry.Registry
	oracle   *fakeOracle
	juggler  *fakeJuggler
	recorder *fakeRecorder
	clock    *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := &fakeClock{now: time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)}
	reg := registry.New(registry.WithClock(clk))
	oracle := &fakeOracle{}
	jug := newFakeJuggler()
	rec := &fakeRecorder{}

	return &harness{
		driver: driver.New(reg, oracle, jug, rec,
			driver.WithClock(clk),
			driver.WithSleep(10*time.Second, 10*time.Minute),
			driver.WithTimeouts(5*time.Minute, 30*time.Minute),
		),
		registry: reg,
		oracle:   oracle,
		juggler:  jug,
		recorder: rec,
		clock:    clk,
	}
}

func (h *harness) send(t *testing.T, slaveID string, tag protocol.Tag, payload interface{}) *protocol.Envelope {
	t.Helper()

	frame, err := protocol.EncodeFrom(slaveID, tag, payload)
	require.NoError(t, err)
	envelope, err := protocol.Decode(frame)
	require.NoError(t, err)

	response, err := h.driver.HandleEnvelope(context.Background(), envelope)
	require.NoError(t, err)
	return response
}

func (h *harness) hello(t *testing.T, label, abi string) string {
	t.Helper()

	response := h.send(t, "", protocol.MsgHello, protocol.Hello{
		Timestamp: h.clock.UTC(),
		Label:     label,
		ABITag:    abi,
	})
	require.Equal(t, protocol.MsgHello, response.Tag)

	var ack protocol.HelloACK
	require.NoError(t, response.Payload(&ack))
	require.NotEmpty(t, ack.SlaveID)
	return ack.SlaveID
}

func TestHelloThenIdleDispatchesBuild(t *testing.T) {
	h := newHarness(t)
	h.oracle.pending = []db.PendingBuild{{Package: "foo", Version: "1.0"}}

	id := h.hello(t, "pi1", "cp39m")

	response := h.send(t, id, protocol.MsgIdle, nil)
	require.Equal(t, protocol.MsgBuild, response.Tag)

	var build protocol.Build
	require.NoError(t, response.Payload(&build))
	require.Equal(t, "foo", build.Package)
	require.Equal(t, "1.0", build.Version)
	require.Equal(t, 1, h.driver.InFlight())

	slave, ok := h.registry.Get(id)
	require.True(t, ok)
	require.Equal(t, registry.StateBuilding, slave.State)
}

func TestIdleWithNothingPendingSleepsWithBackoff(t *testing.T) {
	h := newHarness(t)
	id := h.hello(t, "pi1", "cp39m")

	var last time.Duration
	for i := 0; i < 3; i++ {
		response := h.send(t, id, protocol.MsgIdle, nil)
		require.Equal(t, protocol.MsgSleep, response.Tag)

		var sleep protocol.Sleep
		require.NoError(t, response.Payload(&sleep))
		require.Greater(t, sleep.Duration, last)
		last = sleep.Duration
	}

	// The backoff never exceeds the cap.
	for i := 0; i < 10; i++ {
		response := h.send(t, id, protocol.MsgIdle, nil)
		var sleep protocol.Sleep
		require.NoError(t, response.Payload(&sleep))
		require.LessOrEqual(t, sleep.Duration, 10*time.Minute)
	}
}

func TestTwoSlavesGetDistinctBuilds(t *testing.T) {
	h := newHarness(t)
	h.oracle.pending = []db.PendingBuild{
		{Package: "foo", Version: "1.0"},
		{Package: "bar", Version: "2.0"},
	}

	first := h.hello(t, "pi1", "cp39m")
	second := h.hello(t, "pi2", "cp39m")

	var packages []string
	for _, id := range []string{first, second} {
		response := h.send(t, id, protocol.MsgIdle, nil)
		require.Equal(t, protocol.MsgBuild, response.Tag)
		var build protocol.Build
		require.NoError(t, response.Payload(&build))
		packages = append(packages, build.Package)
	}
	require.ElementsMatch(t, []string{"foo", "bar"}, packages)

	// A third slave finds everything claimed.
	third := h.hello(t, "pi3", "cp39m")
	response := h.send(t, third, protocol.MsgIdle, nil)
	require.Equal(t, protocol.MsgSleep, response.Tag)
}

func TestBuiltFailureIsRecordedAndRequeued(t *testing.T) {
	h := newHarness(t)
	h.oracle.pending = []db.PendingBuild{{Package: "foo", Version: "1.0"}}

	id := h.hello(t, "pi1", "cp39m")
	h.send(t, id, protocol.MsgIdle, nil)

	response := h.send(t, id, protocol.MsgBuilt, protocol.Built{
		Status:   false,
		Duration: 7 * time.Second,
		Output:   "gcc exploded",
	})
	require.Equal(t, protocol.MsgDone, response.Tag)

	h.recorder.mutex.Lock()
	require.Len(t, h.recorder.builds, 1)
	require.False(t, h.recorder.builds[0].Status)
	require.Equal(t, "pi1", h.recorder.builds[0].BuiltBy)
	h.recorder.mutex.Unlock()

	// The assignment is back in candidacy.
	require.Equal(t, 0, h.driver.InFlight())
	slave, _ := h.registry.Get(id)
	require.Equal(t, registry.StateIdle, slave.State)
}

func TestBuiltSuccessWithFilesStartsUpload(t *testing.T) {
	h := newHarness(t)
	h.oracle.pending = []db.PendingBuild{{Package: "foo", Version: "1.0"}}

	id := h.hello(t, "pi1", "cp39m")
	h.send(t, id, protocol.MsgIdle, nil)

	response := h.send(t, id, protocol.MsgBuilt, protocol.Built{
		Status:   true,
		Duration: 7 * time.Second,
		Output:   "ok",
		Files: []protocol.FileInfo{{
			Filename: "foo-1.0-cp39-cp39-linux_armv7l.whl",
			Filesize: 42,
			Filehash: "abcd",
		}},
	})
	require.Equal(t, protocol.MsgSend, response.Tag)

	var send protocol.Send
	require.NoError(t, response.Payload(&send))
	require.Equal(t, "foo-1.0-cp39-cp39-linux_armv7l.whl", send.Filename)

	slave, _ := h.registry.Get(id)
	require.Equal(t, registry.StateSending, slave.State)

	// The juggler verifies the upload out of band; SENT then finishes
	// the exchange.
	h.juggler.setVerdict(send.Filename, protocol.VerdictOK)
	response = h.send(t, id, protocol.MsgSent, nil)
	require.Equal(t, protocol.MsgDone, response.Tag)
	require.Equal(t, 0, h.driver.InFlight())

	slave, _ = h.registry.Get(id)
	require.Equal(t, registry.StateIdle, slave.State)
}

func TestSentRetriesMismatchedFile(t *testing.T) {
	h := newHarness(t)
	h.oracle.pending = []db.PendingBuild{{Package: "foo", Version: "1.0"}}

	id := h.hello(t, "pi1", "cp39m")
	h.send(t, id, protocol.MsgIdle, nil)
	h.send(t, id, protocol.MsgBuilt, protocol.Built{
		Status: true,
		Files: []protocol.FileInfo{{
			Filename: "foo-1.0-cp39-cp39-linux_armv7l.whl",
		}},
	})

	h.juggler.setVerdict("foo-1.0-cp39-cp39-linux_armv7l.whl", protocol.VerdictRetry)
	response := h.send(t, id, protocol.MsgSent, nil)
	require.Equal(t, protocol.MsgSend, response.Tag)

	// Out of retries: the build is abandoned and requeued.
	h.juggler.setVerdict("foo-1.0-cp39-cp39-linux_armv7l.whl", protocol.VerdictError)
	response = h.send(t, id, protocol.MsgSent, nil)
	require.Equal(t, protocol.MsgDone, response.Tag)
	require.Equal(t, 0, h.driver.InFlight())
	require.Contains(t, h.juggler.discarded, id)
}

func TestAbortDiscardsWithoutRecording(t *testing.T) {
	h := newHarness(t)
	h.oracle.pending = []db.PendingBuild{{Package: "foo", Version: "1.0"}}

	id := h.hello(t, "pi1", "cp39m")
	h.send(t, id, protocol.MsgIdle, nil)

	h.driver.Abort("foo", "1.0")

	response := h.send(t, id, protocol.MsgBuilt, protocol.Built{Status: true, Files: []protocol.FileInfo{{Filename: "x.whl"}}})
	require.Equal(t, protocol.MsgDone, response.Tag)

	h.recorder.mutex.Lock()
	require.Empty(t, h.recorder.builds)
	h.recorder.mutex.Unlock()
	require.Equal(t, 0, h.driver.InFlight())
}

func TestPausedDispatchSleeps(t *testing.T) {
	h := newHarness(t)
	h.oracle.pending = []db.PendingBuild{{Package: "foo", Version: "1.0"}}

	id := h.hello(t, "pi1", "cp39m")
	h.driver.Pause()

	response := h.send(t, id, protocol.MsgIdle, nil)
	require.Equal(t, protocol.MsgSleep, response.Tag)

	h.driver.Resume()
	response = h.send(t, id, protocol.MsgIdle, nil)
	require.Equal(t, protocol.MsgBuild, response.Tag)
}

func TestKilledSlaveGetsDie(t *testing.T) {
	h := newHarness(t)
	id := h.hello(t, "pi1", "cp39m")

	require.True(t, h.driver.Kill(id))

	response := h.send(t, id, protocol.MsgIdle, nil)
	require.Equal(t, protocol.MsgDie, response.Tag)

	_, ok := h.registry.Get(id)
	require.False(t, ok)
}

func TestUnknownSlaveIsViolation(t *testing.T) {
	h := newHarness(t)

	frame, err := protocol.EncodeFrom("nope", protocol.MsgIdle, nil)
	require.NoError(t, err)
	envelope, err := protocol.Decode(frame)
	require.NoError(t, err)

	_, err = h.driver.HandleEnvelope(context.Background(), envelope)
	require.Error(t, err)
}

func TestReplayedHelloIdleDoesNotChangeState(t *testing.T) {
	h := newHarness(t)

	// No pending builds: the sequence only touches in-memory state.
	id := h.hello(t, "pi1", "cp39m")
	h.send(t, id, protocol.MsgIdle, nil)

	id2 := h.hello(t, "pi1", "cp39m")
	h.send(t, id2, protocol.MsgIdle, nil)

	h.recorder.mutex.Lock()
	require.Empty(t, h.recorder.builds)
	h.recorder.mutex.Unlock()
	require.Equal(t, 0, h.driver.InFlight())
}

func TestReaperRequeuesSilentBuilder(t *testing.T) {
	h := newHarness(t)
	h.oracle.pending = []db.PendingBuild{{Package: "foo", Version: "1.0"}}

	id := h.hello(t, "pi1", "cp39m")
	h.send(t, id, protocol.MsgIdle, nil)
	require.Equal(t, 1, h.driver.InFlight())

	// Silent past the busy timeout.
	h.clock.advance(6 * time.Minute)
	driver.Reap(h.driver)

	require.Equal(t, 0, h.driver.InFlight())
	require.Contains(t, h.juggler.discarded, id)
	_, ok := h.registry.Get(id)
	require.False(t, ok)

	// Another slave picks the requeued build up.
	other := h.hello(t, "pi2", "cp39m")
	response := h.send(t, other, protocol.MsgIdle, nil)
	require.Equal(t, protocol.MsgBuild, response.Tag)
}

func TestShutdownAbortsBuildersThenDies(t *testing.T) {
	h := newHarness(t)
	h.oracle.pending = []db.PendingBuild{{Package: "foo", Version: "1.0"}}

	id := h.hello(t, "pi1", "cp39m")
	h.send(t, id, protocol.MsgIdle, nil)
	require.Equal(t, 1, h.driver.InFlight())

	h.driver.Shutdown()
	require.Equal(t, 0, h.driver.InFlight())

	// The builder's report is answered with DONE and nothing is
	// recorded; its next message gets DIE.
	response := h.send(t, id, protocol.MsgBuilt, protocol.Built{
		Status: true,
		Files:  []protocol.FileInfo{{Filename: "foo-1.0.whl"}},
	})
	require.Equal(t, protocol.MsgDone, response.Tag)
	h.recorder.mutex.Lock()
	require.Empty(t, h.recorder.builds)
	h.recorder.mutex.Unlock()

	response = h.send(t, id, protocol.MsgIdle, nil)
	require.Equal(t, protocol.MsgDie, response.Tag)
}

func TestByeRetiresSlave(t *testing.T) {
	h := newHarness(t)
	h.oracle.pending = []db.PendingBuild{{Package: "foo", Version: "1.0"}}

	id := h.hello(t, "pi1", "cp39m")
	h.send(t, id, protocol.MsgIdle, nil)

	response := h.send(t, id, protocol.MsgBye, nil)
	require.Nil(t, response)
	require.Equal(t, 0, h.driver.InFlight())

	_, ok := h.registry.Get(id)
	require.False(t, ok)
}
