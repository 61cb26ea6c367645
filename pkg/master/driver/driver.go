package driver

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/spoke-d/task"

	"github.com/pdtopdog/piwheels/internal/clock"
	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/protocol"
	"github.com/pdtopdog/piwheels/pkg/master/registry"
)

// How many pending candidates one dispatch considers. Most are
// filtered out only when another slave already has them in flight.
const candidateLimit = 32

// Oracle is the read-side database surface dispatch needs. It is
// satisfied by the broker client.
type Oracle interface {
	GetPendingBuilds(ctx context.Context, abi string, limit int) ([]db.PendingBuild, error)
}

// Juggler is the transfer bookkeeping the driver coordinates with.
type Juggler interface {

	// Expect registers the artifacts a slave is about to upload.
	Expect(slaveID string, build db.Build, files []protocol.FileInfo)

	// NextFilename returns the first file not verified yet.
	NextFilename(slaveID string) (string, bool)

	// Verdict returns the outcome of the named upload.
	Verdict(slaveID, filename string) (protocol.VerdictStatus, bool)

	// Discard drops the slave's transfer state and partial uploads.
	Discard(slaveID string)

	// Done drops the bookkeeping for a completed transfer set.
	Done(slaveID string)
}

// Recorder persists build attempts that carry no artifacts: failures
// and successful builds that produced no files.
type Recorder interface {
	RecordBuild(build db.Build, files []db.File, deps []db.Dependency) error
}

// Events receives slave lifecycle notifications for the status feed.
type Events interface {
	Dispatch(eventType string, payload interface{})
}

// Driver owns the slave lifecycles: registration, dispatch, artifact
// hand-off, heartbeat timeouts and aborts. For a given slave the
// protocol is strictly request/response; across slaves dispatch is
// independent.
type Driver struct {
	registry *registry.Registry
	oracle   Oracle
	juggler  Juggler
	recorder Recorder
	events   Events
	clock    clock.Clock
	logger   log.Logger

	sleepMin    time.Duration
	sleepMax    time.Duration
	busyTimeout time.Duration
	idleTimeout time.Duration
	sweep       time.Duration

	mutex    sync.Mutex
	paused   bool
	inflight map[string]struct{}
	conns    map[io.Closer]struct{}
}

// New creates a Driver over the given collaborators.
func New(reg *registry.Registry, oracle Oracle, juggler Juggler, recorder Recorder, options ...Option) *Driver {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Driver{
		registry:    reg,
		oracle:      oracle,
		juggler:     juggler,
		recorder:    recorder,
		events:      opts.events,
		clock:       opts.clock,
		logger:      opts.logger,
		sleepMin:    opts.sleepMin,
		sleepMax:    opts.sleepMax,
		busyTimeout: opts.busyTimeout,
		idleTimeout: opts.idleTimeout,
		sweep:       opts.sweep,
		inflight:    make(map[string]struct{}),
		conns:       make(map[io.Closer]struct{}),
	}
}

// HandleEnvelope advances one slave's state machine by one message and
// returns the reply, or nil when the message takes none (BYE). An
// error is a protocol violation: the caller disconnects the slave and
// the driver has already requeued its work.
func (d *Driver) HandleEnvelope(ctx context.Context, envelope protocol.Envelope) (*protocol.Envelope, error) {
	if envelope.Tag == protocol.MsgHello {
		return d.handleHello(envelope)
	}

	slave, ok := d.registry.Get(envelope.Slave)
	if !ok {
		return nil, errors.Errorf("message %q from unknown slave %q", envelope.Tag, envelope.Slave)
	}
	d.registry.Refresh(slave.ID)

	if envelope.Tag == protocol.MsgBye {
		d.retire(slave)
		level.Info(d.logger).Log("msg", "slave said goodbye", "slave", slave.ID, "label", slave.Label)
		return nil, nil
	}

	if slave.Killed {
		// A slave reporting on an in-flight exchange is answered first
		// (an aborted assignment gets DONE without recording); DIE
		// follows on its next message.
		mid := envelope.Tag == protocol.MsgBuilt || envelope.Tag == protocol.MsgSent
		if !mid || slave.Assignment == nil {
			d.retire(slave)
			return reply(protocol.MsgDie, nil)
		}
	}

	switch envelope.Tag {
	case protocol.MsgIdle:
		return d.handleIdle(ctx, slave)
	case protocol.MsgBuilt:
		return d.handleBuilt(slave, envelope)
	case protocol.MsgSent:
		return d.handleSent(slave)
	default:
		d.violation(slave)
		return nil, errors.Errorf("unexpected message %q from slave %q", envelope.Tag, slave.ID)
	}
}

func (d *Driver) handleHello(envelope protocol.Envelope) (*protocol.Envelope, error) {
	var hello protocol.Hello
	if err := envelope.Payload(&hello); err != nil {
		return nil, errors.WithStack(err)
	}
	if hello.ABITag == "" {
		return nil, errors.New("hello without an abi tag")
	}

	slave := d.registry.Register(hello)
	level.Info(d.logger).Log("msg", "slave registered", "slave", slave.ID, "label", slave.Label, "abi", slave.ABITag)
	d.dispatchEvent("slave", map[string]interface{}{
		"slave": slave.ID,
		"label": slave.Label,
		"state": string(slave.State),
	})

	return reply(protocol.MsgHello, protocol.HelloACK{
		SlaveID:   slave.ID,
		Timestamp: d.clock.UTC(),
	})
}

func (d *Driver) handleIdle(ctx context.Context, slave registry.Slave) (*protocol.Envelope, error) {
	if slave.State != registry.StateIdle {
		d.violation(slave)
		return nil, errors.Errorf("idle message from %q slave %q", slave.State, slave.ID)
	}

	if d.Paused() {
		return d.sleep(slave)
	}

	pending, err := d.oracle.GetPendingBuilds(ctx, slave.ABITag, candidateLimit)
	if err != nil {
		level.Error(d.logger).Log("msg", "failed to fetch pending builds", "err", err)
		return d.sleep(slave)
	}

	for _, candidate := range pending {
		if !d.claim(candidate.Package, candidate.Version, slave.ABITag) {
			continue
		}

		d.registry.Update(slave.ID, func(s *registry.Slave) {
			s.State = registry.StateBuilding
			s.Sleep = 0
			s.Assignment = &registry.Assignment{
				Package:   candidate.Package,
				Version:   candidate.Version,
				ABITag:    slave.ABITag,
				StartedAt: d.clock.UTC(),
			}
		})
		level.Info(d.logger).Log("msg", "dispatched build", "slave", slave.ID, "package", candidate.Package, "version", candidate.Version)
		d.dispatchEvent("build", map[string]interface{}{
			"slave":   slave.ID,
			"package": candidate.Package,
			"version": candidate.Version,
			"state":   "dispatched",
		})
		return reply(protocol.MsgBuild, protocol.Build{
			Package: candidate.Package,
			Version: candidate.Version,
		})
	}

	return d.sleep(slave)
}

func (d *Driver) handleBuilt(slave registry.Slave, envelope protocol.Envelope) (*protocol.Envelope, error) {
	if slave.State != registry.StateBuilding || slave.Assignment == nil {
		d.violation(slave)
		return nil, errors.Errorf("built message from %q slave %q", slave.State, slave.ID)
	}

	var built protocol.Built
	if err := envelope.Payload(&built); err != nil {
		d.violation(slave)
		return nil, errors.WithStack(err)
	}

	assignment := *slave.Assignment
	if assignment.Aborted {
		// The version was deprecated mid-build: discard without
		// recording; the slave goes back to idle.
		d.release(assignment)
		d.juggler.Discard(slave.ID)
		d.toIdle(slave.ID)
		level.Info(d.logger).Log("msg", "discarded aborted build", "slave", slave.ID, "package", assignment.Package, "version", assignment.Version)
		return reply(protocol.MsgDone, nil)
	}

	build := db.Build{
		Package:  assignment.Package,
		Version:  assignment.Version,
		ABITag:   assignment.ABITag,
		BuiltBy:  slave.Label,
		Duration: built.Duration,
		Status:   built.Status,
		BuiltAt:  d.clock.UTC(),
		Output:   built.Output,
	}

	if !built.Status || len(built.Files) == 0 {
		// Nothing to upload: record the attempt now. A failure leaves
		// the version pending for the next slave.
		if err := d.recorder.RecordBuild(build, nil, nil); err != nil {
			level.Error(d.logger).Log("msg", "failed to hand build to the secretary", "err", err)
		}
		d.release(assignment)
		d.toIdle(slave.ID)
		d.dispatchEvent("build", map[string]interface{}{
			"slave":   slave.ID,
			"package": assignment.Package,
			"version": assignment.Version,
			"state":   fmt.Sprintf("finished status=%t", built.Status),
		})
		return reply(protocol.MsgDone, nil)
	}

	// Artifacts to collect: the juggler verifies and installs them, and
	// records the build once the last one is in.
	d.juggler.Expect(slave.ID, build, built.Files)
	d.registry.Update(slave.ID, func(s *registry.Slave) {
		s.State = registry.StateSending
	})
	return reply(protocol.MsgSend, protocol.Send{Filename: built.Files[0].Filename})
}

func (d *Driver) handleSent(slave registry.Slave) (*protocol.Envelope, error) {
	if slave.State != registry.StateSending || slave.Assignment == nil {
		d.violation(slave)
		return nil, errors.Errorf("sent message from %q slave %q", slave.State, slave.ID)
	}

	assignment := *slave.Assignment
	if assignment.Aborted {
		d.release(assignment)
		d.juggler.Discard(slave.ID)
		d.toIdle(slave.ID)
		return reply(protocol.MsgDone, nil)
	}

	next, ok := d.juggler.NextFilename(slave.ID)
	if !ok {
		// Every file verified and installed; the juggler has handed the
		// build to the secretary.
		d.juggler.Done(slave.ID)
		d.release(assignment)
		d.toIdle(slave.ID)
		d.dispatchEvent("build", map[string]interface{}{
			"slave":   slave.ID,
			"package": assignment.Package,
			"version": assignment.Version,
			"state":   "uploaded",
		})
		return reply(protocol.MsgDone, nil)
	}

	if verdict, reached := d.juggler.Verdict(slave.ID, next); reached && verdict == protocol.VerdictError {
		// Out of retries: abandon the whole build. Nothing was
		// recorded, so the version stays pending.
		level.Warn(d.logger).Log("msg", "transfer failed, requeueing build", "slave", slave.ID, "package", assignment.Package, "filename", next)
		d.juggler.Discard(slave.ID)
		d.release(assignment)
		d.toIdle(slave.ID)
		return reply(protocol.MsgDone, nil)
	}

	return reply(protocol.MsgSend, protocol.Send{Filename: next})
}

// sleep tells an idle slave to come back later, growing the delay on
// every consecutive empty dispatch up to the cap.
func (d *Driver) sleep(slave registry.Slave) (*protocol.Envelope, error) {
	duration := slave.Sleep * 2
	if duration < d.sleepMin {
		duration = d.sleepMin
	}
	if duration > d.sleepMax {
		duration = d.sleepMax
	}
	d.registry.Update(slave.ID, func(s *registry.Slave) {
		s.Sleep = duration
	})
	return reply(protocol.MsgSleep, protocol.Sleep{Duration: duration})
}

// claim marks a build as in flight, excluding it from dispatch to
// other slaves. It reports false when another slave already has it.
func (d *Driver) claim(pkg, version, abi string) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	key := inflightKey(pkg, version, abi)
	if _, ok := d.inflight[key]; ok {
		return false
	}
	d.inflight[key] = struct{}{}
	return true
}

// release returns an assignment to the pending set.
func (d *Driver) release(assignment registry.Assignment) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	delete(d.inflight, inflightKey(assignment.Package, assignment.Version, assignment.ABITag))
}

// InFlight returns the number of builds currently assigned.
func (d *Driver) InFlight() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return len(d.inflight)
}

func (d *Driver) toIdle(slaveID string) {
	d.registry.Update(slaveID, func(s *registry.Slave) {
		s.State = registry.StateIdle
		s.Assignment = nil
	})
}

// retire removes a slave, requeueing whatever it was working on.
func (d *Driver) retire(slave registry.Slave) {
	if slave.Assignment != nil {
		d.release(*slave.Assignment)
	}
	d.juggler.Discard(slave.ID)
	d.registry.Remove(slave.ID)
}

// violation disconnects a misbehaving slave and requeues its build.
func (d *Driver) violation(slave registry.Slave) {
	level.Warn(d.logger).Log("msg", "protocol violation, retiring slave", "slave", slave.ID, "label", slave.Label)
	d.retire(slave)
}

// Pause stops handing out builds; idle slaves are put to sleep.
func (d *Driver) Pause() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.paused = true
}

// Resume restores dispatch.
func (d *Driver) Resume() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.paused = false
}

// Paused reports whether dispatch is paused.
func (d *Driver) Paused() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.paused
}

// Kill marks a slave for termination on its next message, or on the one
// after when it is in the middle of reporting a build.
func (d *Driver) Kill(slaveID string) bool {
	return d.registry.Update(slaveID, func(s *registry.Slave) {
		s.Killed = true
	})
}

// Abort tags every in-flight build of the given package (and version,
// when non-empty) so it is discarded without recording.
func (d *Driver) Abort(pkg, version string) {
	ids := d.registry.Abort(pkg, version)
	for _, id := range ids {
		level.Info(d.logger).Log("msg", "aborted in-flight build", "slave", id, "package", pkg, "version", version)
	}
}

// Shutdown tells the fleet the master is going away: every slave is
// marked for termination and its assignment aborted, so one still
// mid-message gets DONE without recording, and every open connection
// is closed so blocked readers unwind. Builds in flight return to the
// pending set for the next master.
func (d *Driver) Shutdown() {
	var ids []string
	d.registry.Walk(func(slave registry.Slave) {
		ids = append(ids, slave.ID)
	})
	for _, id := range ids {
		d.registry.Update(id, func(s *registry.Slave) {
			s.Killed = true
			if s.Assignment != nil {
				s.Assignment.Aborted = true
			}
		})
	}

	d.mutex.Lock()
	conns := make([]io.Closer, 0, len(d.conns))
	for conn := range d.conns {
		conns = append(conns, conn)
	}
	d.conns = make(map[io.Closer]struct{})
	d.inflight = make(map[string]struct{})
	d.mutex.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	level.Info(d.logger).Log("msg", "disconnected slave fleet", "slaves", len(ids))
}

func (d *Driver) trackConn(conn io.Closer) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.conns[conn] = struct{}{}
}

func (d *Driver) untrackConn(conn io.Closer) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.conns, conn)
}

// Run returns a task function that sweeps for slaves silent past their
// timeout: busy builders hand their assignment back to the pending
// set, idle slaves are simply dropped.
func (d *Driver) Run() (task.Func, task.Schedule) {
	reaperWrapper := func(ctx context.Context) {
		ch := make(chan struct{})
		go func() {
			d.reap()
			ch <- struct{}{}
		}()
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}

	schedule := task.Every(d.sweep)
	return reaperWrapper, schedule
}

func (d *Driver) reap() {
	expired := d.registry.Expired(d.busyTimeout, d.idleTimeout)
	for _, slave := range expired {
		if slave.Assignment != nil {
			d.release(*slave.Assignment)
			level.Warn(d.logger).Log("msg", "slave went silent mid-build, requeueing",
				"slave", slave.ID, "label", slave.Label,
				"package", slave.Assignment.Package, "version", slave.Assignment.Version)
		} else {
			level.Info(d.logger).Log("msg", "dropped idle slave", "slave", slave.ID, "label", slave.Label)
		}
		d.juggler.Discard(slave.ID)
		d.dispatchEvent("slave", map[string]interface{}{
			"slave": slave.ID,
			"label": slave.Label,
			"state": string(registry.StateTerminated),
		})
	}
}

func (d *Driver) dispatchEvent(eventType string, payload interface{}) {
	if d.events != nil {
		d.events.Dispatch(eventType, payload)
	}
}

func inflightKey(pkg, version, abi string) string {
	return pkg + "|" + version + "|" + abi
}

func reply(tag protocol.Tag, payload interface{}) (*protocol.Envelope, error) {
	frame, err := protocol.Encode(tag, payload)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	envelope, err := protocol.Decode(frame)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &envelope, nil
}
