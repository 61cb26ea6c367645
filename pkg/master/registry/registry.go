package registry

import (
	"sync"
	"time"

	"github.com/pborman/uuid"

	"github.com/pdtopdog/piwheels/internal/clock"
	"github.com/pdtopdog/piwheels/internal/protocol"
)

// State is the position of a slave in its lifecycle.
type State string

const (
	// StateIdle means the slave is connected with no assignment.
	StateIdle State = "idle"
	// StateBuilding means the slave is working on an assignment.
	StateBuilding State = "building"
	// StateSending means the slave is uploading build artifacts.
	StateSending State = "sending"
	// StateTerminated means the slave has been retired; its id is no
	// longer valid.
	StateTerminated State = "terminated"
)

// Assignment is the build a slave is currently working on.
type Assignment struct {
	Package   string
	Version   string
	ABITag    string
	StartedAt time.Time

	// Aborted marks the assignment as deprecated mid-build; the slave
	// is told to discard it on its next message.
	Aborted bool
}

// Slave is the ephemeral registration of one connected builder. Nothing
// here is persisted; the fleet re-registers as it reconnects.
type Slave struct {
	ID            string
	Label         string
	ABITag        string
	PlatformTag   string
	PyTag         string
	OSName        string
	OSVersion     string
	BoardRevision string
	BoardSerial   string
	FirstSeen     time.Time
	LastSeen      time.Time
	State         State
	Assignment    *Assignment

	// Sleep is the duration the slave was last told to sleep; it grows
	// with consecutive empty dispatches and resets on assignment.
	Sleep time.Duration

	// Killed marks the slave for termination on its next message.
	Killed bool
}

// Registry tracks every registered slave. All access is serialized
// internally; the driver and the status feed read it concurrently.
type Registry struct {
	mutex  sync.Mutex
	slaves map[string]*Slave
	clock  clock.Clock
}

// New creates an empty Registry.
func New(options ...Option) *Registry {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Registry{
		slaves: make(map[string]*Slave),
		clock:  opts.clock,
	}
}

// Register creates a registration from a hello message and returns the
// assigned slave id.
func (r *Registry) Register(hello protocol.Hello) *Slave {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.clock.UTC()
	slave := &Slave{
		ID:            uuid.NewRandom().String(),
		Label:         hello.Label,
		ABITag:        hello.ABITag,
		PlatformTag:   hello.PlatformTag,
		PyTag:         hello.PyTag,
		OSName:        hello.OSName,
		OSVersion:     hello.OSVersion,
		BoardRevision: hello.BoardRevision,
		BoardSerial:   hello.BoardSerial,
		FirstSeen:     now,
		LastSeen:      now,
		State:         StateIdle,
	}
	r.slaves[slave.ID] = slave
	copied := *slave
	return &copied
}

// Get returns a copy of the registration, or false when the id is
// unknown.
func (r *Registry) Get(id string) (Slave, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	slave, ok := r.slaves[id]
	if !ok {
		return Slave{}, false
	}
	return *slave, true
}

// Refresh updates last-seen on every message from the slave.
func (r *Registry) Refresh(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	slave, ok := r.slaves[id]
	if !ok {
		return false
	}
	slave.LastSeen = r.clock.UTC()
	return true
}

// Update applies fn to the registration under the registry lock.
func (r *Registry) Update(id string, fn func(*Slave)) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	slave, ok := r.slaves[id]
	if !ok {
		return false
	}
	fn(slave)
	return true
}

// Remove retires a registration.
func (r *Registry) Remove(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.slaves, id)
}

// Walk calls fn with a copy of every registration.
func (r *Registry) Walk(fn func(Slave)) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, slave := range r.slaves {
		fn(*slave)
	}
}

// Abort tags every in-flight assignment of the given (package, version)
// so it is discarded without recording on the slave's next message. It
// returns the ids of the slaves affected.
func (r *Registry) Abort(pkg, version string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var ids []string
	for _, slave := range r.slaves {
		if slave.Assignment == nil {
			continue
		}
		if slave.Assignment.Package != pkg {
			continue
		}
		if version != "" && slave.Assignment.Version != version {
			continue
		}
		slave.Assignment.Aborted = true
		ids = append(ids, slave.ID)
	}
	return ids
}

// Expired removes every registration silent past its timeout: busy for
// slaves with an assignment, idle otherwise. Copies of the removed
// registrations are returned so the driver can requeue their work.
func (r *Registry) Expired(busy, idle time.Duration) []Slave {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.clock.UTC()
	var expired []Slave
	for id, slave := range r.slaves {
		timeout := idle
		if slave.State == StateBuilding || slave.State == StateSending {
			timeout = busy
		}
		if now.Sub(slave.LastSeen) > timeout {
			expired = append(expired, *slave)
			delete(r.slaves, id)
		}
	}
	return expired
}

// Len returns the number of registered slaves.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.slaves)
}
