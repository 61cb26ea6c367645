package status

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spoke-d/task"

	"github.com/pdtopdog/piwheels/internal/actors"
	"github.com/pdtopdog/piwheels/internal/clock"
	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/pkg/master/registry"
)

// Oracle is the read-side database surface the status feed polls. It
// is satisfied by the broker client.
type Oracle interface {
	GetStatistics(ctx context.Context) (db.Statistics, error)
}

// Status keeps the most recent statistics snapshot and multiplexes
// events to every attached monitor.
type Status struct {
	oracle   Oracle
	registry *registry.Registry
	group    *actors.Group
	interval time.Duration
	clock    clock.Clock
	logger   log.Logger

	mutex sync.Mutex
	last  *db.Statistics
}

// New creates a Status feed over the given oracle and registry.
func New(oracle Oracle, reg *registry.Registry, options ...Option) *Status {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Status{
		oracle:   oracle,
		registry: reg,
		group:    actors.NewGroup(),
		interval: opts.interval,
		clock:    opts.clock,
		logger:   opts.logger,
	}
}

// Snapshot returns the last statistics broadcast, or false when none
// has been taken yet.
func (s *Status) Snapshot() (db.Statistics, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.last == nil {
		return db.Statistics{}, false
	}
	return *s.last, true
}

// Monitors returns the number of attached monitor connections.
func (s *Status) Monitors() int {
	var count int
	s.group.Walk(func(actors.Actor) error {
		count++
		return nil
	})
	return count
}

// Slaves returns a copy of every live registration for synchronous
// monitor queries.
func (s *Status) Slaves() []registry.Slave {
	var slaves []registry.Slave
	s.registry.Walk(func(slave registry.Slave) {
		slaves = append(slaves, slave)
	})
	return slaves
}

// Dispatch broadcasts one event to every monitor subscribed to its
// type. Disconnected monitors are pruned as a side effect.
func (s *Status) Dispatch(eventType string, payload interface{}) {
	body, err := json.Marshal(map[string]interface{}{
		"type":      eventType,
		"timestamp": s.clock.UTC(),
		"payload":   payload,
	})
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to encode event", "type", eventType, "err", err)
		return
	}

	s.group.Prune()
	s.group.Walk(func(actor actors.Actor) error {
		if !contains(actor.Types(), eventType) {
			return nil
		}
		go func(actor actors.Actor) {
			if err := actor.Write(body); err != nil {
				actor.Close()
				level.Debug(s.logger).Log("msg", "disconnected monitor", "id", actor.ID())
			}
		}(actor)
		return nil
	})
}

// Run returns a task function that polls the statistics and broadcasts
// a delta when anything moved.
func (s *Status) Run() (task.Func, task.Schedule) {
	statusWrapper := func(ctx context.Context) {
		ch := make(chan struct{})
		go func() {
			s.tick(ctx)
			ch <- struct{}{}
		}()
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}

	schedule := task.Every(s.interval)
	return statusWrapper, schedule
}

func (s *Status) tick(ctx context.Context) {
	stats, err := s.oracle.GetStatistics(ctx)
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to fetch statistics", "err", err)
		return
	}

	s.mutex.Lock()
	unchanged := s.last != nil && *s.last == stats
	s.last = &stats
	s.mutex.Unlock()
	if unchanged {
		return
	}

	s.Dispatch("stats", map[string]interface{}{
		"packages":             stats.PackagesCount,
		"packages_built":       stats.PackagesBuilt,
		"versions":             stats.VersionsCount,
		"builds":               stats.BuildsCount,
		"builds_success":       stats.BuildsCountSuccess,
		"builds_last_hour":     stats.BuildsCountLastHour,
		"builds_time_seconds":  stats.BuildsTime.Seconds(),
		"files":                stats.FilesCount,
		"downloads":            stats.DownloadsCount,
		"slaves":               s.registry.Len(),
	})
}

func contains(a []string, b string) bool {
	for _, v := range a {
		if v == b {
			return true
		}
	}
	return false
}
