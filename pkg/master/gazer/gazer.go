package gazer

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spoke-d/task"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/pypi"
	"github.com/pdtopdog/piwheels/pkg/master/secretary"
)

// How many already-known projects have their releases re-checked per
// poll. New projects are always checked in full; the rest rotate
// through this window so one poll stays bounded.
const refreshWindow = 50

// Index is the upstream package index.
type Index interface {
	Projects(ctx context.Context) ([]string, int64, error)
	Releases(ctx context.Context, name string) ([]pypi.Release, error)
}

// Oracle is the read-side database surface the diff runs against. It
// is satisfied by the broker client.
type Oracle interface {
	GetAllPackages(ctx context.Context) ([]string, error)
	GetAllPackageVersions(ctx context.Context) ([]db.Version, error)
	GetPyPISerial(ctx context.Context) (int64, error)
	SetPyPISerial(ctx context.Context, serial int64) error
}

// Secretary buffers the registration events the gazer produces.
type Secretary interface {
	Send(ctx context.Context, event secretary.Event) error
}

// Gazer polls the upstream index, diffs it against the local package
// and version set, and registers anything new through the secretary.
// Upstream removals are not detected: a package or version that
// disappears upstream is neither deleted nor marked skipped here.
type Gazer struct {
	index     Index
	oracle    Oracle
	secretary Secretary
	interval  time.Duration
	logger    log.Logger

	cursor int
}

// New creates a Gazer over the given index.
func New(index Index, oracle Oracle, sec Secretary, options ...Option) *Gazer {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Gazer{
		index:     index,
		oracle:    oracle,
		secretary: sec,
		interval:  opts.interval,
		logger:    opts.logger,
	}
}

// Run returns a task function that polls the upstream index.
func (g *Gazer) Run() (task.Func, task.Schedule) {
	gazerWrapper := func(ctx context.Context) {
		ch := make(chan struct{})
		go func() {
			g.poll(ctx)
			ch <- struct{}{}
		}()
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}

	schedule := task.Every(g.interval, task.SkipFirst)
	return gazerWrapper, schedule
}

func (g *Gazer) poll(ctx context.Context) {
	serial, err := g.oracle.GetPyPISerial(ctx)
	if err != nil {
		level.Error(g.logger).Log("msg", "failed to read index serial", "err", err)
		return
	}

	projects, upstreamSerial, err := g.index.Projects(ctx)
	if err != nil {
		// Upstream hiccup: nothing changes, the next poll retries.
		level.Warn(g.logger).Log("msg", "failed to fetch upstream index", "err", err)
		return
	}
	if upstreamSerial == serial {
		level.Debug(g.logger).Log("msg", "upstream index unchanged", "serial", serial)
		return
	}

	known, err := g.knownPackages(ctx)
	if err != nil {
		level.Error(g.logger).Log("msg", "failed to read local packages", "err", err)
		return
	}
	versions, err := g.knownVersions(ctx)
	if err != nil {
		level.Error(g.logger).Log("msg", "failed to read local versions", "err", err)
		return
	}

	var fresh, existing []string
	for _, project := range projects {
		name := db.CanonicalName(project)
		if _, ok := known[name]; ok {
			existing = append(existing, name)
			continue
		}
		fresh = append(fresh, name)
	}

	for _, name := range fresh {
		if err := g.secretary.Send(ctx, secretary.NewPackageEvent{Name: name}); err != nil {
			level.Error(g.logger).Log("msg", "failed to enqueue package", "package", name, "err", err)
			return
		}
		if err := g.registerVersions(ctx, name, versions); err != nil {
			return
		}
	}

	// Rotate through the packages we already know so release lists
	// converge without re-reading the whole index every poll.
	window := refreshWindow
	if window > len(existing) {
		window = len(existing)
	}
	for i := 0; i < window; i++ {
		name := existing[(g.cursor+i)%len(existing)]
		if err := g.registerVersions(ctx, name, versions); err != nil {
			return
		}
	}
	g.cursor += window

	if err := g.oracle.SetPyPISerial(ctx, upstreamSerial); err != nil {
		level.Error(g.logger).Log("msg", "failed to advance index serial", "err", err)
		return
	}
	level.Info(g.logger).Log("msg", "completed index poll", "serial", upstreamSerial, "new_packages", len(fresh))
}

func (g *Gazer) registerVersions(ctx context.Context, name string, known map[string]struct{}) error {
	releases, err := g.index.Releases(ctx, name)
	if err != nil {
		level.Warn(g.logger).Log("msg", "failed to fetch releases", "package", name, "err", err)
		return nil // Skip the package this round; the next poll retries.
	}
	for _, release := range releases {
		key := name + "|" + release.Version
		if _, ok := known[key]; ok {
			continue
		}
		if err := g.secretary.Send(ctx, secretary.NewVersionEvent{
			Package:  name,
			Version:  release.Version,
			Released: release.Released,
		}); err != nil {
			level.Error(g.logger).Log("msg", "failed to enqueue version", "package", name, "version", release.Version, "err", err)
			return err
		}
		known[key] = struct{}{}
	}
	return nil
}

func (g *Gazer) knownPackages(ctx context.Context) (map[string]struct{}, error) {
	names, err := g.oracle.GetAllPackages(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		known[name] = struct{}{}
	}
	return known, nil
}

func (g *Gazer) knownVersions(ctx context.Context) (map[string]struct{}, error) {
	versions, err := g.oracle.GetAllPackageVersions(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(versions))
	for _, version := range versions {
		known[version.Package+"|"+version.Version] = struct{}{}
	}
	return known, nil
}
