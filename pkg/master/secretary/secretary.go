package secretary

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db"
)

// Oracle is the write-side database surface the secretary drives. It is
// satisfied by the broker client.
type Oracle interface {
	AddNewPackage(ctx context.Context, name string) (bool, error)
	AddNewPackageVersion(ctx context.Context, name, version string, released time.Time) (bool, error)
	LogBuild(ctx context.Context, build db.Build, files []db.File, deps []db.Dependency) (int64, error)
	LogDownload(ctx context.Context, download db.Download) error
}

// Indexer is notified after a mutation lands so the affected pages get
// rewritten. Notifications are fire-and-forget.
type Indexer interface {
	BuildLogged(pkg string)
}

// Event is one buffered write request.
type Event interface {
	isEvent()
}

// NewPackageEvent registers a package.
type NewPackageEvent struct {
	Name string
}

// NewVersionEvent registers a version.
type NewVersionEvent struct {
	Package  string
	Version  string
	Released time.Time
}

// BuildEvent records a build attempt with its verified files.
type BuildEvent struct {
	Build        db.Build
	Files        []db.File
	Dependencies []db.Dependency
}

// DownloadEvent appends a download record.
type DownloadEvent struct {
	Download db.Download
}

func (NewPackageEvent) isEvent() {}
func (NewVersionEvent) isEvent() {}
func (BuildEvent) isEvent()      {}
func (DownloadEvent) isEvent()   {}

// Secretary buffers the ephemeral write needs of the other actors and
// batches them through the database broker. Its queue is bounded;
// producers block under backpressure rather than dropping events.
type Secretary struct {
	oracle  Oracle
	indexer Indexer
	queue   chan Event
	logger  log.Logger
}

// New creates a Secretary over the given oracle.
func New(oracle Oracle, indexer Indexer, options ...Option) *Secretary {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Secretary{
		oracle:  oracle,
		indexer: indexer,
		queue:   make(chan Event, opts.queueSize),
		logger:  opts.logger,
	}
}

// Send enqueues one event, blocking when the queue is full.
func (s *Secretary) Send(ctx context.Context, event Event) error {
	select {
	case s.queue <- event:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// RecordBuild implements the juggler's recorder: it enqueues the build
// for persistence once every file has been verified on disk.
func (s *Secretary) RecordBuild(build db.Build, files []db.File, deps []db.Dependency) error {
	return s.Send(context.Background(), BuildEvent{
		Build:        build,
		Files:        files,
		Dependencies: deps,
	})
}

// Run drains the queue until the context is cancelled. A failed write
// is logged and dropped; the secretary never exits involuntarily.
func (s *Secretary) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain what is already buffered so accepted events are
			// not lost on shutdown.
			for {
				select {
				case event := <-s.queue:
					s.process(event)
				default:
					return
				}
			}
		case event := <-s.queue:
			s.process(event)
		}
	}
}

func (s *Secretary) process(event Event) {
	ctx := context.Background()
	switch e := event.(type) {
	case NewPackageEvent:
		if _, err := s.oracle.AddNewPackage(ctx, e.Name); err != nil {
			level.Error(s.logger).Log("msg", "failed to register package", "package", e.Name, "err", err)
		}

	case NewVersionEvent:
		if _, err := s.oracle.AddNewPackageVersion(ctx, e.Package, e.Version, e.Released); err != nil {
			level.Error(s.logger).Log("msg", "failed to register version", "package", e.Package, "version", e.Version, "err", err)
		}

	case BuildEvent:
		buildID, err := s.oracle.LogBuild(ctx, e.Build, e.Files, e.Dependencies)
		if err != nil {
			level.Error(s.logger).Log("msg", "failed to record build", "package", e.Build.Package, "version", e.Build.Version, "err", err)
			return
		}
		level.Debug(s.logger).Log("msg", "recorded build", "id", buildID, "package", e.Build.Package, "status", e.Build.Status)
		if e.Build.Status && s.indexer != nil {
			s.indexer.BuildLogged(e.Build.Package)
		}

	case DownloadEvent:
		if err := s.oracle.LogDownload(ctx, e.Download); err != nil {
			level.Error(s.logger).Log("msg", "failed to record download", "filename", e.Download.Filename, "err", err)
		}

	default:
		level.Error(s.logger).Log("msg", "dropped unknown event", "event", event)
	}
}
