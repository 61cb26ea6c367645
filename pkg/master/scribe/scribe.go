package scribe

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/spoke-d/task"

	"github.com/pdtopdog/piwheels/internal/db"
	"github.com/pdtopdog/piwheels/internal/fsys"
)

// Oracle is the read-side database surface the scribe renders from. It
// is satisfied by the broker client.
type Oracle interface {
	IndexPackages(ctx context.Context) ([]string, error)
	GetPackageFiles(ctx context.Context, name string) ([]db.File, error)
	GetStatistics(ctx context.Context) (db.Statistics, error)
}

// Kind selects which page a work item targets.
type Kind string

const (
	// KindPackage rewrites simple/<package>/index.html.
	KindPackage Kind = "package"
	// KindProject rewrites project/<package>/index.html.
	KindProject Kind = "project"
	// KindRoot rewrites the top-level index, packages.json and
	// stats.html.
	KindRoot Kind = "root"
)

// Target identifies one page to rewrite.
type Target struct {
	Kind    Kind
	Package string
}

// Scribe renders static index pages and replaces them atomically. Its
// inbound queue is a set keyed by target, so a burst of requests for
// the same page compresses to a single write per drain cycle.
type Scribe struct {
	fs       fsys.FileSystem
	output   string
	oracle   Oracle
	interval time.Duration
	logger   log.Logger

	mutex    sync.Mutex
	pending  map[Target]struct{}
	rootHash [sha256.Size]byte
}

// New creates a Scribe rooted at output.
func New(fs fsys.FileSystem, output string, oracle Oracle, options ...Option) *Scribe {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Scribe{
		fs:       fs,
		output:   output,
		oracle:   oracle,
		interval: opts.interval,
		logger:   opts.logger,
		pending:  make(map[Target]struct{}),
	}
}

// Setup creates the page directories and performs a full rewrite so
// the on-disk pages match the database after a restart.
func (s *Scribe) Setup(ctx context.Context) error {
	for _, dir := range []string{
		filepath.Join(s.output, "simple"),
		filepath.Join(s.output, "project"),
	} {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return errors.WithStack(err)
		}
	}

	names, err := s.oracle.IndexPackages(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, name := range names {
		s.RewritePackage(name)
	}
	s.RewriteRoot()
	s.Drain(ctx)
	return nil
}

// RewritePackage enqueues a rewrite of the package's index and project
// pages.
func (s *Scribe) RewritePackage(pkg string) {
	pkg = db.CanonicalName(pkg)
	s.enqueue(Target{Kind: KindPackage, Package: pkg})
	s.enqueue(Target{Kind: KindProject, Package: pkg})
}

// RewriteRoot enqueues a rewrite of the top-level pages.
func (s *Scribe) RewriteRoot() {
	s.enqueue(Target{Kind: KindRoot})
}

func (s *Scribe) enqueue(target Target) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.pending[target] = struct{}{}
}

// Pending returns the number of queued targets.
func (s *Scribe) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.pending)
}

// Drain rewrites every queued target once.
func (s *Scribe) Drain(ctx context.Context) {
	s.mutex.Lock()
	targets := make([]Target, 0, len(s.pending))
	for target := range s.pending {
		targets = append(targets, target)
	}
	s.pending = make(map[Target]struct{})
	s.mutex.Unlock()

	for _, target := range targets {
		var err error
		switch target.Kind {
		case KindPackage:
			err = s.writePackageIndex(ctx, target.Package)
		case KindProject:
			err = s.writeProjectPage(ctx, target.Package)
		case KindRoot:
			err = s.writeRoot(ctx)
		default:
			err = errors.Errorf("unknown target kind %q", target.Kind)
		}
		if err != nil {
			level.Error(s.logger).Log("msg", "failed to rewrite page", "kind", target.Kind, "package", target.Package, "err", err)
		}
	}
}

// Run returns a task function that drains the rewrite set once per
// cycle.
func (s *Scribe) Run() (task.Func, task.Schedule) {
	scribeWrapper := func(ctx context.Context) {
		ch := make(chan struct{})
		go func() {
			s.Drain(ctx)
			ch <- struct{}{}
		}()
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}

	schedule := task.Every(s.interval)
	return scribeWrapper, schedule
}

func (s *Scribe) writePackageIndex(ctx context.Context, pkg string) error {
	files, err := s.oracle.GetPackageFiles(ctx, pkg)
	if err != nil {
		return errors.WithStack(err)
	}

	body, err := renderPackageIndex(pkg, files)
	if err != nil {
		return errors.WithStack(err)
	}

	dir := filepath.Join(s.output, "simple", pkg)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(fsys.WriteFileAtomic(s.fs, filepath.Join(dir, "index.html"), body, 0644))
}

func (s *Scribe) writeProjectPage(ctx context.Context, pkg string) error {
	files, err := s.oracle.GetPackageFiles(ctx, pkg)
	if err != nil {
		return errors.WithStack(err)
	}

	body, err := renderProjectPage(pkg, files)
	if err != nil {
		return errors.WithStack(err)
	}

	dir := filepath.Join(s.output, "project", pkg)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(fsys.WriteFileAtomic(s.fs, filepath.Join(dir, "index.html"), body, 0644))
}

func (s *Scribe) writeRoot(ctx context.Context) error {
	names, err := s.oracle.IndexPackages(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	body, err := renderRootIndex(names)
	if err != nil {
		return errors.WithStack(err)
	}

	// Skip the write when the package set is unchanged. The first
	// comparison after startup reads the page that is already on disk.
	path := filepath.Join(s.output, "simple", "index.html")
	hash := sha256.Sum256(body)
	s.mutex.Lock()
	if s.rootHash == ([sha256.Size]byte{}) {
		if f, err := s.fs.Open(path); err == nil {
			if onDisk, err := ioutil.ReadAll(f); err == nil {
				s.rootHash = sha256.Sum256(onDisk)
			}
			f.Close()
		}
	}
	unchanged := hash == s.rootHash
	s.rootHash = hash
	s.mutex.Unlock()
	if unchanged {
		return nil
	}

	if err := fsys.WriteFileAtomic(s.fs, path, body, 0644); err != nil {
		return errors.WithStack(err)
	}

	listing, err := json.MarshalIndent(struct {
		Packages []string `json:"packages"`
	}{Packages: names}, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := fsys.WriteFileAtomic(s.fs, filepath.Join(s.output, "packages.json"), listing, 0644); err != nil {
		return errors.WithStack(err)
	}

	stats, err := s.oracle.GetStatistics(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	statsBody, err := renderStats(stats)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(fsys.WriteFileAtomic(s.fs, filepath.Join(s.output, "stats.html"), statsBody, 0644))
}
