package indexer

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Scribe is the page writer the indexer feeds. Requests coalesce on
// the scribe side, so the indexer fires on every mutation without
// worrying about bursts.
type Scribe interface {

	// RewritePackage enqueues a rewrite of the package's pages.
	RewritePackage(pkg string)

	// RewriteRoot enqueues a rewrite of the top-level pages.
	RewriteRoot()
}

// Indexer is the reactive layer between database mutations and the
// scribe: every recorded or deleted build enqueues the affected pages.
type Indexer struct {
	scribe Scribe
	logger log.Logger
}

// New creates an Indexer over the given scribe.
func New(scribe Scribe, options ...Option) *Indexer {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Indexer{
		scribe: scribe,
		logger: opts.logger,
	}
}

// BuildLogged reacts to a successful build being recorded.
func (i *Indexer) BuildLogged(pkg string) {
	level.Debug(i.logger).Log("msg", "build logged, queueing rewrite", "package", pkg)
	i.scribe.RewritePackage(pkg)
	i.scribe.RewriteRoot()
}

// BuildDeleted reacts to a build being removed. The root page only
// changes when the package lost its last file; the scribe's body-hash
// comparison settles that.
func (i *Indexer) BuildDeleted(pkg string) {
	level.Debug(i.logger).Log("msg", "build deleted, queueing rewrite", "package", pkg)
	i.scribe.RewritePackage(pkg)
	i.scribe.RewriteRoot()
}
