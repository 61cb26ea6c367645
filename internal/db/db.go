package db

import (
	"database/sql"
	"fmt"

	"github.com/go-kit/kit/log"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/clock"
	"github.com/pdtopdog/piwheels/internal/db/database"
	"github.com/pdtopdog/piwheels/internal/db/query"
	"github.com/pdtopdog/piwheels/internal/db/schema"
)

// DB mediates access to the farm database. Each DB owns exactly one
// connection; it is not safe for concurrent use. The worker pool in
// the broker package holds one DB per worker.
type DB struct {
	db      database.DB
	dsn     string
	sleeper clock.Sleeper
	clock   clock.Clock
	logger  log.Logger
}

// Open opens the SQLite database at path and returns a DB wrapping a
// single connection. Foreign keys are enforced on every connection.
func Open(path string, options ...Option) (*DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=1", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %q", path)
	}
	raw.SetMaxOpenConns(1)

	db := New(database.NewShimDB(raw), options...)
	db.dsn = dsn
	return db, nil
}

// New creates a DB over an existing database connection.
func New(src database.DB, options ...Option) *DB {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &DB{
		db:      src,
		sleeper: opts.sleeper,
		clock:   opts.clock,
		logger:  opts.logger,
	}
}

// EnsureSchema applies any schema updates the database is missing and
// returns the version the schema was upgraded from.
func (d *DB) EnsureSchema() (int, error) {
	current, err := schema.New(updates).Ensure(d.db)
	return current, errors.WithStack(err)
}

// Reconnect closes and re-opens the underlying connection. Workers call
// this after a fatal driver error before rejoining the idle queue. It
// only works for databases opened with Open.
func (d *DB) Reconnect() error {
	if d.dsn == "" {
		return errors.Errorf("database was not opened from a path")
	}
	d.db.Close()

	raw, err := sql.Open("sqlite3", d.dsn)
	if err != nil {
		return errors.WithStack(err)
	}
	raw.SetMaxOpenConns(1)
	if err := raw.Ping(); err != nil {
		return errors.WithStack(err)
	}
	d.db = database.NewShimDB(raw)
	return nil
}

// Ping verifies the underlying connection is alive.
func (d *DB) Ping() error {
	return errors.WithStack(d.db.Ping())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return errors.WithStack(d.db.Close())
}

// transaction runs f inside a transaction, retrying the whole
// transaction when the driver reports a transient failure.
func (d *DB) transaction(f func(database.Tx) error) error {
	return query.Retry(d.sleeper, func() error {
		return query.Transaction(d.db, f)
	})
}
