package database

import (
	"database/sql"

	"github.com/pkg/errors"
)

// DB represents a way for a database to start transactions
type DB interface {
	// Begin starts a transaction. The default isolation level is
	// dependent on the driver.
	Begin() (Tx, error)

	// Ping verifies the connection to the database is still alive.
	Ping() error

	// Close closes the database, releasing any open resources.
	Close() error
}

// Tx is an in-progress database transaction.
// A transaction must end with a call to Commit or Rollback.
type Tx interface {
	// Query executes a query that returns rows, typically a SELECT.
	Query(query string, args ...interface{}) (Rows, error)

	// Exec executes a query that doesn't return rows.
	// For example: an INSERT and UPDATE.
	Exec(query string, args ...interface{}) (sql.Result, error)

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction.
	Rollback() error
}

// Rows is the result of a query. Its cursor starts before the first row
// of the result set. Use Next to advance through the rows.
type Rows interface {

	// Next prepares the next result row for reading with the Scan
	// method. It returns true on success, or false if there is no next
	// result row or an error happened while preparing it.
	Next() bool

	// Scan copies the columns in the current row into the values
	// pointed at by dest. The number of values in dest must be the same
	// as the number of columns in Rows.
	Scan(dest ...interface{}) error

	// Err returns the error, if any, that was encountered during
	// iteration.
	Err() error

	// Close closes the Rows, preventing further enumeration.
	Close() error
}

// RawSQLSource returns the underlying database from the interface.
// This is required when we have to deal with some libraries that
// explicitly require the *sql.DB type.
type RawSQLSource interface {
	Raw() *sql.DB
}

// RawSQLDatabase takes a DB and returns the underlying source to the
// database, without the shim.
func RawSQLDatabase(database DB) (*sql.DB, error) {
	if db, ok := database.(RawSQLSource); ok {
		return db.Raw(), nil
	}
	return nil, errors.Errorf("can not get the underlying raw sql database from %T", database)
}
