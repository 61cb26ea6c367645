package query

import (
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/clock"
	"github.com/pdtopdog/piwheels/internal/retrier"
)

// Retry wraps a function that interacts with the database, and retries
// it in case a transient error is hit.
//
// This should by typically used to wrap transactions.
func Retry(sleeper clock.Sleeper, f func() error) error {
	var fatal error
	retry := retrier.New(sleeper, 10, 250*time.Millisecond)
	err := retry.Run(func() error {
		err := f()
		if IsRetriableError(err) {
			return err
		}
		fatal = err
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(fatal)
}

// IsRetriableError returns true if the given error might be transient
// and the interaction can be safely retried.
func IsRetriableError(err error) bool {
	err = errors.Cause(err)

	if err == nil {
		return false
	}
	if err == sqlite3.ErrLocked || err == sqlite3.ErrBusy {
		return true
	}

	if strings.Contains(err.Error(), "database is locked") {
		return true
	}
	if strings.Contains(err.Error(), "bad connection") {
		return true
	}

	return false
}

// IsConstraintError returns true if the given error is a uniqueness or
// foreign key violation. Constraint errors are never retried; they are
// surfaced to the caller as integrity failures.
func IsConstraintError(err error) bool {
	err = errors.Cause(err)

	if err == nil {
		return false
	}
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "constraint failed")
}
