package schema

import (
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db/database"
	"github.com/pdtopdog/piwheels/internal/db/query"
)

// Schema captures the schema of a database in terms of a series of
// ordered updates.
type Schema struct {
	updates []Update // Ordered series of updates making up the schema
	hook    Hook     // Optional hook to execute whenever a update gets applied
}

// Update applies a specific schema change to a database, and returns an
// error if anything goes wrong.
type Update func(database.Tx) error

// Hook is a callback that gets fired when a update gets applied.
type Hook func(int, database.Tx) error

// New creates a new schema Schema with the given updates.
func New(updates []Update) *Schema {
	return &Schema{
		updates: updates,
	}
}

// Empty creates a new schema with no updates.
func Empty() *Schema {
	return New(make([]Update, 0))
}

// Add a new update to the schema. It will be appended at the end of the
// existing series.
func (s *Schema) Add(update Update) {
	s.updates = append(s.updates, update)
}

// Len returns the number of total updates in the schema.
func (s *Schema) Len() int {
	return len(s.updates)
}

// Hook instructs the schema to invoke the given function whenever a
// update is about to be applied. The function gets passed the update
// version number and the running transaction, and if it returns an
// error it will cause the schema transaction to be rolled back. Any
// previously installed hook will be replaced.
func (s *Schema) Hook(hook Hook) {
	s.hook = hook
}

// Ensure makes sure that the actual schema in the given database matches
// the one defined by our updates.
//
// All updates are applied transactionally. In case any error occurs the
// transaction will be rolled back and the database will remain
// unchanged.
//
// A update will be applied only if it hasn't been before (currently
// applied updates are tracked in the a 'schema' table, which gets
// automatically created).
//
// If no error occurs, the integer returned by this method is the
// initial version that the schema has been upgraded from.
func (s *Schema) Ensure(src database.DB) (int, error) {
	var current int
	err := query.Transaction(src, func(tx database.Tx) error {
		if err := ensureSchemaTableExists(tx); err != nil {
			return errors.WithStack(err)
		}
		var err error
		current, err = queryCurrentVersion(tx)
		if err != nil {
			return errors.WithStack(err)
		}

		err = ensureUpdatesAreApplied(tx, current, s.updates, s.hook)
		return errors.WithStack(err)
	})
	if err != nil {
		return -1, errors.WithStack(err)
	}
	return current, nil
}

// Ensure that the schema table exists.
func ensureSchemaTableExists(tx database.Tx) error {
	exists, err := schemaTableExists(tx)
	if err != nil {
		return errors.Wrap(err, "failed to check if schema table is there")
	}
	if !exists {
		if err := createSchemaTable(tx); err != nil {
			return errors.Wrap(err, "failed to create schema table")
		}
	}
	return nil
}

// Return the highest update version currently applied. Zero means that
// no updates have been applied yet.
func queryCurrentVersion(tx database.Tx) (int, error) {
	versions, err := selectSchemaVersions(tx)
	if err != nil {
		return -1, errors.Wrap(err, "failed to fetch update versions")
	}

	var current int
	if len(versions) > 0 {
		if err := checkSchemaVersionsHaveNoHoles(versions); err != nil {
			return -1, errors.WithStack(err)
		}
		current = versions[len(versions)-1] // Highest recorded version
	}
	return current, nil
}

// Check that the given list of update version numbers doesn't have
// "holes", that is each version equal the preceding version plus 1.
func checkSchemaVersionsHaveNoHoles(versions []int) error {
	for i := range versions[:len(versions)-1] {
		if versions[i+1] != versions[i]+1 {
			return errors.Errorf("missing updates: %d -> %d", versions[i], versions[i+1])
		}
	}
	return nil
}

// Apply any pending update that was not yet applied.
func ensureUpdatesAreApplied(tx database.Tx, current int, updates []Update, hook Hook) error {
	if current > len(updates) {
		return errors.Errorf(
			"schema version '%d' is more recent than expected '%d'",
			current, len(updates))
	}

	// If there are no updates, there's nothing to do.
	if len(updates) == 0 {
		return nil
	}

	// Apply missing updates.
	for _, update := range updates[current:] {
		if hook != nil {
			if err := hook(current, tx); err != nil {
				return errors.Wrapf(err, "failed to execute hook (version %d)", current)
			}
		}

		if err := update(tx); err != nil {
			return errors.Wrapf(err, "failed to apply update %d", current)
		}
		current++
		if err := insertSchemaVersion(tx, current); err != nil {
			return errors.Errorf("failed to insert version %d", current)
		}
	}

	return nil
}
