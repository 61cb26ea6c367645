package schema

import (
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db/database"
	"github.com/pdtopdog/piwheels/internal/db/query"
)

// Return whether the schema table is present in the database.
func schemaTableExists(tx database.Tx) (bool, error) {
	statement := `
SELECT COUNT(name) FROM sqlite_master WHERE type = 'table' AND name = 'schema'
`
	count, err := query.Count(tx, "sqlite_master", "type = 'table' AND name = 'schema'")
	if err != nil {
		return false, errors.Wrapf(err, "failed to execute %q", statement)
	}
	return count == 1, nil
}

// Create the schema table.
func createSchemaTable(tx database.Tx) error {
	statement := `
CREATE TABLE schema (
    id         INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
    version    INTEGER NOT NULL,
    updated_at DATETIME NOT NULL,
    UNIQUE (version)
)
`
	_, err := tx.Exec(statement)
	return errors.WithStack(err)
}

// Return all versions in the schema table, in ascending order.
func selectSchemaVersions(tx database.Tx) ([]int, error) {
	statement := `
SELECT version FROM schema ORDER BY version
`
	values, err := query.SelectIntegers(tx, statement)
	return values, errors.WithStack(err)
}

// Insert a new version into the schema table.
func insertSchemaVersion(tx database.Tx, new int) error {
	statement := `
INSERT INTO schema (version, updated_at) VALUES (?, strftime("%s"))
`
	_, err := tx.Exec(statement, new)
	return errors.WithStack(err)
}
