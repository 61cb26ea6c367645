package db

import (
	"time"

	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db/database"
)

// AddNewPackage registers a package under its canonical name. It
// returns true if the package was new, false if it was already known.
// Re-registering is idempotent.
func (d *DB) AddNewPackage(name string) (bool, error) {
	var created bool
	err := d.transaction(func(tx database.Tx) error {
		result, err := tx.Exec(`
INSERT INTO packages (package) VALUES (?)
ON CONFLICT (package) DO NOTHING
`, CanonicalName(name))
		if err != nil {
			return errors.WithStack(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		created = n > 0
		return nil
	})
	return created, errors.WithStack(err)
}

// AddNewPackageVersion registers a version of a known package. It
// returns true if the version was new. The package must exist.
func (d *DB) AddNewPackageVersion(name, version string, released time.Time) (bool, error) {
	var created bool
	err := d.transaction(func(tx database.Tx) error {
		result, err := tx.Exec(`
INSERT INTO versions (package, version, released) VALUES (?, ?, ?)
ON CONFLICT (package, version) DO NOTHING
`, CanonicalName(name), version, released.UTC())
		if err != nil {
			return errors.WithStack(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		created = n > 0
		return nil
	})
	return created, errors.WithStack(err)
}

// SkipPackage records a reason to exclude the package from dispatch.
// The rows remain so that history stays attributable.
func (d *DB) SkipPackage(name, reason string) error {
	return d.transaction(func(tx database.Tx) error {
		result, err := tx.Exec(`
UPDATE packages SET skip = ? WHERE package = ?
`, reason, CanonicalName(name))
		if err != nil {
			return errors.WithStack(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		if n == 0 {
			return errors.Errorf("package %q not found", name)
		}
		return nil
	})
}

// SkipPackageVersion records a reason to exclude one version from
// dispatch.
func (d *DB) SkipPackageVersion(name, version, reason string) error {
	return d.transaction(func(tx database.Tx) error {
		result, err := tx.Exec(`
UPDATE versions SET skip = ? WHERE package = ? AND version = ?
`, reason, CanonicalName(name), version)
		if err != nil {
			return errors.WithStack(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		if n == 0 {
			return errors.Errorf("version %q %q not found", name, version)
		}
		return nil
	})
}

// GetAllPackages returns the set of canonical package names known to
// the database.
func (d *DB) GetAllPackages() ([]string, error) {
	var names []string
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`SELECT package FROM packages ORDER BY package`)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return errors.WithStack(err)
			}
			names = append(names, name)
		}
		return errors.WithStack(rows.Err())
	})
	return names, errors.WithStack(err)
}

// GetAllPackageVersions returns every (package, version) pair known to
// the database.
func (d *DB) GetAllPackageVersions() ([]Version, error) {
	var versions []Version
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`
SELECT package, version, released, skip FROM versions ORDER BY package, version
`)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		for rows.Next() {
			var version Version
			if err := rows.Scan(&version.Package, &version.Version, &version.Released, &version.Skip); err != nil {
				return errors.WithStack(err)
			}
			versions = append(versions, version)
		}
		return errors.WithStack(rows.Err())
	})
	return versions, errors.WithStack(err)
}

// TestPackageVersion reports whether the given version of a package is
// registered.
func (d *DB) TestPackageVersion(name, version string) (bool, error) {
	var exists bool
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`
SELECT COUNT(*) FROM versions WHERE package = ? AND version = ?
`, CanonicalName(name), version)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		if !rows.Next() {
			return errors.Errorf("no rows returned")
		}
		var count int
		if err := rows.Scan(&count); err != nil {
			return errors.WithStack(err)
		}
		exists = count > 0
		return errors.WithStack(rows.Err())
	})
	return exists, errors.WithStack(err)
}

// PackageSkip returns the skip reason of a package, empty when the
// package is buildable.
func (d *DB) PackageSkip(name string) (string, error) {
	var skip string
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`SELECT skip FROM packages WHERE package = ?`, CanonicalName(name))
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		if !rows.Next() {
			return errors.Errorf("package %q not found", name)
		}
		if err := rows.Scan(&skip); err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(rows.Err())
	})
	return skip, errors.WithStack(err)
}

// VersionSkip returns the skip reason of a version, empty when the
// version is buildable.
func (d *DB) VersionSkip(name, version string) (string, error) {
	var skip string
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`
SELECT skip FROM versions WHERE package = ? AND version = ?
`, CanonicalName(name), version)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		if !rows.Next() {
			return errors.Errorf("version %q %q not found", name, version)
		}
		if err := rows.Scan(&skip); err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(rows.Err())
	})
	return skip, errors.WithStack(err)
}
