package db

import (
	"time"

	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db/database"
)

// LogBuild records a build attempt, its artifacts and their
// dependencies in one transaction. Files may only accompany a
// successful attempt. The database-assigned build id is returned.
func (d *DB) LogBuild(build Build, files []File, deps []Dependency) (int64, error) {
	if !build.Status && len(files) > 0 {
		return -1, errors.Errorf("a failed build can not have files")
	}

	var buildID int64
	err := d.transaction(func(tx database.Tx) error {
		builtAt := build.BuiltAt
		if builtAt.IsZero() {
			builtAt = d.clock.UTC()
		}
		result, err := tx.Exec(`
INSERT INTO builds (package, version, abi_tag, built_by, duration, status, built_at, output)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, CanonicalName(build.Package), build.Version, build.ABITag, build.BuiltBy,
			build.Duration.Milliseconds(), build.Status, builtAt.UTC(), build.Output)
		if err != nil {
			return errors.Wrap(err, "failed to insert build")
		}
		buildID, err = result.LastInsertId()
		if err != nil {
			return errors.WithStack(err)
		}

		for _, file := range files {
			if _, err := tx.Exec(`
INSERT INTO files (filename, build_id, filesize, filehash, package_tag,
                   package_version_tag, py_version_tag, abi_tag, platform_tag)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, file.Filename, buildID, file.Filesize, file.Filehash, file.PackageTag,
				file.PackageVersionTag, file.PyVersionTag, file.ABITag, file.PlatformTag); err != nil {
				return errors.Wrapf(err, "failed to insert file %q", file.Filename)
			}
		}
		for _, dep := range deps {
			if _, err := tx.Exec(`
INSERT INTO dependencies (filename, tool, dependency) VALUES (?, ?, ?)
`, dep.Filename, dep.Tool, dep.Dependency); err != nil {
				return errors.Wrapf(err, "failed to insert dependency %q of %q", dep.Dependency, dep.Filename)
			}
		}
		return nil
	})
	if err != nil {
		return -1, errors.WithStack(err)
	}
	return buildID, nil
}

// GetBuild returns a build attempt and its files.
func (d *DB) GetBuild(buildID int64) (Build, []File, error) {
	var (
		build Build
		files []File
	)
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`
SELECT build_id, package, version, abi_tag, built_by, duration, status, built_at, output
FROM builds WHERE build_id = ?
`, buildID)
		if err != nil {
			return errors.WithStack(err)
		}
		if !rows.Next() {
			rows.Close()
			return errors.Errorf("build %d not found", buildID)
		}
		var durationMs int64
		if err := rows.Scan(&build.BuildID, &build.Package, &build.Version, &build.ABITag,
			&build.BuiltBy, &durationMs, &build.Status, &build.BuiltAt, &build.Output); err != nil {
			rows.Close()
			return errors.WithStack(err)
		}
		build.Duration = time.Duration(durationMs) * time.Millisecond
		if err := rows.Close(); err != nil {
			return errors.WithStack(err)
		}

		files, err = selectBuildFiles(tx, buildID)
		return errors.WithStack(err)
	})
	if err != nil {
		return Build{}, nil, errors.WithStack(err)
	}
	return build, files, nil
}

// DeleteBuild removes a build attempt and, by cascade, its files and
// their dependencies. The filenames of the removed files are returned
// so the caller can remove them from disk.
func (d *DB) DeleteBuild(buildID int64) ([]string, error) {
	var filenames []string
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`SELECT filename FROM files WHERE build_id = ?`, buildID)
		if err != nil {
			return errors.WithStack(err)
		}
		for rows.Next() {
			var filename string
			if err := rows.Scan(&filename); err != nil {
				rows.Close()
				return errors.WithStack(err)
			}
			filenames = append(filenames, filename)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return errors.WithStack(err)
		}
		if err := rows.Close(); err != nil {
			return errors.WithStack(err)
		}

		result, err := tx.Exec(`DELETE FROM builds WHERE build_id = ?`, buildID)
		if err != nil {
			return errors.WithStack(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		if n == 0 {
			return errors.Errorf("build %d not found", buildID)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return filenames, nil
}

// GetPackageFiles returns the artifacts of every successful build of a
// package, for index rendering.
func (d *DB) GetPackageFiles(name string) ([]File, error) {
	var files []File
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`
SELECT f.filename, f.build_id, f.filesize, f.filehash, f.package_tag,
       f.package_version_tag, f.py_version_tag, f.abi_tag, f.platform_tag
FROM files f
JOIN builds b ON b.build_id = f.build_id
WHERE b.package = ? AND b.status
ORDER BY f.filename
`, CanonicalName(name))
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		for rows.Next() {
			var file File
			if err := rows.Scan(&file.Filename, &file.BuildID, &file.Filesize, &file.Filehash,
				&file.PackageTag, &file.PackageVersionTag, &file.PyVersionTag,
				&file.ABITag, &file.PlatformTag); err != nil {
				return errors.WithStack(err)
			}
			files = append(files, file)
		}
		return errors.WithStack(rows.Err())
	})
	return files, errors.WithStack(err)
}

// PendingBuilds returns versions that still need a successful build for
// the given ABI, oldest release first, packages and versions under a
// skip reason excluded. At most limit rows are returned.
func (d *DB) PendingBuilds(abi string, limit int) ([]PendingBuild, error) {
	var pending []PendingBuild
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`
SELECT v.package, v.version, v.released
FROM versions v
JOIN packages p ON p.package = v.package
WHERE p.skip = '' AND v.skip = ''
  AND NOT EXISTS (
    SELECT 1 FROM builds b
    JOIN files f ON f.build_id = b.build_id
    WHERE b.package = v.package AND b.version = v.version
      AND b.abi_tag = ? AND b.status
  )
ORDER BY v.released ASC, v.package ASC
LIMIT ?
`, abi, limit)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		for rows.Next() {
			var p PendingBuild
			if err := rows.Scan(&p.Package, &p.Version, &p.Released); err != nil {
				return errors.WithStack(err)
			}
			pending = append(pending, p)
		}
		return errors.WithStack(rows.Err())
	})
	return pending, errors.WithStack(err)
}

// GetBuildABIs returns the set of ABIs the farm builds for.
func (d *DB) GetBuildABIs() ([]string, error) {
	var abis []string
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`SELECT abi_tag FROM build_abis ORDER BY abi_tag`)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		for rows.Next() {
			var abi string
			if err := rows.Scan(&abi); err != nil {
				return errors.WithStack(err)
			}
			abis = append(abis, abi)
		}
		return errors.WithStack(rows.Err())
	})
	return abis, errors.WithStack(err)
}

// SetBuildABIs replaces the set of ABIs the farm builds for.
func (d *DB) SetBuildABIs(abis []string) error {
	return d.transaction(func(tx database.Tx) error {
		if _, err := tx.Exec(`DELETE FROM build_abis`); err != nil {
			return errors.WithStack(err)
		}
		for _, abi := range abis {
			if _, err := tx.Exec(`INSERT INTO build_abis (abi_tag) VALUES (?)`, abi); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

func selectBuildFiles(tx database.Tx, buildID int64) ([]File, error) {
	rows, err := tx.Query(`
SELECT filename, build_id, filesize, filehash, package_tag,
       package_version_tag, py_version_tag, abi_tag, platform_tag
FROM files WHERE build_id = ? ORDER BY filename
`, buildID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var file File
		if err := rows.Scan(&file.Filename, &file.BuildID, &file.Filesize, &file.Filehash,
			&file.PackageTag, &file.PackageVersionTag, &file.PyVersionTag,
			&file.ABITag, &file.PlatformTag); err != nil {
			return nil, errors.WithStack(err)
		}
		files = append(files, file)
	}
	return files, errors.WithStack(rows.Err())
}

// IndexPackages returns the packages that belong on the root index:
// those with at least one artifact and no skip reason.
func (d *DB) IndexPackages() ([]string, error) {
	var names []string
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`
SELECT DISTINCT b.package
FROM builds b
JOIN files f ON f.build_id = b.build_id
JOIN packages p ON p.package = b.package
WHERE b.status AND p.skip = ''
ORDER BY b.package
`)
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

// GetVersionBuilds returns the ids of every build attempt recorded for
// a version.
func (d *DB) GetVersionBuilds(name, version string) ([]int64, error) {
	var ids []int64
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`
SELECT build_id FROM builds WHERE package = ? AND version = ? ORDER BY build_id
`, CanonicalName(name), version)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return errors.WithStack(err)
			}
			ids = append(ids, id)
		}
		return errors.WithStack(rows.Err())
	})
	return ids, errors.WithStack(err)
}
