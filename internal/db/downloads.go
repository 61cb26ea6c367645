package db

import (
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db/database"
)

// LogDownload appends one download record. Downloads never mutate file
// rows; counts are derived on read.
func (d *DB) LogDownload(download Download) error {
	return d.transaction(func(tx database.Tx) error {
		accessedAt := download.AccessedAt
		if accessedAt.IsZero() {
			accessedAt = d.clock.UTC()
		}
		_, err := tx.Exec(`
INSERT INTO downloads (filename, accessed_by, accessed_at, arch, distro_name,
                       distro_version, os_name, os_version, py_name, py_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, download.Filename, download.AccessedBy, accessedAt.UTC(), download.Arch,
			download.DistroName, download.DistroVersion, download.OSName,
			download.OSVersion, download.PyName, download.PyVersion)
		return errors.WithStack(err)
	})
}

// DownloadCount returns the number of recorded downloads of a file.
func (d *DB) DownloadCount(filename string) (int, error) {
	var count int
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`SELECT COUNT(*) FROM downloads WHERE filename = ?`, filename)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		if !rows.Next() {
			return errors.Errorf("no rows returned")
		}
		if err := rows.Scan(&count); err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(rows.Err())
	})
	return count, errors.WithStack(err)
}
