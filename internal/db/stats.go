package db

import (
	"time"

	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db/database"
)

// GetStatistics returns a snapshot of the farm-wide counters reported
// on the status feed.
func (d *DB) GetStatistics() (Statistics, error) {
	var stats Statistics
	err := d.transaction(func(tx database.Tx) error {
		scalars := []struct {
			stmt string
			args []interface{}
			dest *int
		}{
			{stmt: `SELECT COUNT(*) FROM packages`, dest: &stats.PackagesCount},
			{stmt: `SELECT COUNT(DISTINCT package) FROM builds WHERE status`, dest: &stats.PackagesBuilt},
			{stmt: `SELECT COUNT(*) FROM versions`, dest: &stats.VersionsCount},
			{stmt: `SELECT COUNT(*) FROM builds`, dest: &stats.BuildsCount},
			{stmt: `SELECT COUNT(*) FROM builds WHERE status`, dest: &stats.BuildsCountSuccess},
			{
				stmt: `SELECT COUNT(*) FROM builds WHERE built_at > ?`,
				args: []interface{}{d.clock.UTC().Add(-time.Hour)},
				dest: &stats.BuildsCountLastHour,
			},
			{stmt: `SELECT COUNT(*) FROM files`, dest: &stats.FilesCount},
			{stmt: `SELECT COUNT(*) FROM downloads`, dest: &stats.DownloadsCount},
		}
		for _, scalar := range scalars {
			if err := selectScalar(tx, scalar.stmt, scalar.args, scalar.dest); err != nil {
				return errors.WithStack(err)
			}
		}

		var totalMs int64
		rows, err := tx.Query(`SELECT COALESCE(SUM(duration), 0) FROM builds`)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()
		if !rows.Next() {
			return errors.Errorf("no rows returned")
		}
		if err := rows.Scan(&totalMs); err != nil {
			return errors.WithStack(err)
		}
		stats.BuildsTime = time.Duration(totalMs) * time.Millisecond
		return errors.WithStack(rows.Err())
	})
	return stats, errors.WithStack(err)
}

func selectScalar(tx database.Tx, stmt string, args []interface{}, dest *int) error {
	rows, err := tx.Query(stmt, args...)
	if err != nil {
		return errors.WithStack(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return errors.Errorf("no rows returned")
	}
	if err := rows.Scan(dest); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(rows.Err())
}
