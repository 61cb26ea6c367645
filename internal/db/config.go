package db

import (
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db/database"
)

// GetPyPISerial returns the last upstream changelog serial the farm has
// processed.
func (d *DB) GetPyPISerial() (int64, error) {
	var serial int64
	err := d.transaction(func(tx database.Tx) error {
		rows, err := tx.Query(`SELECT pypi_serial FROM configuration WHERE id = 1`)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		if !rows.Next() {
			return errors.Errorf("configuration row missing")
		}
		if err := rows.Scan(&serial); err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(rows.Err())
	})
	return serial, errors.WithStack(err)
}

// SetPyPISerial advances the upstream changelog high-water mark. The
// serial never moves backwards.
func (d *DB) SetPyPISerial(serial int64) error {
	return d.transaction(func(tx database.Tx) error {
		_, err := tx.Exec(`
UPDATE configuration SET pypi_serial = MAX(pypi_serial, ?) WHERE id = 1
`, serial)
		return errors.WithStack(err)
	})
}
