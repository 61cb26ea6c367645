package query

import (
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db/database"
)

// SelectStrings executes a statement which must yield rows with a single
// string column. It returns the list of column values.
func SelectStrings(tx database.Tx, query string, args ...interface{}) ([]string, error) {
	var values []string
	scan := func(rows database.Rows) error {
		var value string
		if err := rows.Scan(&value); err != nil {
			return errors.WithStack(err)
		}
		values = append(values, value)
		return nil
	}

	if err := scanSingleColumn(tx, query, args, scan); err != nil {
		return nil, errors.WithStack(err)
	}

	return values, nil
}

// SelectIntegers executes a statement which must yield rows with a
// single integer column. It returns the list of column values.
func SelectIntegers(tx database.Tx, query string, args ...interface{}) ([]int, error) {
	var values []int
	scan := func(rows database.Rows) error {
		var value int
		if err := rows.Scan(&value); err != nil {
			return errors.WithStack(err)
		}
		values = append(values, value)
		return nil
	}

	if err := scanSingleColumn(tx, query, args, scan); err != nil {
		return nil, errors.WithStack(err)
	}

	return values, nil
}

// Count returns the number of rows in the given table matching the
// given where clause.
func Count(tx database.Tx, table, where string, args ...interface{}) (int, error) {
	stmt := "SELECT COUNT(*) FROM " + table
	if where != "" {
		stmt += " WHERE " + where
	}

	rows, err := tx.Query(stmt, args...)
	if err != nil {
		return -1, errors.WithStack(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return -1, errors.Errorf("no rows returned")
	}
	var count int
	if err := rows.Scan(&count); err != nil {
		return -1, errors.WithStack(err)
	}
	if rows.Next() {
		return -1, errors.Errorf("more than one row returned")
	}
	if err := rows.Err(); err != nil {
		return -1, errors.WithStack(err)
	}

	return count, nil
}

type scanFunc func(database.Rows) error

func scanSingleColumn(tx database.Tx, query string, args []interface{}, scan scanFunc) error {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return errors.WithStack(err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return errors.WithStack(err)
		}
	}

	return errors.WithStack(rows.Err())
}
