package db_test

import (
	"testing"

	"github.com/pdtopdog/piwheels/internal/db"
)

func TestCanonicalName(t *testing.T) {
	for _, tc := range []struct {
		name     string
		expected string
	}{
		{"foo", "foo"},
		{"Foo", "foo"},
		{"foo_bar", "foo-bar"},
		{"foo.bar", "foo-bar"},
		{"Foo--Bar__baz", "foo-bar-baz"},
		{"RPi.GPIO", "rpi-gpio"},
	} {
		if expected, actual := tc.expected, db.CanonicalName(tc.name); expected != actual {
			t.Errorf("expected: %q, actual: %q", expected, actual)
		}
	}
}
