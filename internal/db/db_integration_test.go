//go:build integration
// +build integration

package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pdtopdog/piwheels/internal/db"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()

	d, err := db.Open(filepath.Join(t.TempDir(), "piwheels.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	_, err = d.EnsureSchema()
	require.NoError(t, err)
	return d
}

func TestAddNewPackageIsIdempotent(t *testing.T) {
	d := newTestDB(t)

	created, err := d.AddNewPackage("Foo")
	require.NoError(t, err)
	require.True(t, created)

	// Canonical name collides with the first registration.
	created, err = d.AddNewPackage("foo")
	require.NoError(t, err)
	require.False(t, created)

	names, err := d.GetAllPackages()
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, names)
}

func TestPendingBuildsOrdering(t *testing.T) {
	d := newTestDB(t)

	released := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, name := range []string{"beta", "alpha"} {
		_, err := d.AddNewPackage(name)
		require.NoError(t, err)
	}
	_, err := d.AddNewPackageVersion("beta", "1.0", released)
	require.NoError(t, err)
	_, err = d.AddNewPackageVersion("alpha", "1.0", released)
	require.NoError(t, err)
	_, err = d.AddNewPackageVersion("alpha", "0.9", released.Add(-time.Hour))
	require.NoError(t, err)

	pending, err := d.PendingBuilds("cp39m", 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	// Oldest release first, then package name.
	require.Equal(t, "alpha", pending[0].Package)
	require.Equal(t, "0.9", pending[0].Version)
	require.Equal(t, "alpha", pending[1].Package)
	require.Equal(t, "beta", pending[2].Package)
}

func TestLogBuildRemovesFromPending(t *testing.T) {
	d := newTestDB(t)

	_, err := d.AddNewPackage("foo")
	require.NoError(t, err)
	_, err = d.AddNewPackageVersion("foo", "1.0", time.Now().UTC())
	require.NoError(t, err)

	buildID, err := d.LogBuild(db.Build{
		Package:  "foo",
		Version:  "1.0",
		ABITag:   "cp39m",
		BuiltBy:  "slave-1",
		Duration: 7 * time.Second,
		Status:   true,
		Output:   "ok",
	}, []db.File{{
		Filename:          "foo-1.0-cp39-cp39-linux_armv7l.whl",
		Filesize:          42,
		Filehash:          "abcd",
		PackageTag:        "foo",
		PackageVersionTag: "1.0",
		PyVersionTag:      "cp39",
		ABITag:            "cp39",
		PlatformTag:       "linux_armv7l",
	}}, []db.Dependency{{
		Filename:   "foo-1.0-cp39-cp39-linux_armv7l.whl",
		Tool:       "apt",
		Dependency: "libatlas3-base",
	}})
	require.NoError(t, err)
	require.Greater(t, buildID, int64(0))

	pending, err := d.PendingBuilds("cp39m", 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	// A different ABI still wants the version.
	pending, err = d.PendingBuilds("cp37m", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestLogBuildFailureKeepsPending(t *testing.T) {
	d := newTestDB(t)

	_, err := d.AddNewPackage("foo")
	require.NoError(t, err)
	_, err = d.AddNewPackageVersion("foo", "1.0", time.Now().UTC())
	require.NoError(t, err)

	_, err = d.LogBuild(db.Build{
		Package: "foo",
		Version: "1.0",
		ABITag:  "cp39m",
		BuiltBy: "slave-1",
		Status:  false,
		Output:  "compiler exploded",
	}, nil, nil)
	require.NoError(t, err)

	pending, err := d.PendingBuilds("cp39m", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestLogBuildRejectsFilesOnFailure(t *testing.T) {
	d := newTestDB(t)

	_, err := d.LogBuild(db.Build{
		Package: "foo",
		Version: "1.0",
		Status:  false,
	}, []db.File{{Filename: "x.whl"}}, nil)
	require.Error(t, err)
}

func TestDeleteBuildCascades(t *testing.T) {
	d := newTestDB(t)

	_, err := d.AddNewPackage("foo")
	require.NoError(t, err)
	_, err = d.AddNewPackageVersion("foo", "1.0", time.Now().UTC())
	require.NoError(t, err)

	buildID, err := d.LogBuild(db.Build{
		Package: "foo", Version: "1.0", ABITag: "cp39m",
		BuiltBy: "slave-1", Status: true,
	}, []db.File{{
		Filename: "foo-1.0-cp39-cp39-linux_armv7l.whl",
		Filesize: 42, Filehash: "abcd",
		PackageTag: "foo", PackageVersionTag: "1.0",
		PyVersionTag: "cp39", ABITag: "cp39", PlatformTag: "linux_armv7l",
	}}, []db.Dependency{{
		Filename: "foo-1.0-cp39-cp39-linux_armv7l.whl",
		Tool:     "pip", Dependency: "numpy",
	}})
	require.NoError(t, err)

	filenames, err := d.DeleteBuild(buildID)
	require.NoError(t, err)
	require.Equal(t, []string{"foo-1.0-cp39-cp39-linux_armv7l.whl"}, filenames)

	files, err := d.GetPackageFiles("foo")
	require.NoError(t, err)
	require.Empty(t, files)

	// Version is pending again once its only successful build is gone.
	pending, err := d.PendingBuilds("cp39m", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestSkipHidesFromPending(t *testing.T) {
	d := newTestDB(t)

	_, err := d.AddNewPackage("foo")
	require.NoError(t, err)
	_, err = d.AddNewPackageVersion("foo", "1.0", time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, d.SkipPackageVersion("foo", "1.0", "bad-build"))

	pending, err := d.PendingBuilds("cp39m", 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	skip, err := d.VersionSkip("foo", "1.0")
	require.NoError(t, err)
	require.Equal(t, "bad-build", skip)
}

func TestPyPISerial(t *testing.T) {
	d := newTestDB(t)

	serial, err := d.GetPyPISerial()
	require.NoError(t, err)
	require.Equal(t, int64(0), serial)

	require.NoError(t, d.SetPyPISerial(100))
	require.NoError(t, d.SetPyPISerial(50)) // never moves backwards

	serial, err = d.GetPyPISerial()
	require.NoError(t, err)
	require.Equal(t, int64(100), serial)
}

func TestStatistics(t *testing.T) {
	d := newTestDB(t)

	_, err := d.AddNewPackage("foo")
	require.NoError(t, err)
	_, err = d.AddNewPackageVersion("foo", "1.0", time.Now().UTC())
	require.NoError(t, err)
	_, err = d.LogBuild(db.Build{
		Package: "foo", Version: "1.0", ABITag: "cp39m",
		BuiltBy: "slave-1", Status: true, Duration: time.Second,
	}, []db.File{{
		Filename: "foo-1.0-cp39-cp39-linux_armv7l.whl",
		Filesize: 42, Filehash: "abcd",
		PackageTag: "foo", PackageVersionTag: "1.0",
		PyVersionTag: "cp39", ABITag: "cp39", PlatformTag: "linux_armv7l",
	}}, nil)
	require.NoError(t, err)
	require.NoError(t, d.LogDownload(db.Download{
		Filename:   "foo-1.0-cp39-cp39-linux_armv7l.whl",
		AccessedBy: "10.0.0.1",
	}))

	stats, err := d.GetStatistics()
	require.NoError(t, err)
	require.Equal(t, 1, stats.PackagesCount)
	require.Equal(t, 1, stats.PackagesBuilt)
	require.Equal(t, 1, stats.BuildsCount)
	require.Equal(t, 1, stats.BuildsCountSuccess)
	require.Equal(t, 1, stats.FilesCount)
	require.Equal(t, 1, stats.DownloadsCount)
	require.Equal(t, time.Second, stats.BuildsTime)
}
