package broker

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db"
)

// Client is the typed RPC surface over the broker. Every actor that
// needs the database holds one of these; all calls funnel through the
// worker pool.
type Client struct {
	broker *Broker
}

// NewClient creates a Client over the given broker.
func NewClient(b *Broker) *Client {
	return &Client{
		broker: b,
	}
}

// AddNewPackage registers a package, reporting whether it was new.
func (c *Client) AddNewPackage(ctx context.Context, name string) (bool, error) {
	value, err := c.broker.Exec(ctx, OpNewPackage, NewPackage{Name: name})
	if err != nil {
		return false, errors.WithStack(err)
	}
	return value.(bool), nil
}

// AddNewPackageVersion registers a version, reporting whether it was
// new.
func (c *Client) AddNewPackageVersion(ctx context.Context, name, version string, released time.Time) (bool, error) {
	value, err := c.broker.Exec(ctx, OpNewVersion, NewVersion{
		Package:  name,
		Version:  version,
		Released: released,
	})
	if err != nil {
		return false, errors.WithStack(err)
	}
	return value.(bool), nil
}

// SkipPackage records a skip reason on a package.
func (c *Client) SkipPackage(ctx context.Context, name, reason string) error {
	_, err := c.broker.Exec(ctx, OpSkipPackage, SkipPackage{Package: name, Reason: reason})
	return errors.WithStack(err)
}

// SkipPackageVersion records a skip reason on a version.
func (c *Client) SkipPackageVersion(ctx context.Context, name, version, reason string) error {
	_, err := c.broker.Exec(ctx, OpSkipVersion, SkipVersion{
		Package: name,
		Version: version,
		Reason:  reason,
	})
	return errors.WithStack(err)
}

// GetAllPackages returns every known canonical package name.
func (c *Client) GetAllPackages(ctx context.Context) ([]string, error) {
	value, err := c.broker.Exec(ctx, OpAllPackages, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	names, _ := value.([]string)
	return names, nil
}

// GetAllPackageVersions returns every known (package, version) pair.
func (c *Client) GetAllPackageVersions(ctx context.Context) ([]db.Version, error) {
	value, err := c.broker.Exec(ctx, OpAllVersions, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	versions, _ := value.([]db.Version)
	return versions, nil
}

// TestPackageVersion reports whether the version is registered.
func (c *Client) TestPackageVersion(ctx context.Context, name, version string) (bool, error) {
	value, err := c.broker.Exec(ctx, OpPackageExists, PackageExists{Package: name, Version: version})
	if err != nil {
		return false, errors.WithStack(err)
	}
	return value.(bool), nil
}

// GetPendingBuilds returns versions still needing a build for the ABI.
func (c *Client) GetPendingBuilds(ctx context.Context, abi string, limit int) ([]db.PendingBuild, error) {
	value, err := c.broker.Exec(ctx, OpPendingBuilds, PendingBuilds{ABI: abi, Limit: limit})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	pending, _ := value.([]db.PendingBuild)
	return pending, nil
}

// LogBuild records one build attempt atomically and returns its id.
func (c *Client) LogBuild(ctx context.Context, build db.Build, files []db.File, deps []db.Dependency) (int64, error) {
	value, err := c.broker.Exec(ctx, OpLogBuild, LogBuild{
		Build:        build,
		Files:        files,
		Dependencies: deps,
	})
	if err != nil {
		return -1, errors.WithStack(err)
	}
	return value.(int64), nil
}

// GetBuild fetches one build attempt and its files.
func (c *Client) GetBuild(ctx context.Context, buildID int64) (db.Build, []db.File, error) {
	value, err := c.broker.Exec(ctx, OpGetBuild, GetBuild{BuildID: buildID})
	if err != nil {
		return db.Build{}, nil, errors.WithStack(err)
	}
	result := value.(BuildResult)
	return result.Build, result.Files, nil
}

// DeleteBuild removes a build attempt, returning the filenames of its
// artifacts so the caller can remove them from disk.
func (c *Client) DeleteBuild(ctx context.Context, buildID int64) ([]string, error) {
	value, err := c.broker.Exec(ctx, OpDeleteBuild, GetBuild{BuildID: buildID})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	filenames, _ := value.([]string)
	return filenames, nil
}

// GetPackageFiles returns the artifacts of a package.
func (c *Client) GetPackageFiles(ctx context.Context, name string) ([]db.File, error) {
	value, err := c.broker.Exec(ctx, OpPackageFiles, PackageFiles{Package: name})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	files, _ := value.([]db.File)
	return files, nil
}

// IndexPackages returns the packages that belong on the root index.
func (c *Client) IndexPackages(ctx context.Context) ([]string, error) {
	value, err := c.broker.Exec(ctx, OpIndexPackages, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	names, _ := value.([]string)
	return names, nil
}

// GetVersionBuilds returns the build ids recorded for a version.
func (c *Client) GetVersionBuilds(ctx context.Context, name, version string) ([]int64, error) {
	value, err := c.broker.Exec(ctx, OpVersionBuilds, VersionBuilds{Package: name, Version: version})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ids, _ := value.([]int64)
	return ids, nil
}

// LogDownload appends one download record.
func (c *Client) LogDownload(ctx context.Context, download db.Download) error {
	_, err := c.broker.Exec(ctx, OpLogDownload, download)
	return errors.WithStack(err)
}

// GetStatistics returns the farm-wide counters.
func (c *Client) GetStatistics(ctx context.Context) (db.Statistics, error) {
	value, err := c.broker.Exec(ctx, OpStatistics, nil)
	if err != nil {
		return db.Statistics{}, errors.WithStack(err)
	}
	return value.(db.Statistics), nil
}

// GetBuildABIs returns the set of ABIs the farm builds for.
func (c *Client) GetBuildABIs(ctx context.Context) ([]string, error) {
	value, err := c.broker.Exec(ctx, OpBuildABIs, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	abis, _ := value.([]string)
	return abis, nil
}

// GetPyPISerial returns the upstream changelog high-water mark.
func (c *Client) GetPyPISerial(ctx context.Context) (int64, error) {
	value, err := c.broker.Exec(ctx, OpGetSerial, nil)
	if err != nil {
		return -1, errors.WithStack(err)
	}
	return value.(int64), nil
}

// SetPyPISerial advances the upstream changelog high-water mark.
func (c *Client) SetPyPISerial(ctx context.Context, serial int64) error {
	_, err := c.broker.Exec(ctx, OpSetSerial, serial)
	return errors.WithStack(err)
}
