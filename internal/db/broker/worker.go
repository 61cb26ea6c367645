package broker

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db"
)

// Oracle is the domain query surface one worker needs. It is satisfied
// by *db.DB.
type Oracle interface {
	AddNewPackage(name string) (bool, error)
	AddNewPackageVersion(name, version string, released time.Time) (bool, error)
	SkipPackage(name, reason string) error
	SkipPackageVersion(name, version, reason string) error
	GetAllPackages() ([]string, error)
	GetAllPackageVersions() ([]db.Version, error)
	TestPackageVersion(name, version string) (bool, error)
	PendingBuilds(abi string, limit int) ([]db.PendingBuild, error)
	LogBuild(build db.Build, files []db.File, deps []db.Dependency) (int64, error)
	GetBuild(buildID int64) (db.Build, []db.File, error)
	DeleteBuild(buildID int64) ([]string, error)
	GetPackageFiles(name string) ([]db.File, error)
	IndexPackages() ([]string, error)
	GetVersionBuilds(name, version string) ([]int64, error)
	LogDownload(download db.Download) error
	GetStatistics() (db.Statistics, error)
	GetBuildABIs() ([]string, error)
	GetPyPISerial() (int64, error)
	SetPyPISerial(serial int64) error
	Reconnect() error
	Close() error
}

// Worker executes one operation at a time against its own connection.
type Worker struct {
	oracle Oracle
}

// NewWorker creates a Worker over the given oracle.
func NewWorker(oracle Oracle) *Worker {
	return &Worker{
		oracle: oracle,
	}
}

// Execute runs the tagged operation inside a transaction and returns
// the result, or a typed error on failure.
func (w *Worker) Execute(op Op, payload interface{}) (interface{}, error) {
	switch op {
	case OpAllPackages:
		names, err := w.oracle.GetAllPackages()
		return names, errors.WithStack(err)

	case OpAllVersions:
		versions, err := w.oracle.GetAllPackageVersions()
		return versions, errors.WithStack(err)

	case OpNewPackage:
		p, ok := payload.(NewPackage)
		if !ok {
			return nil, errPayload(op, payload)
		}
		created, err := w.oracle.AddNewPackage(p.Name)
		return created, errors.WithStack(err)

	case OpNewVersion:
		p, ok := payload.(NewVersion)
		if !ok {
			return nil, errPayload(op, payload)
		}
		created, err := w.oracle.AddNewPackageVersion(p.Package, p.Version, p.Released)
		return created, errors.WithStack(err)

	case OpSkipPackage:
		p, ok := payload.(SkipPackage)
		if !ok {
			return nil, errPayload(op, payload)
		}
		return nil, errors.WithStack(w.oracle.SkipPackage(p.Package, p.Reason))

	case OpSkipVersion:
		p, ok := payload.(SkipVersion)
		if !ok {
			return nil, errPayload(op, payload)
		}
		return nil, errors.WithStack(w.oracle.SkipPackageVersion(p.Package, p.Version, p.Reason))

	case OpPackageExists:
		p, ok := payload.(PackageExists)
		if !ok {
			return nil, errPayload(op, payload)
		}
		exists, err := w.oracle.TestPackageVersion(p.Package, p.Version)
		return exists, errors.WithStack(err)

	case OpPendingBuilds:
		p, ok := payload.(PendingBuilds)
		if !ok {
			return nil, errPayload(op, payload)
		}
		pending, err := w.oracle.PendingBuilds(p.ABI, p.Limit)
		return pending, errors.WithStack(err)

	case OpLogBuild:
		p, ok := payload.(LogBuild)
		if !ok {
			return nil, errPayload(op, payload)
		}
		buildID, err := w.oracle.LogBuild(p.Build, p.Files, p.Dependencies)
		return buildID, errors.WithStack(err)

	case OpGetBuild:
		p, ok := payload.(GetBuild)
		if !ok {
			return nil, errPayload(op, payload)
		}
		build, files, err := w.oracle.GetBuild(p.BuildID)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return BuildResult{Build: build, Files: files}, nil

	case OpDeleteBuild:
		p, ok := payload.(GetBuild)
		if !ok {
			return nil, errPayload(op, payload)
		}
		filenames, err := w.oracle.DeleteBuild(p.BuildID)
		return filenames, errors.WithStack(err)

	case OpPackageFiles:
		p, ok := payload.(PackageFiles)
		if !ok {
			return nil, errPayload(op, payload)
		}
		files, err := w.oracle.GetPackageFiles(p.Package)
		return files, errors.WithStack(err)

	case OpIndexPackages:
		names, err := w.oracle.IndexPackages()
		return names, errors.WithStack(err)

	case OpVersionBuilds:
		p, ok := payload.(VersionBuilds)
		if !ok {
			return nil, errPayload(op, payload)
		}
		ids, err := w.oracle.GetVersionBuilds(p.Package, p.Version)
		return ids, errors.WithStack(err)

	case OpLogDownload:
		p, ok := payload.(db.Download)
		if !ok {
			return nil, errPayload(op, payload)
		}
		return nil, errors.WithStack(w.oracle.LogDownload(p))

	case OpStatistics:
		stats, err := w.oracle.GetStatistics()
		return stats, errors.WithStack(err)

	case OpBuildABIs:
		abis, err := w.oracle.GetBuildABIs()
		return abis, errors.WithStack(err)

	case OpGetSerial:
		serial, err := w.oracle.GetPyPISerial()
		return serial, errors.WithStack(err)

	case OpSetSerial:
		p, ok := payload.(int64)
		if !ok {
			return nil, errPayload(op, payload)
		}
		return nil, errors.WithStack(w.oracle.SetPyPISerial(p))

	default:
		return nil, errors.Errorf("unknown operation %q", op)
	}
}

// Recover re-opens the worker's connection.
func (w *Worker) Recover() error {
	return errors.WithStack(w.oracle.Reconnect())
}

// Close releases the worker's connection.
func (w *Worker) Close() error {
	return errors.WithStack(w.oracle.Close())
}

func errPayload(op Op, payload interface{}) error {
	return errors.Errorf("unexpected payload %T for operation %q", payload, op)
}

// isFatal reports whether the error means the worker's connection is no
// longer usable and needs re-opening.
func isFatal(err error) bool {
	cause := errors.Cause(err)
	if cause == nil {
		return false
	}
	msg := cause.Error()
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "bad connection") ||
		strings.Contains(msg, "disk I/O error")
}
