package broker

import (
	"time"

	"github.com/pdtopdog/piwheels/internal/db"
)

// Op tags a database operation. Unknown tags are surfaced to the caller
// as protocol violations.
type Op string

const (
	// OpAllPackages requests the set of all known package names.
	OpAllPackages Op = "ALLPKGS"
	// OpAllVersions requests the set of all known (package, version)
	// pairs.
	OpAllVersions Op = "ALLVERS"
	// OpNewPackage registers a new package.
	OpNewPackage Op = "NEWPKG"
	// OpNewVersion registers a new (package, version) pair.
	OpNewVersion Op = "NEWVER"
	// OpSkipPackage records a skip reason on a package.
	OpSkipPackage Op = "SKIPPKG"
	// OpSkipVersion records a skip reason on a version.
	OpSkipVersion Op = "SKIPVER"
	// OpPackageExists asks whether a (package, version) pair is known.
	OpPackageExists Op = "PKGEXISTS"
	// OpPendingBuilds requests the builds still needed for an ABI.
	OpPendingBuilds Op = "PENDING"
	// OpLogBuild records a build attempt with its files and
	// dependencies.
	OpLogBuild Op = "LOGBUILD"
	// OpGetBuild fetches one build attempt and its files.
	OpGetBuild Op = "GETBUILD"
	// OpDeleteBuild removes a build attempt and its files.
	OpDeleteBuild Op = "DELBUILD"
	// OpPackageFiles requests the artifacts of a package.
	OpPackageFiles Op = "PKGFILES"
	// OpLogDownload appends one download record.
	OpLogDownload Op = "LOGDOWNLOAD"
	// OpStatistics requests the farm-wide counters.
	OpStatistics Op = "GETSTATS"
	// OpBuildABIs requests the set of ABIs the farm builds for.
	OpBuildABIs Op = "GETABIS"
	// OpIndexPackages requests the packages that belong on the root
	// index.
	OpIndexPackages Op = "INDEXPKGS"
	// OpVersionBuilds requests the build ids recorded for a version.
	OpVersionBuilds Op = "VERBUILDS"
	// OpGetSerial requests the upstream changelog high-water mark.
	OpGetSerial Op = "GETPYPI"
	// OpSetSerial advances the upstream changelog high-water mark.
	OpSetSerial Op = "SETPYPI"
)

// NewPackage is the payload of OpNewPackage.
type NewPackage struct {
	Name string
}

// NewVersion is the payload of OpNewVersion.
type NewVersion struct {
	Package  string
	Version  string
	Released time.Time
}

// SkipPackage is the payload of OpSkipPackage.
type SkipPackage struct {
	Package string
	Reason  string
}

// SkipVersion is the payload of OpSkipVersion.
type SkipVersion struct {
	Package string
	Version string
	Reason  string
}

// PackageExists is the payload of OpPackageExists.
type PackageExists struct {
	Package string
	Version string
}

// PendingBuilds is the payload of OpPendingBuilds.
type PendingBuilds struct {
	ABI   string
	Limit int
}

// LogBuild is the payload of OpLogBuild.
type LogBuild struct {
	Build        db.Build
	Files        []db.File
	Dependencies []db.Dependency
}

// GetBuild is the payload of OpGetBuild and OpDeleteBuild.
type GetBuild struct {
	BuildID int64
}

// PackageFiles is the payload of OpPackageFiles.
type PackageFiles struct {
	Package string
}

// VersionBuilds is the payload of OpVersionBuilds.
type VersionBuilds struct {
	Package string
	Version string
}

// BuildResult is the value returned by OpGetBuild.
type BuildResult struct {
	Build db.Build
	Files []db.File
}
