package db

import (
	"regexp"
	"strings"
	"time"
)

// Package is a project known to the farm, unique by canonical name.
// Skip holds a reason excluding the package from dispatch; empty means
// buildable.
type Package struct {
	Name string
	Skip string
}

// Version is one release of a package. Registering a version does not
// imply a build.
type Version struct {
	Package  string
	Version  string
	Released time.Time
	Skip     string
}

// Build is an immutable record of one build attempt by one slave.
type Build struct {
	BuildID  int64
	Package  string
	Version  string
	ABITag   string
	BuiltBy  string
	Duration time.Duration
	Status   bool
	BuiltAt  time.Time
	Output   string
}

// File is an artifact produced by a successful build.
type File struct {
	Filename          string
	BuildID           int64
	Filesize          int64
	Filehash          string
	PackageTag        string
	PackageVersionTag string
	PyVersionTag      string
	ABITag            string
	PlatformTag       string
}

// Dependency is an external requirement of a wheel, resolved by the
// named tool.
type Dependency struct {
	Filename   string
	Tool       string
	Dependency string
}

// Download is one access of a wheel recorded by the HTTP tier.
type Download struct {
	Filename      string
	AccessedBy    string
	AccessedAt    time.Time
	Arch          string
	DistroName    string
	DistroVersion string
	OSName        string
	OSVersion     string
	PyName        string
	PyVersion     string
}

// PendingBuild is a (package, version) pair that still needs a
// successful build for a given ABI.
type PendingBuild struct {
	Package  string
	Version  string
	Released time.Time
}

// Statistics is a snapshot of farm-wide counters for the status feed.
type Statistics struct {
	PackagesCount      int
	PackagesBuilt      int
	VersionsCount      int
	BuildsCount        int
	BuildsCountSuccess int
	BuildsCountLastHour int
	BuildsTime         time.Duration
	FilesCount         int
	DownloadsCount     int
}

var canonicalRe = regexp.MustCompile(`[-_.]+`)

// CanonicalName normalizes a package name the way the upstream index
// does: lower-cased, with runs of '-', '_' and '.' collapsed to a
// single '-'.
func CanonicalName(name string) string {
	return canonicalRe.ReplaceAllString(strings.ToLower(name), "-")
}
