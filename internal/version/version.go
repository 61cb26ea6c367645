package version

// Version contains the piwheels version number
var Version = "0.1.0"

// APIVersion contains the API base version. Only bumped for backward
// incompatible changes.
var APIVersion = "1.0"
