// Package version reports the rclink build set through -ldflags.
package version

import "runtime"

// Set with -ldflags "-X github.com/carverauto/rclink/pkg/version.version=..."
//
//nolint:gochecknoglobals // ldflags injection target
var (
	version = "dev"
	commit  = "unknown"
)

// Version returns the release version, or "dev" for local builds.
func Version() string {
	return version
}

// String renders version, commit and Go toolchain for -version output.
func String() string {
	return "rclink " + version + " (commit " + commit + ", " + runtime.Version() + ")"
}
