// Package version holds build metadata injected with -ldflags "-X".
package version

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for `mindframe version`.
func String() string {
	return fmt.Sprintf("mindframe %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
