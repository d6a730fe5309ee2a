// Package version carries build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/stroke.report/internal/version.Version=...".
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata for a -version flag.
func String(command string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", command, Version, GitSHA, BuildTime)
}
