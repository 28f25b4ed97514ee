// Package version carries build metadata injected at link time via
// -ldflags "-X github.com/voxelbase/filecache/internal/version.Version=...".
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Full returns a one-line version string for logs and the -version flag.
func Full() string {
	return fmt.Sprintf("filecached %s (commit %s, built %s)", Version, Commit, Date)
}
