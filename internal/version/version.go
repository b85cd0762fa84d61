package version

import "fmt"

var (
	// Version is the semantic version of the sentinel binary. Set via -ldflags.
	Version = "dev"
	Commit  = "unknown"
	// BuildDate is RFC3339 when set by the release build.
	BuildDate = "unknown"
)

// String renders the build information printed by `sentinel version`.
func String() string {
	return fmt.Sprintf("sentinel %s (commit %s, built %s)", Version, Commit, BuildDate)
}
