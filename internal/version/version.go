// Package version exposes build metadata stamped in via ldflags.
package version

var (
	// Version is the release version (git tag or "dev")
	Version = "dev"
	// Commit is the git commit hash the binary was built from
	Commit = "dev"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String joins the build metadata into a single display line.
func String() string {
	return Version + " (" + Commit + ", built " + BuildTime + ")"
}
