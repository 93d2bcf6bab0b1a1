// Package version holds build metadata for the promptrelay binary.
package version

//nolint:revive // Overwritten via -ldflags "-X" at release build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
