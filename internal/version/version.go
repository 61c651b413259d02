// Package version holds build metadata set with -ldflags.
package version

// Set at build time:
//
//	-ldflags "-X github.com/scottdensmore/VirtualBuddy/internal/version.Version=v1.2.3
//	          -X github.com/scottdensmore/VirtualBuddy/internal/version.Commit=abc123"
var (
	Version = "dev"
	Commit  = "unknown"
)
