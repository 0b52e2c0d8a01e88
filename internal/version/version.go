// Package version holds build-time version information for the docqa binary.
// The variables are populated via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/docqa-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/docqa-go/internal/version.Commit=abc1234"
//
// Without ldflags the values fall back to "dev"/"unknown".
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the short git SHA the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC build date in RFC3339 format.
	BuildDate = "unknown"
)

// String renders a single-line description used by `docqa version` and the
// server's startup log.
func String() string {
	return fmt.Sprintf("docqa %s (commit: %s, built: %s, %s)",
		Version, Commit, BuildDate, runtime.Version())
}
