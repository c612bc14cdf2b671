// Package version holds build-time version information for the recall
// binary. The variables are populated via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/recall-go/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/recall-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/recall-go/internal/version.BuildDate=2026-01-01"
//
// Without ldflags (e.g. `go run`) the values fall back to readable defaults.
package version

import "fmt"

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String returns the one-line form printed by `recall version`.
func String() string {
	return fmt.Sprintf("recall %s (commit %s, built %s)", Version, Commit, BuildDate)
}
