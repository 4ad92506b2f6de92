// Package buildinfo reports which mims build is running.
//
// Release builds stamp the variables with
//
//	go build -ldflags "-X github.com/mims-dev/mims/internal/buildinfo.Version=v1.2.0 \
//	  -X github.com/mims-dev/mims/internal/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/mims-dev/mims/internal/buildinfo.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/mims
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// String renders the build for `mims --version` and the startup log line.
// Unstamped builds fall back to the VCS settings the go tool embeds.
func String() string {
	commit, date := Commit, Date
	if bi, ok := readBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && commit == "none":
				commit = shorten(s.Value)
			case s.Key == "vcs.time" && date == "unknown":
				date = s.Value
			}
		}
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, commit, date)
}

func shorten(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
