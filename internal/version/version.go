// Package version exposes build metadata stamped at link time.
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags "-X github.com/HerbHall/pulsewatch/internal/version.Version=v1.2.3".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("pulsewatch %s (commit %s, built %s, %s)", Version, GitCommit, BuildDate, runtime.Version())
}
