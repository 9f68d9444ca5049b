// Package version holds build information injected at link time.
package version

import "runtime"

// Set via -ldflags at build time.
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
)

// GoInfo describes the toolchain that built the binary.
var GoInfo = runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH
