package config

import (
	"fmt"
	"runtime"
)

// Build identity, overridden at release time through
// -ldflags "-X scribdl/config.Version=v1.2.3 -X scribdl/config.GitCommit=abc123".
// Plain dev builds keep the defaults.
var (
	Version   = "dev"
	GitCommit = "local"
	BuildTime = "unknown"
)

// VersionString is the identity printed by `scribdl --version`.
func VersionString() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, runtime.Version())
}
