package config

import "fmt"

// Set with -ldflags "-X cookalert/internal/config.version=... -X ...commit=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func currentBuild() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (%s, built %s)", b.Version, b.Commit, b.BuildTime)
}
