package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version (set via ldflags at build time)
	Version = "dev"
	// GitCommit is the git SHA (set via ldflags at build time)
	GitCommit = "unknown"
	// BuildDate is the build date (set via ldflags at build time)
	BuildDate = "unknown"
)

// Info is the build metadata reported by the service
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"commit"`
	BuildDate string `json:"built"`
	GoVersion string `json:"go"`
}

// GetInfo returns the build metadata
func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

// GetVersion returns the full version information
func GetVersion() string {
	info := GetInfo()
	return fmt.Sprintf("favprobe %s (commit: %s, built: %s, go: %s)",
		info.Version, info.GitCommit, info.BuildDate, info.GoVersion)
}

// UserAgent returns the default User-Agent sent to probed hosts
func UserAgent() string {
	return "Mozilla/5.0 (compatible; favprobe/" + Version + ")"
}
