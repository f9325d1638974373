// Package version reports the build of the tilefetch binary
package version

import "runtime/debug"

// BuildInfo identifies a build
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// set with -ldflags "-X tilefetch/internal/core/version.version=v0.3.0 ..."
var (
	version = "dev"
	commit  = ""
	date    = ""
)

// Info returns the linker supplied values, filling commit and date from the
// embedded VCS stamp when the linker left them empty
func Info() BuildInfo {
	return fromBuild(BuildInfo{Version: version, Commit: commit, Date: date}, readBuild)
}

var readBuild = debug.ReadBuildInfo

func fromBuild(b BuildInfo, read func() (*debug.BuildInfo, bool)) BuildInfo {
	if b.Commit != "" && b.Date != "" {
		return b
	}
	bi, ok := read()
	if !ok || bi == nil {
		return withUnknown(b)
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "" {
				b.Date = s.Value
			}
		}
	}
	return withUnknown(b)
}

func withUnknown(b BuildInfo) BuildInfo {
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}

// String renders "version (commit, date)"
func (b BuildInfo) String() string { return b.Version + " (" + b.Commit + ", " + b.Date + ")" }
