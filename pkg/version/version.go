// Package version reports which coderecall build is running.
//
// Release builds stamp the values with the linker:
//
//	-ldflags "-X github.com/Aman-CERP/coderecall/pkg/version.Version=1.4.0
//	          -X github.com/Aman-CERP/coderecall/pkg/version.Commit=$(git rev-parse HEAD)
//	          -X github.com/Aman-CERP/coderecall/pkg/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Binaries built with `go install` carry no stamps, so missing values are
// taken from the module and VCS data the toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Linker-stamped values. Empty or "dev" means not stamped.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// GoVersion is the toolchain that built the binary.
var GoVersion = runtime.Version()

const unknown = "unknown"

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// BuildInfo is the resolved build identity, as printed by `version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo resolves the build identity. Linker stamps win over embedded
// module data; anything still missing reads "unknown".
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi, ok := readBuildInfo(); ok && bi != nil {
		info = fromModule(info, bi)
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = unknown
	}
	if info.Date == "" {
		info.Date = unknown
	}
	return info
}

func fromModule(info BuildInfo, bi *debug.BuildInfo) BuildInfo {
	if (info.Version == "" || info.Version == "dev") && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = strings.TrimPrefix(bi.Main.Version, "v")
	}
	stamped := info.Commit != ""
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if !stamped {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			if !stamped {
				info.Dirty = s.Value == "true"
			}
		}
	}
	return info
}

// Short returns the resolved version number.
func Short() string {
	return GetInfo().Version
}

// String is the one-line form printed by `coderecall version`, for example
// "coderecall 1.4.0 (3f2c1a9d0b7e+dirty, 2026-03-01T10:00:00Z, go1.25.5 linux/amd64)".
func String() string {
	info := GetInfo()
	commit := info.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if info.Dirty {
		commit += "+dirty"
	}
	return fmt.Sprintf("coderecall %s (%s, %s, %s %s/%s)",
		info.Version, commit, info.Date, info.GoVersion, info.OS, info.Arch)
}

// UserAgent identifies coderecall to embedding and vector services.
func UserAgent() string {
	info := GetInfo()
	return fmt.Sprintf("coderecall/%s (%s/%s)", info.Version, info.OS, info.Arch)
}
