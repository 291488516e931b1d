package version

import (
	"encoding/json"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stamp sets the linker values and the embedded module data for one test.
func stamp(t *testing.T, version, commit, date string, bi *debug.BuildInfo) {
	t.Helper()
	oldV, oldC, oldD, oldRead := Version, Commit, Date, readBuildInfo
	t.Cleanup(func() {
		Version, Commit, Date, readBuildInfo = oldV, oldC, oldD, oldRead
	})
	Version, Commit, Date = version, commit, date
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
}

func installed(version string, settings ...debug.BuildSetting) *debug.BuildInfo {
	return &debug.BuildInfo{Main: debug.Module{Path: "github.com/Aman-CERP/coderecall", Version: version}, Settings: settings}
}

func TestGetInfo_LinkerStampsWin(t *testing.T) {
	// Given a release build that also embeds module data
	stamp(t, "1.4.0", "3f2c1a9d0b7e55aa", "2026-03-01T10:00:00Z", installed("v0.9.0",
		debug.BuildSetting{Key: "vcs.revision", Value: "ffffffff"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))

	// When
	info := GetInfo()

	// Then the stamped values are reported unchanged
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "3f2c1a9d0b7e55aa", info.Commit)
	assert.Equal(t, "2026-03-01T10:00:00Z", info.Date)
	assert.False(t, info.Dirty)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
}

func TestGetInfo_GoInstallUsesModuleData(t *testing.T) {
	// Given an unstamped binary built from a tagged module with a dirty tree
	stamp(t, "dev", "", "", installed("v1.5.2",
		debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-04-02T08:30:00Z"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))

	// When
	info := GetInfo()

	// Then version and VCS data come from the binary itself
	assert.Equal(t, "1.5.2", info.Version)
	assert.Equal(t, "0123456789abcdef0123", info.Commit)
	assert.Equal(t, "2026-04-02T08:30:00Z", info.Date)
	assert.True(t, info.Dirty)
}

func TestGetInfo_LocalBuildWithoutData(t *testing.T) {
	// Given a `go build` from a checkout without VCS stamping
	stamp(t, "dev", "", "", installed("(devel)"))

	info := GetInfo()

	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.Commit)
	assert.Equal(t, "unknown", info.Date)
	assert.Equal(t, "dev", Short())
}

func TestString(t *testing.T) {
	stamp(t, "dev", "", "", installed("v2.0.0",
		debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-04-02T08:30:00Z"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))

	got := String()

	assert.Equal(t, "coderecall 2.0.0 (0123456789ab+dirty, 2026-04-02T08:30:00Z, "+
		GoVersion+" "+runtime.GOOS+"/"+runtime.GOARCH+")", got)
}

func TestUserAgent(t *testing.T) {
	// Given no build info at all
	stamp(t, "1.4.0", "", "", nil)

	// Then the agent names the product, version and platform
	assert.Equal(t, "coderecall/1.4.0 ("+runtime.GOOS+"/"+runtime.GOARCH+")", UserAgent())
	assert.Equal(t, "1.4.0", Short())
}

func TestBuildInfo_JSONOmitsCleanTree(t *testing.T) {
	stamp(t, "1.4.0", "abc", "2026-03-01T10:00:00Z", nil)

	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "1.4.0", fields["version"])
	assert.Equal(t, "abc", fields["commit"])
	assert.Contains(t, fields, "go_version")
	assert.NotContains(t, fields, "dirty")
}
