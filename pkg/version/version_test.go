package version

import (
	"bytes"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillFromBuildInfo(t *testing.T) {
	info := Info{Version: "dev", Branch: "unknown", Revision: "unknown", BuildDate: "unknown"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})
	assert.Equal(t, "v1.4.0", info.Version)
	assert.Equal(t, "abc123", info.Revision)
	assert.Equal(t, "2026-01-02T03:04:05Z", info.BuildDate)
	assert.True(t, info.Modified)
}

func TestFillFromBuildInfo_KeepsStampedValues(t *testing.T) {
	info := Info{Version: "2.0.1", Revision: "deadbeef", BuildDate: "today"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
	})
	assert.Equal(t, "2.0.1", info.Version)
	assert.Equal(t, "deadbeef", info.Revision)
	assert.Equal(t, "today", info.BuildDate)
}

func TestFprint(t *testing.T) {
	var buf bytes.Buffer
	FprintFull(&buf, "up2datectl")
	assert.Contains(t, buf.String(), "up2datectl ")
	assert.Contains(t, buf.String(), runtime.Version())

	buf.Reset()
	Fprint(&buf, "up2dated")
	assert.Regexp(t, `^up2dated \S+\n$`, buf.String())
}
