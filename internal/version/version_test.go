package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetUsesLinkerValues(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = oldVersion, oldCommit, oldDate })

	Version, GitCommit, BuildDate = "1.4.0", "abc1234", "2026-10-01"
	info := Get()
	assert.Equal(t, BuildInfo{Version: "1.4.0", Commit: "abc1234", BuildDate: "2026-10-01", GoVersion: runtime.Version()}, info)
	assert.Equal(t, "leafcheck 1.4.0 (commit abc1234, built 2026-10-01)", String())
}

func TestGetDefaults(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.Commit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}
