package cmd

import (
	"encoding/json"
	"testing"

	"github.com/MeKo-Tech/leafcheck/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	isolate(t)

	res := executeCommand(t, "version")
	require.NoError(t, res.err)
	assert.Equal(t, version.String()+"\n", res.stdout)

	res = executeCommand(t, "version", "--json")
	require.NoError(t, res.err)
	var got version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	assert.Equal(t, version.Get(), got)
}
