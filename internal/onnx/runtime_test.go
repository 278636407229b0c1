package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryName(t *testing.T) {
	tests := []struct {
		goos    string
		want    string
		wantErr bool
	}{
		{goos: "linux", want: "libonnxruntime.so"},
		{goos: "darwin", want: "libonnxruntime.dylib"},
		{goos: "windows", want: "onnxruntime.dll"},
		{goos: "plan9", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			got, err := libraryName(tt.goos)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetSystemLibraryPaths(t *testing.T) {
	gpu := getSystemLibraryPaths(true)
	cpu := getSystemLibraryPaths(false)

	assert.Equal(t, "/opt/onnxruntime/gpu/lib/libonnxruntime.so", gpu[0])
	assert.NotContains(t, cpu, "/opt/onnxruntime/gpu/lib/libonnxruntime.so")
}

func TestResolveLibraryPath_Explicit(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libonnxruntime.so")
	require.NoError(t, os.WriteFile(lib, []byte("stub"), 0o600))

	got, err := ResolveLibraryPath(lib, false)
	require.NoError(t, err)
	assert.Equal(t, lib, got)
}

func TestResolveLibraryPath_ExplicitMissing(t *testing.T) {
	_, err := ResolveLibraryPath(filepath.Join(t.TempDir(), "nope.so"), false)
	assert.Error(t, err)
}

func TestResolveLibraryPath_Env(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "custom.so")
	require.NoError(t, os.WriteFile(lib, []byte("stub"), 0o600))
	t.Setenv(EnvLibraryPath, lib)

	got, err := ResolveLibraryPath("", false)
	require.NoError(t, err)
	assert.Equal(t, lib, got)
}
