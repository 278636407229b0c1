package cmd

import (
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/leafcheck/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckWithStubModel(t *testing.T) {
	isolate(t)

	res := executeCommand(t, "--stub-model", "check")
	require.NoError(t, res.err, res.stderr)
	assert.NotContains(t, res.stdout, "ONNX Runtime")
	assert.Contains(t, res.stdout, "✓ Catalog: 38 classes, 14 plants")
	assert.Contains(t, res.stdout, "Artifacts in ")
	assert.Contains(t, res.stdout, "- resnet101-plantvillage")
	assert.Contains(t, res.stdout, "✓ Model loaded (ResNet101, input 224x224")
	assert.Contains(t, res.stdout, "✓ Probe prediction: Apple___Apple_scab (91.00%)")
	assert.Contains(t, res.stdout, "All checks passed")
}

func TestCheckCustomCatalog(t *testing.T) {
	dir := isolate(t)
	labels := testutil.WriteFile(t, dir, "labels.txt", []byte("Rose___healthy\nRose___Black_spot\nTulip___healthy\n"))

	res := executeCommand(t, "--stub-model", "check", "--labels", labels, "--model-version", "rose-v2")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "✓ Catalog: 3 classes, 2 plants")
	assert.Contains(t, res.stdout, "- class-labels")
	assert.Contains(t, res.stdout, "(rose-v2, input 224x224")
	assert.Contains(t, res.stdout, "Rose___healthy (91.00%)")
}

func TestCheckFailures(t *testing.T) {
	dir := isolate(t)

	res := executeCommand(t, "check", "--onnx-lib", filepath.Join(dir, "libonnxruntime.so"))
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "ONNX Runtime check failed")

	res = executeCommand(t, "--stub-model", "check", "--labels", filepath.Join(dir, "none.txt"))
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "load labels")
}
