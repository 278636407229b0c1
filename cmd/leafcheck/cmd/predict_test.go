package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/leafcheck/internal/prediction"
	"github.com/MeKo-Tech/leafcheck/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictText(t *testing.T) {
	dir := isolate(t)
	img := writeLeafJPEG(t, dir, "leaf.jpg")

	res := executeCommand(t, "--stub-model", "predict", img)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, img)
	assert.Contains(t, res.stdout, "Plant:      Apple")
	assert.Contains(t, res.stdout, "Disease:    Apple_scab")
	assert.Contains(t, res.stdout, "Confidence: 91.00%")
	assert.Contains(t, res.stdout, "Healthy:    no")
	assert.Contains(t, res.stdout, "1. Apple___Apple_scab")
}

func TestPredictJSONSchemas(t *testing.T) {
	dir := isolate(t)
	img := writeLeafPNG(t, dir, "leaf.png")

	t.Run("minimal", func(t *testing.T) {
		res := executeCommand(t, "--stub-model", "predict", "--format", "json", img)
		require.NoError(t, res.err, res.stderr)
		var got prediction.MinimalResponse
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &got), res.stdout)
		assert.Equal(t, prediction.StatusSuccess, got.Status)
		assert.Equal(t, "Apple_scab", got.TopPrediction)
		assert.Equal(t, "Apple", got.PlantName)
		assert.Len(t, got.Predictions, prediction.TopKMinimal)
	})

	t.Run("detailed", func(t *testing.T) {
		res := executeCommand(t, "--stub-model", "predict", "-f", "json", "--schema", "detailed", img)
		require.NoError(t, res.err, res.stderr)
		var got prediction.DetailedResponse
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &got), res.stdout)
		assert.True(t, got.Success)
		assert.Equal(t, "leaf.png", got.ImageName)
		require.NotNil(t, got.TopPrediction)
		assert.Equal(t, "Apple___Apple_scab", got.TopPrediction.ClassName)
		assert.Len(t, got.AllPredictions, prediction.TopKDetailed)
	})

	t.Run("contract", func(t *testing.T) {
		res := executeCommand(t, "--stub-model", "predict", "-f", "json", "--schema", "contract", img)
		require.NoError(t, res.err, res.stderr)
		var got prediction.ContractResponse
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &got), res.stdout)
		assert.Equal(t, prediction.ContractMessage, got.Message)
		assert.Equal(t, "Apple___Apple_scab", got.TopPrediction)
	})
}

func TestPredictSeveralImagesWithFailure(t *testing.T) {
	dir := isolate(t)
	good := writeLeafJPEG(t, dir, "good.jpg")
	gif := testutil.WriteFile(t, dir, "leaf.gif",
		testutil.EncodeGIF(t, testutil.GenerateLeafImage(testutil.DefaultLeafImageConfig())))

	res := executeCommand(t, "--stub-model", "predict", "--format", "json", good, gif)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "1 of 2 images failed")

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got), res.stdout)
	require.Len(t, got, 2)
	assert.Equal(t, "success", got[0]["status"])
	assert.Equal(t, "error", got[1]["status"])
	assert.Contains(t, got[1]["message"], "only JPEG/PNG")
}

func TestPredictRecordsHistory(t *testing.T) {
	dir := isolate(t)
	img := writeLeafJPEG(t, dir, "leaf.jpg")
	db := filepath.Join(dir, "history.db")

	res := executeCommand(t, "--stub-model", "predict", "--record", "--db", db, img)
	require.NoError(t, res.err, res.stderr)

	res = executeCommand(t, "history", "list", "--db", db, "--format", "json")
	require.NoError(t, res.err, res.stderr)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &recs), res.stdout)
	require.Len(t, recs, 1)
	assert.Equal(t, "leaf.jpg", recs[0]["image_name"])
	assert.Equal(t, historySourceCLI, recs[0]["source"])
	assert.Equal(t, "Apple___Apple_scab", recs[0]["top_class_name"])
}

func TestPredictRejectsBadInput(t *testing.T) {
	dir := isolate(t)
	img := writeLeafJPEG(t, dir, "leaf.jpg")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no images", []string{"predict"}, "requires at least 1 arg"},
		{"bad format", []string{"predict", "--format", "xml", img}, "unsupported format"},
		{"bad schema", []string{"predict", "--schema", "full", img}, "unsupported schema"},
		{"bad normalization", []string{"predict", "--normalization", "zscore", img}, "normalization"},
		{"missing file", []string{"predict", filepath.Join(dir, "nope.jpg")}, "1 of 1 images failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := executeCommand(t, append([]string{"--stub-model"}, tt.args...)...)
			require.Error(t, res.err)
			assert.Contains(t, res.err.Error(), tt.want)
		})
	}
}

func TestPredictWithoutModelFails(t *testing.T) {
	dir := isolate(t)
	img := writeLeafJPEG(t, dir, "leaf.jpg")

	res := executeCommand(t, "predict", "--model", filepath.Join(dir, "missing.onnx"), img)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "failed to load model")
}
