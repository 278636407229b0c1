package batch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/MeKo-Tech/leafcheck/internal/store"
	"github.com/MeKo-Tech/leafcheck/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubConfig(t *testing.T, top int) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ModelsDir = t.TempDir()
	cfg.Stub = classifier.NewStubInferer(len(catalog.PlantVillage), top, 0.88)
	cfg.Quiet = true
	cfg.Workers = 2
	return cfg
}

func leafDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	data := testutil.EncodeJPEG(t, testutil.GenerateLeafImage(testutil.DefaultLeafImageConfig()), 90)
	for i := 0; i < n; i++ {
		testutil.WriteFile(t, dir, fmt.Sprintf("leaf-%02d.jpg", i), data)
	}
	return dir
}

func TestProcessBatchNoImageFiles(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "readme.txt", []byte("hi"))

	_, err := ProcessBatch(context.Background(), []string{dir}, stubConfig(t, 0))
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestProcessBatchInvalidPath(t *testing.T) {
	_, err := ProcessBatch(context.Background(), []string{"/does/not/exist"}, stubConfig(t, 0))
	assert.ErrorContains(t, err, "failed to discover image files")
}

func TestProcessBatchInvalidFormat(t *testing.T) {
	cfg := stubConfig(t, 0)
	cfg.Format = "yaml"
	_, err := ProcessBatch(context.Background(), []string{t.TempDir()}, cfg)
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestProcessBatchPredictsDirectory(t *testing.T) {
	dir := leafDir(t, 4)
	testutil.WriteFile(t, dir, "broken.png", []byte("nope"))

	res, err := ProcessBatch(context.Background(), []string{dir}, stubConfig(t, 30))
	require.NoError(t, err)
	require.Len(t, res.Files, 5)
	assert.Equal(t, 4, res.Summary.Succeeded)
	assert.Equal(t, 1, res.Summary.Failed)

	assert.Equal(t, filepath.Join(dir, "broken.png"), res.Files[0].Path, "lexical order")
	assert.Error(t, res.Files[0].Err)
	for _, f := range res.Files[1:] {
		require.NoError(t, f.Err)
		assert.Equal(t, catalog.PlantVillage[30], f.Result.Top.Label)
	}
}

func TestProcessBatchRecordsHistory(t *testing.T) {
	history, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer func() { _ = history.Close() }()

	cfg := stubConfig(t, 3)
	cfg.History = history
	res, err := ProcessBatch(context.Background(), []string{leafDir(t, 3)}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Recorded)

	recs, err := history.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, SourceBatch, r.Source)
		assert.Equal(t, catalog.PlantVillage[3], r.TopClassName)
	}
}

func TestProcessBatchBadNormalization(t *testing.T) {
	cfg := stubConfig(t, 0)
	cfg.Normalization = "zscore"
	_, err := ProcessBatch(context.Background(), []string{leafDir(t, 1)}, cfg)
	assert.ErrorContains(t, err, "failed to build pipeline")
}

func TestProcessBatchModelMissing(t *testing.T) {
	cfg := stubConfig(t, 0)
	cfg.Stub = nil
	_, err := ProcessBatch(context.Background(), []string{leafDir(t, 1)}, cfg)
	assert.ErrorContains(t, err, "failed to load model")
}

func TestResultSaveResults(t *testing.T) {
	res := &Result{Files: mockFiles(t)}

	var buf bytes.Buffer
	require.NoError(t, res.SaveResults(&buf, FormatText, "", false))
	assert.Contains(t, buf.String(), "# /leaves/scab.jpg")

	out := filepath.Join(t.TempDir(), "out.json")
	buf.Reset()
	require.NoError(t, res.SaveResults(&buf, FormatJSON, out, false))
	assert.Contains(t, buf.String(), "Results written to "+out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"images"`)

	buf.Reset()
	require.NoError(t, res.SaveResults(&buf, FormatCSV, out, true))
	assert.Empty(t, buf.String())

	assert.Error(t, res.SaveResults(&buf, "xml", "", false))
	assert.Error(t, res.SaveResults(&buf, FormatText, filepath.Join(t.TempDir(), "missing", "out.txt"), false))
}

func TestResultPrintStats(t *testing.T) {
	res := &Result{Summary: pipeline.Summarize(mockFiles(t), time.Second, 2), Recorded: 2}

	var buf bytes.Buffer
	res.PrintStats(&buf, true)
	assert.Empty(t, buf.String())

	res.PrintStats(&buf, false)
	out := buf.String()
	assert.Contains(t, out, "Total images: 2")
	assert.Contains(t, out, "Failed: 1")
	assert.Contains(t, out, "Recorded to history: 2")
}
