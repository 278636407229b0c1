package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/prediction"
	"github.com/MeKo-Tech/leafcheck/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProgress captures every callback for assertions.
type recordingProgress struct {
	mu      sync.Mutex
	started int
	items   []FileResult
	dones   []int
	summary *Summary
}

func (r *recordingProgress) OnStart(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = total
}

func (r *recordingProgress) OnItem(done, _ int, item FileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	r.dones = append(r.dones, done)
}

func (r *recordingProgress) OnComplete(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &s
}

func writeLeafFiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	data := leafPNG(t)
	paths := make([]string, n)
	for i := range paths {
		paths[i] = testutil.WriteFile(t, dir, fmt.Sprintf("leaf-%02d.png", i), data)
	}
	return paths
}

func TestDefaultParallelConfig(t *testing.T) {
	cfg := DefaultParallelConfig()
	assert.Positive(t, cfg.MaxWorkers)
	assert.Nil(t, cfg.ProgressCallback)
}

func TestPredictFilesEmptyInput(t *testing.T) {
	p, _ := newStubPipeline(t, 0, 0.9)
	_, _, err := p.PredictFiles(context.Background(), nil, DefaultParallelConfig())
	assert.ErrorContains(t, err, "no images provided")
}

func TestPredictFilesNilPipeline(t *testing.T) {
	var p *Pipeline
	_, _, err := p.PredictFiles(context.Background(), []string{"a.png"}, DefaultParallelConfig())
	assert.ErrorContains(t, err, "pipeline not initialized")
}

func TestPredictFilesKeepsOrder(t *testing.T) {
	for _, workers := range []int{1, 4, 32} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			p, stub := newStubPipeline(t, 7, 0.95)
			paths := writeLeafFiles(t, 9)
			progress := &recordingProgress{}

			results, summary, err := p.PredictFiles(context.Background(), paths,
				ParallelConfig{MaxWorkers: workers, ProgressCallback: progress})
			require.NoError(t, err)
			require.Len(t, results, len(paths))
			for i, r := range results {
				assert.Equal(t, i, r.Index)
				assert.Equal(t, paths[i], r.Path)
				require.NoError(t, r.Err)
				assert.Equal(t, catalog.PlantVillage[7], r.Result.Top.Label)
				assert.Equal(t, filepath.Base(paths[i]), r.Result.ImageName)
			}
			assert.Equal(t, int64(len(paths)), stub.Calls())

			assert.Equal(t, len(paths), summary.Total)
			assert.Equal(t, len(paths), summary.Succeeded)
			assert.Zero(t, summary.Failed)
			assert.LessOrEqual(t, summary.Workers, len(paths))

			assert.Equal(t, len(paths), progress.started)
			assert.Len(t, progress.items, len(paths))
			for i, d := range progress.dones {
				assert.Equal(t, i+1, d)
			}
			require.NotNil(t, progress.summary)
			assert.Equal(t, summary, *progress.summary)
		})
	}
}

func TestPredictFilesContinuesPastFailures(t *testing.T) {
	p, _ := newStubPipeline(t, 0, 0.9)
	paths := writeLeafFiles(t, 3)
	bad := testutil.WriteFile(t, t.TempDir(), "broken.jpg", []byte("definitely not a jpeg"))
	paths = append(paths[:1], append([]string{bad}, paths[1:]...)...)

	results, summary, err := p.PredictFiles(context.Background(), paths, ParallelConfig{MaxWorkers: 2})
	require.NoError(t, err)
	assert.Error(t, results[1].Err)
	assert.Nil(t, results[1].Result)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
}

func TestPredictFilesCancelled(t *testing.T) {
	stub := classifier.NewStubInferer(len(catalog.PlantVillage), 0, 0.9)
	stub.Delay = 50 * time.Millisecond
	p, err := NewBuilder().WithModelsDir(t.TempDir()).WithStubInferer(stub).Build()
	require.NoError(t, err)
	require.NoError(t, p.Load(context.Background()))

	paths := writeLeafFiles(t, 20)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	results, summary, err := p.PredictFiles(ctx, paths, ParallelConfig{MaxWorkers: 2})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Len(t, results, len(paths))
	assert.Positive(t, summary.Failed)
	for i, r := range results {
		assert.Equal(t, paths[i], r.Path)
		assert.True(t, (r.Result == nil) != (r.Err == nil), "exactly one of result and error at %d", i)
	}
}

func TestSummarize(t *testing.T) {
	results := []FileResult{
		{Result: nil, Err: assert.AnError},
		{Result: &prediction.Result{}},
		{Result: &prediction.Result{}},
	}
	s := Summarize(results, 2*time.Second, 4)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 4, s.Workers)
	assert.Equal(t, time.Second, s.AveragePerImage)
	assert.InDelta(t, 1.0, s.ThroughputPerSec, 1e-9)

	empty := Summarize(nil, 0, 1)
	assert.Zero(t, empty.AveragePerImage)
	assert.Zero(t, empty.ThroughputPerSec)
}
