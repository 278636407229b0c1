package batch

import (
	"context"
	"log/slog"

	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/MeKo-Tech/leafcheck/internal/prediction"
	"github.com/MeKo-Tech/leafcheck/internal/store"
)

// SourceBatch tags history records written by batch runs.
const SourceBatch = "batch"

// processImagesParallel predicts every file with the pipeline worker pool.
func processImagesParallel(ctx context.Context, pl *pipeline.Pipeline, files []string,
	progress pipeline.ProgressCallback) ([]pipeline.FileResult, pipeline.Summary, error) {
	cfg := pl.Config().Parallel
	cfg.ProgressCallback = progress
	return pl.PredictFiles(ctx, files, cfg)
}

// recordHistory appends successful predictions to the store. Write
// failures are logged and do not fail the batch.
func recordHistory(ctx context.Context, history *store.Store, results []pipeline.FileResult) int {
	if history == nil {
		return 0
	}
	written := 0
	for _, r := range results {
		if r.Err != nil || r.Result == nil {
			continue
		}
		if _, err := history.Record(ctx, store.FromResult(r.Result, SourceBatch, prediction.TopKDetailed)); err != nil {
			slog.Warn("failed to record prediction", "file", r.Path, "error", err)
			continue
		}
		written++
	}
	return written
}
