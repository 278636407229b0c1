// Package batch predicts every image in a set of files and directories and
// renders the results as json, csv or text.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
)

// ErrNoImages is returned when discovery finds nothing to predict.
var ErrNoImages = errors.New("no image files found")

// ProcessBatch discovers images under paths and predicts them in parallel.
// Per-file failures are part of the result; only setup errors and
// cancellation are returned as errors.
func ProcessBatch(ctx context.Context, paths []string, config *Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	files, err := collectPhotos(paths, config.Recursive, fileFilter{include: config.IncludePatterns, exclude: config.ExcludePatterns})
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}

	var progress pipeline.ProgressCallback
	if config.ShowProgress && !config.Quiet {
		progress = pipeline.NewConsoleProgressCallback(os.Stderr, "Predicting: ").
			WithUpdateInterval(config.ProgressInterval)
	}

	pl, err := buildPipeline(config, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() {
		if err := pl.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing pipeline: %v\n", err)
		}
	}()

	if err := pl.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	results, summary, err := processImagesParallel(ctx, pl, files, progress)
	if err != nil {
		return nil, fmt.Errorf("batch prediction interrupted: %w", err)
	}

	return &Result{
		Files:    results,
		Summary:  summary,
		TopK:     config.TopK,
		Recorded: recordHistory(ctx, config.History, results),
	}, nil
}

// Result holds the outcome of a batch run.
type Result struct {
	Files    []pipeline.FileResult
	Summary  pipeline.Summary
	TopK     int
	Recorded int // predictions written to history
}

// FormatResults formats the batch results in the specified format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r.Files, r.Summary, format, r.TopK)
}

// SaveResults writes the formatted results to outputFile, or to w when
// outputFile is empty.
func (r *Result) SaveResults(w io.Writer, format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
		}
		return nil
	}
	_, err = fmt.Fprint(w, output)
	return err
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer, quiet bool) {
	if quiet {
		return
	}
	s := r.Summary
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total images: %d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Succeeded: %d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", s.Workers)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", s.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Avg per image: %v\n", s.AveragePerImage.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.1f images/sec\n", s.ThroughputPerSec)
	if r.Recorded > 0 {
		_, _ = fmt.Fprintf(w, "  Recorded to history: %d\n", r.Recorded)
	}
}
