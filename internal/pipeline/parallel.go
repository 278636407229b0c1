package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/prediction"
)

// ParallelConfig holds configuration for multi-file prediction.
type ParallelConfig struct {
	MaxWorkers       int              // Number of parallel workers (0 = runtime.NumCPU())
	ProgressCallback ProgressCallback // Optional progress reporting
}

// DefaultParallelConfig returns sensible defaults for parallel processing.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

// FileResult is the outcome for one input file. Exactly one of Result and
// Err is set.
type FileResult struct {
	Index  int
	Path   string
	Result *prediction.Result
	Err    error
}

// Summary holds statistics about a multi-file run.
type Summary struct {
	Total            int           `json:"total_images"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	Workers          int           `json:"workers"`
	Duration         time.Duration `json:"duration_ns"`
	AveragePerImage  time.Duration `json:"average_per_image_ns"`
	ThroughputPerSec float64       `json:"throughput_per_sec"`
}

// Summarize calculates run statistics from results.
func Summarize(results []FileResult, duration time.Duration, workers int) Summary {
	s := Summary{Total: len(results), Workers: workers, Duration: duration}
	for _, r := range results {
		if r.Err == nil && r.Result != nil {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	if s.Succeeded > 0 && duration > 0 {
		s.AveragePerImage = duration / time.Duration(s.Succeeded)
		s.ThroughputPerSec = float64(s.Succeeded) / duration.Seconds()
	}
	return s
}

// PredictFiles predicts every path with a worker pool. Results keep input
// order. A failing file does not stop the others; cancelling ctx does, and
// files that were not reached carry ctx.Err().
func (p *Pipeline) PredictFiles(ctx context.Context, paths []string, config ParallelConfig) ([]FileResult, Summary, error) {
	if len(paths) == 0 {
		return nil, Summary{}, errors.New("no images provided")
	}
	if p == nil || p.Classifier == nil {
		return nil, Summary{}, errors.New("pipeline not initialized")
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	if config.MaxWorkers > len(paths) {
		config.MaxWorkers = len(paths)
	}
	progress := config.ProgressCallback
	if progress == nil {
		progress = NoOpProgressCallback{}
	}

	start := time.Now()
	progress.OnStart(len(paths))

	jobs := make(chan int)
	out := make(chan FileResult)

	var wg sync.WaitGroup
	for range config.MaxWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := p.PredictFile(ctx, paths[i])
				out <- FileResult{Index: i, Path: paths[i], Result: res, Err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range paths {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]FileResult, len(paths))
	seen := make([]bool, len(paths))
	done := 0
	for r := range out {
		results[r.Index] = r
		seen[r.Index] = true
		done++
		progress.OnItem(done, len(paths), r)
	}

	for i := range results {
		if !seen[i] {
			results[i] = FileResult{Index: i, Path: paths[i], Err: ctx.Err()}
		}
	}

	summary := Summarize(results, time.Since(start), config.MaxWorkers)
	progress.OnComplete(summary)
	return results, summary, ctx.Err()
}
