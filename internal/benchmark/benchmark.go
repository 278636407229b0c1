// Package benchmark measures prediction latency and memory use.
package benchmark

import (
	"context"
	"fmt"
	"image"
	"io"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
)

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64  // Currently allocated bytes
	TotalAllocBytes uint64  // Total allocated bytes (cumulative)
	SysBytes        uint64  // Total bytes from system
	NumGC           uint32  // Number of GC runs
	GCCPUFraction   float64 // Fraction of CPU time spent in GC
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		GCCPUFraction:   m.GCCPUFraction,
	}
}

// String returns a formatted string representation of memory stats.
func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d (%.2f%% CPU)",
		m.AllocBytes/1024,
		m.TotalAllocBytes/1024,
		m.SysBytes/1024,
		m.NumGC,
		m.GCCPUFraction*100)
}

// Result holds the outcome of one benchmark run. Latencies has one entry
// per completed iteration.
type Result struct {
	Name         string
	Iterations   int
	Duration     time.Duration
	Latencies    []time.Duration
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Error        error
}

// Average is the mean latency of the completed iterations.
func (r Result) Average() time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range r.Latencies {
		total += l
	}
	return total / time.Duration(len(r.Latencies))
}

// Percentile returns the nearest-rank latency for p in [0, 100].
func (r Result) Percentile(p float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(r.Latencies)
	slices.Sort(sorted)
	rank := int(p/100*float64(len(sorted)) + 0.5)
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

// Throughput is completed iterations per second.
func (r Result) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(len(r.Latencies)) / r.Duration.Seconds()
}

// AllocatedKB is the cumulative allocation during the run.
func (r Result) AllocatedKB() uint64 {
	return (r.MemoryAfter.TotalAllocBytes - r.MemoryBefore.TotalAllocBytes) / 1024
}

// String returns a one-line summary.
func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	return fmt.Sprintf("%s: %d iterations, avg: %v, p50: %v, p95: %v, total: %v, alloc: %d KB",
		r.Name, len(r.Latencies), r.Average().Round(time.Microsecond),
		r.Percentile(50).Round(time.Microsecond), r.Percentile(95).Round(time.Microsecond),
		r.Duration.Round(time.Millisecond), r.AllocatedKB())
}

// Report is the JSON form of a Result.
type Report struct {
	Name         string  `json:"name"`
	Iterations   int     `json:"iterations"`
	AverageMs    float64 `json:"average_ms"`
	P50Ms        float64 `json:"p50_ms"`
	P95Ms        float64 `json:"p95_ms"`
	MaxMs        float64 `json:"max_ms"`
	TotalMs      float64 `json:"total_ms"`
	PerSecond    float64 `json:"throughput_per_sec"`
	AllocatedKB  uint64  `json:"allocated_kb"`
	Error        string  `json:"error,omitempty"`
	SpeedupVsCPU float64 `json:"speedup_vs_cpu,omitempty"`
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// Report converts r for JSON output.
func (r Result) Report() Report {
	rep := Report{
		Name:        r.Name,
		Iterations:  len(r.Latencies),
		AverageMs:   ms(r.Average()),
		P50Ms:       ms(r.Percentile(50)),
		P95Ms:       ms(r.Percentile(95)),
		MaxMs:       ms(r.Percentile(100)),
		TotalMs:     ms(r.Duration),
		PerSecond:   r.Throughput(),
		AllocatedKB: r.AllocatedKB(),
	}
	if r.Error != nil {
		rep.Error = r.Error.Error()
	}
	return rep
}

// Speedup is how many times faster other ran than base, by average latency.
// Zero when either run has no latencies.
func Speedup(base, other Result) float64 {
	b, o := base.Average(), other.Average()
	if b == 0 || o == 0 {
		return 0
	}
	return float64(b) / float64(o)
}

// Benchmark represents a benchmark function.
type Benchmark struct {
	Name string
	Func func(ctx context.Context) error
}

// Suite runs named benchmarks and keeps the last results.
type Suite struct {
	benchmarks []Benchmark
	results    []Result
	mu         sync.Mutex
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Add adds a benchmark to the suite.
func (s *Suite) Add(name string, fn func(ctx context.Context) error) {
	s.benchmarks = append(s.benchmarks, Benchmark{Name: name, Func: fn})
}

// AddPrediction benchmarks PredictImage of img on p.
func (s *Suite) AddPrediction(name string, p *pipeline.Pipeline, img image.Image) {
	s.Add(name, func(ctx context.Context) error {
		_, err := p.PredictImage(ctx, img, name)
		return err
	})
}

// AddPredictionFile benchmarks PredictFile of path on p, decode included.
func (s *Suite) AddPredictionFile(name string, p *pipeline.Pipeline, path string) {
	s.Add(name, func(ctx context.Context) error {
		_, err := p.PredictFile(ctx, path)
		return err
	})
}

// Run runs a single benchmark with the specified number of iterations.
func (s *Suite) Run(ctx context.Context, name string, iterations int) Result {
	for _, b := range s.benchmarks {
		if b.Name == name {
			return runBenchmark(ctx, b, iterations)
		}
	}
	return Result{Name: name, Error: fmt.Errorf("benchmark '%s' not found", name)}
}

// RunAll runs every benchmark in the order added.
func (s *Suite) RunAll(ctx context.Context, iterations int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = make([]Result, 0, len(s.benchmarks))
	for _, b := range s.benchmarks {
		s.results = append(s.results, runBenchmark(ctx, b, iterations))
	}
	return s.results
}

// runBenchmark stops at the first failing iteration or when ctx ends.
func runBenchmark(ctx context.Context, b Benchmark, iterations int) Result {
	runtime.GC()
	res := Result{Name: b.Name, Iterations: iterations, MemoryBefore: GetMemoryStats()}
	res.Latencies = make([]time.Duration, 0, iterations)

	start := time.Now()
	for range iterations {
		if err := ctx.Err(); err != nil {
			res.Error = err
			break
		}
		t := time.Now()
		if err := b.Func(ctx); err != nil {
			res.Error = err
			break
		}
		res.Latencies = append(res.Latencies, time.Since(t))
	}
	res.Duration = time.Since(start)
	res.MemoryAfter = GetMemoryStats()
	return res
}

// Results returns the last RunAll results.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// WriteResults prints the last results, one line each.
func (s *Suite) WriteResults(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Benchmark Results:")
	_, _ = fmt.Fprintln(w, "==================")
	for _, r := range s.Results() {
		_, _ = fmt.Fprintln(w, r.String())
	}
}
