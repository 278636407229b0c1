package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/MeKo-Tech/leafcheck/internal/benchmark"
	"github.com/MeKo-Tech/leafcheck/internal/config"
	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/spf13/cobra"
)

// benchReport is the JSON output of the bench command.
type benchReport struct {
	System  map[string]any     `json:"system"`
	CPU     []benchmark.Report `json:"cpu"`
	GPU     []benchmark.Report `json:"gpu,omitempty"`
	GPUNote string             `json:"gpu_note,omitempty"`
	Profile map[string]any     `json:"profile"`
}

var benchCmd = &cobra.Command{
	Use:   "bench [image...]",
	Short: "Measure prediction latency",
	Long: `Run repeated predictions and report latency percentiles, throughput and
allocations. Without images a synthetic leaf at the model input size is used.`,
	Example: `  leafcheck bench --iterations 50
  leafcheck bench leaf.jpg --compare-gpu
  leafcheck bench leaf.jpg --stub-model --format json`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		iterations, _ := cmd.Flags().GetInt("iterations")
		format, _ := cmd.Flags().GetString("format")
		compareGPU, _ := cmd.Flags().GetBool("compare-gpu")
		if iterations < 1 {
			return fmt.Errorf("invalid iterations: %d (must be at least 1)", iterations)
		}
		if format != "json" && format != "text" {
			return fmt.Errorf("unsupported format %q (want json or text)", format)
		}
		if compareGPU && useStub(cmd) {
			return errors.New("--compare-gpu needs a real model")
		}

		cfg, err := commandConfig(cmd)
		if err != nil {
			return err
		}
		cfg.GPU.Enabled = false
		cpu, err := loadPipeline(cmd.Context(), cmd, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = cpu.Close() }()

		report := benchReport{
			System: map[string]any{
				"goos":       runtime.GOOS,
				"goarch":     runtime.GOARCH,
				"num_cpu":    runtime.NumCPU(),
				"go_version": runtime.Version(),
			},
		}

		suite := benchSuite(cpu, args)
		cpuResults := suite.RunAll(cmd.Context(), iterations)
		report.CPU = reports(cpuResults, nil)
		if GetConfig().Verbose {
			suite.WriteResults(cmd.ErrOrStderr())
		}
		report.Profile = cpu.Profiler.Snapshot()

		if compareGPU {
			gpuResults, note := benchGPU(cmd, cfg, args, iterations)
			report.GPUNote = note
			if gpuResults != nil {
				report.GPU = reports(gpuResults, cpuResults)
			}
		}

		if format == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		writeBenchText(cmd.OutOrStdout(), report, iterations)
		for _, r := range cpuResults {
			if r.Error != nil {
				return fmt.Errorf("benchmark %s failed: %w", r.Name, r.Error)
			}
		}
		return nil
	},
}

// benchSuite adds one benchmark per image, or the synthetic leaf.
func benchSuite(pl *pipeline.Pipeline, paths []string) *benchmark.Suite {
	suite := benchmark.NewSuite()
	if len(paths) == 0 {
		size := pl.Config().Preprocess.Size
		suite.AddPrediction(fmt.Sprintf("synthetic-%d", size), pl, probeImage(size))
		return suite
	}
	for _, p := range paths {
		suite.AddPredictionFile(filepath.Base(p), pl, p)
	}
	return suite
}

// benchGPU repeats the run on a GPU pipeline. A GPU that cannot load is
// reported, not fatal.
func benchGPU(cmd *cobra.Command, cfg *config.Config, paths []string, iterations int) ([]benchmark.Result, string) {
	gpuCfg := *cfg
	gpuCfg.GPU.Enabled = true
	gpu, err := loadPipeline(cmd.Context(), cmd, &gpuCfg)
	if err != nil {
		slog.Warn("GPU pipeline unavailable", "error", err)
		return nil, fmt.Sprintf("GPU not available: %v", err)
	}
	defer func() { _ = gpu.Close() }()
	return benchSuite(gpu, paths).RunAll(cmd.Context(), iterations), ""
}

func reports(results, baseline []benchmark.Result) []benchmark.Report {
	out := make([]benchmark.Report, len(results))
	for i, r := range results {
		out[i] = r.Report()
		if i < len(baseline) {
			out[i].SpeedupVsCPU = benchmark.Speedup(baseline[i], r)
		}
	}
	return out
}

func writeBenchText(w io.Writer, report benchReport, iterations int) {
	_, _ = fmt.Fprintf(w, "leafcheck prediction benchmark (%d iterations, %v/%v, %v CPUs)\n\n",
		iterations, report.System["goos"], report.System["goarch"], report.System["num_cpu"])
	writeBenchSection(w, "CPU", report.CPU)
	if report.GPUNote != "" {
		_, _ = fmt.Fprintf(w, "\nGPU: %s\n", report.GPUNote)
	} else if len(report.GPU) > 0 {
		_, _ = fmt.Fprintln(w)
		writeBenchSection(w, "GPU", report.GPU)
	}
	_, _ = fmt.Fprintf(w, "\nStage averages (ms): decode %.2f, preprocess %.2f, inference %.2f, rank %.2f\n",
		stageAvg(report.Profile, pipeline.StageDecode), stageAvg(report.Profile, pipeline.StagePreprocess),
		stageAvg(report.Profile, pipeline.StageInference), stageAvg(report.Profile, pipeline.StageRank))
}

func writeBenchSection(w io.Writer, title string, reps []benchmark.Report) {
	_, _ = fmt.Fprintf(w, "%s:\n", title)
	for _, r := range reps {
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "  %-28s ERROR %s\n", r.Name, r.Error)
			continue
		}
		line := fmt.Sprintf("  %-28s avg %8.2f ms  p50 %8.2f ms  p95 %8.2f ms  %7.1f/s  %d KB",
			r.Name, r.AverageMs, r.P50Ms, r.P95Ms, r.PerSecond, r.AllocatedKB)
		if r.SpeedupVsCPU > 0 {
			line += fmt.Sprintf("  %.2fx vs CPU", r.SpeedupVsCPU)
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func stageAvg(profile map[string]any, stage string) float64 {
	v, _ := profile[stage+"_ms_avg"].(float64)
	return v
}

func init() {
	rootCmd.AddCommand(benchCmd)
	addModelFlags(benchCmd)
	benchCmd.Flags().IntP("iterations", "n", 10, "predictions per image")
	benchCmd.Flags().StringP("format", "f", "text", "output format (json, text)")
	benchCmd.Flags().Bool("compare-gpu", false, "repeat the run with CUDA and report the speedup")
}
