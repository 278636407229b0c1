package cmd

import (
	"fmt"
	"runtime"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/batch"
	"github.com/MeKo-Tech/leafcheck/internal/config"
	"github.com/spf13/cobra"
)

// batchCmd represents the batch command for parallel image prediction.
var batchCmd = &cobra.Command{
	Use:   "batch <dir|files...>",
	Short: "Classify many leaf images in parallel",
	Long: `Classify every JPEG and PNG image in the given files and directories
using a pool of parallel workers. Failed images are reported next to the
successful ones; the command only fails on setup errors.

Examples:
  leafcheck batch photos/
  leafcheck batch photos/ --recursive --workers 8
  leafcheck batch a.jpg b.png --format json --output results.json
  leafcheck batch photos/ --format csv --record`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

// configToBatchConfig maps centralized configuration to batch.Config.
// Command flags override config file values.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) (*batch.Config, error) {
	f := cmd.Flags()
	bc := batch.DefaultConfig()

	bc.ModelsDir = cfg.Model.ModelsDir
	bc.ModelPath = cfg.Model.Path
	bc.LibraryPath = cfg.Model.LibraryPath
	bc.LabelsPath = cfg.Model.LabelsPath
	bc.AdvicePath = cfg.Model.AdvicePath
	bc.Normalization = cfg.Model.Normalization
	bc.ChannelOrder = cfg.Model.ChannelOrder
	bc.Layout = cfg.Model.Layout
	bc.InputSize = cfg.Model.InputSize
	bc.ResizeFilter = cfg.Model.ResizeFilter
	bc.ModelVersion = cfg.Model.Version
	bc.Threads = cfg.Model.NumThreads
	bc.GPU = cfg.GPU.Enabled
	bc.GPUDevice = cfg.GPU.Device

	if useStub(cmd) {
		b, err := cfg.PipelineBuilder()
		if err != nil {
			return nil, err
		}
		stub, err := newStubFor(b.Config().LabelsPath)
		if err != nil {
			return nil, err
		}
		bc.Stub = stub
	}

	bc.Format = cfg.Batch.Format
	if f.Changed("format") {
		bc.Format, _ = f.GetString("format")
	}
	bc.OutputFile, _ = f.GetString("output")
	bc.TopK, _ = f.GetInt("top-k")

	bc.Workers = cfg.Batch.Workers
	if f.Changed("workers") {
		bc.Workers, _ = f.GetInt("workers")
	}

	bc.Recursive = cfg.Batch.Recursive
	if f.Changed("recursive") {
		bc.Recursive, _ = f.GetBool("recursive")
	}
	bc.IncludePatterns, _ = f.GetStringSlice("include")
	bc.ExcludePatterns, _ = f.GetStringSlice("exclude")

	bc.ShowProgress, _ = f.GetBool("progress")
	bc.Quiet, _ = f.GetBool("quiet")
	bc.ShowStats, _ = f.GetBool("stats")
	bc.ProgressInterval, _ = f.GetDuration("progress-interval")

	return bc, nil
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	bc, err := configToBatchConfig(cfg, cmd)
	if err != nil {
		return err
	}

	cfg.Store.Enabled, _ = cmd.Flags().GetBool("record")
	applyHistoryFlags(cmd, cfg)
	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if history != nil {
		defer func() { _ = history.Close() }()
		bc.History = history
	}

	result, err := batch.ProcessBatch(cmd.Context(), args, bc)
	if err != nil {
		return fmt.Errorf("batch prediction failed: %w", err)
	}

	if err := result.SaveResults(cmd.OutOrStdout(), bc.Format, bc.OutputFile, bc.Quiet); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	if bc.ShowStats {
		result.PrintStats(cmd.ErrOrStderr(), bc.Quiet)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addModelFlags(batchCmd)

	batchCmd.Flags().StringP("format", "f", batch.FormatText, "output format: text, json, csv")
	batchCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	batchCmd.Flags().Int("top-k", 0, "predictions listed per image (default 5)")

	batchCmd.Flags().IntP("workers", "w", 0, fmt.Sprintf("number of parallel workers (default: %d)", runtime.NumCPU()))

	batchCmd.Flags().BoolP("recursive", "r", false, "recursively scan directories")
	batchCmd.Flags().StringSlice("include", []string{}, "file patterns to include (e.g. *.jpg)")
	batchCmd.Flags().StringSlice("exclude", []string{}, "file patterns to exclude")

	batchCmd.Flags().Bool("progress", true, "show progress bar on stderr")
	batchCmd.Flags().Bool("quiet", false, "suppress progress and summary output")
	batchCmd.Flags().Bool("stats", true, "show processing statistics on stderr")
	batchCmd.Flags().Duration("progress-interval", 100*time.Millisecond, "progress update interval")

	batchCmd.Flags().Bool("record", false, "record predictions in the history database")
	batchCmd.Flags().String("db", "", "prediction history database (default from config)")
}
