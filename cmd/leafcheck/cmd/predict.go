package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/prediction"
	"github.com/MeKo-Tech/leafcheck/internal/store"
	"github.com/spf13/cobra"
)

// Response schemas selectable with --schema.
const (
	schemaMinimal  = "minimal"
	schemaDetailed = "detailed"
	schemaContract = "contract"
)

var schemas = []string{schemaMinimal, schemaDetailed, schemaContract}

// historySourceCLI marks predictions recorded by the predict and batch commands.
const historySourceCLI = "cli"

// predictCmd represents the predict command.
var predictCmd = &cobra.Command{
	Use:   "predict <image> [image...]",
	Short: "Classify leaf images",
	Long: `Classify one or more JPEG or PNG leaf images and print the plant,
the condition and the recommended action.

JSON output uses the same schemas as the HTTP API: minimal (/predict),
detailed (/api/v1/predict) or contract (/backend/predict). Several
images produce a JSON array.

Examples:
  leafcheck predict leaf.jpg
  leafcheck predict leaf.jpg --format json --schema detailed
  leafcheck predict *.png --record`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		schema, _ := cmd.Flags().GetString("schema")
		if format != "json" && format != "text" {
			return fmt.Errorf("unsupported format %q (want json or text)", format)
		}
		if !slices.Contains(schemas, schema) {
			return fmt.Errorf("unsupported schema %q (want one of %v)", schema, schemas)
		}

		cfg, err := commandConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Store.Enabled, _ = cmd.Flags().GetBool("record")
		applyHistoryFlags(cmd, cfg)

		ctx := cmd.Context()
		pl, err := loadPipeline(ctx, cmd, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = pl.Close() }()

		history, err := openHistory(cfg)
		if err != nil {
			return err
		}
		if history != nil {
			defer func() { _ = history.Close() }()
		}

		outcomes := make([]predictOutcome, 0, len(args))
		failed := 0
		for _, path := range args {
			start := time.Now()
			res, err := pl.PredictFile(ctx, path)
			outcomes = append(outcomes, predictOutcome{path: path, result: res, err: err, elapsed: time.Since(start)})
			if err != nil {
				failed++
				slog.Debug("Prediction failed", "image", path, "error", err)
				continue
			}
			if history != nil {
				if _, err := history.Record(ctx, store.FromResult(res, historySourceCLI, 0)); err != nil {
					slog.Warn("Failed to record prediction", "image", path, "error", err)
				}
			}
		}

		out := cmd.OutOrStdout()
		if format == "json" {
			if err := writePredictJSON(out, outcomes, schema); err != nil {
				return err
			}
		} else {
			writePredictText(out, outcomes)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d images failed", failed, len(args))
		}
		return nil
	},
}

// predictOutcome is the result or error for one image argument.
type predictOutcome struct {
	path    string
	result  *prediction.Result
	err     error
	elapsed time.Duration
}

// view projects the outcome into the selected schema.
func (o predictOutcome) view(schema string) any {
	switch schema {
	case schemaDetailed:
		if o.err != nil {
			return prediction.DetailedFailure(o.path, o.err, o.elapsed)
		}
		return prediction.Detailed(o.result)
	case schemaContract:
		if o.err != nil {
			return prediction.Failure(o.err)
		}
		return prediction.Contract(o.result)
	default:
		if o.err != nil {
			return prediction.Failure(o.err)
		}
		return prediction.Minimal(o.result)
	}
}

func writePredictJSON(w io.Writer, outcomes []predictOutcome, schema string) error {
	var v any
	if len(outcomes) == 1 {
		v = outcomes[0].view(schema)
	} else {
		views := make([]any, len(outcomes))
		for i, o := range outcomes {
			views[i] = o.view(schema)
		}
		v = views
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}

func writePredictText(w io.Writer, outcomes []predictOutcome) {
	for i, o := range outcomes {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "%s\n", o.path)
		if o.err != nil {
			_, _ = fmt.Fprintf(w, "  Error: %v\n", o.err)
			continue
		}
		r := o.result
		_, _ = fmt.Fprintf(w, "  Plant:      %s\n", r.Label.PlantName)
		_, _ = fmt.Fprintf(w, "  Disease:    %s\n", r.Label.DiseaseName)
		_, _ = fmt.Fprintf(w, "  Confidence: %.2f%%\n", r.Top.Percent())
		_, _ = fmt.Fprintf(w, "  Healthy:    %s\n", yesNo(r.Label.IsHealthy))
		_, _ = fmt.Fprintf(w, "  Action:     %s\n", r.Action)
		_, _ = fmt.Fprintf(w, "  Top predictions:\n")
		for rank, e := range r.Ranking.Head(prediction.TopKDetailed) {
			_, _ = fmt.Fprintf(w, "    %d. %-50s %6.2f%%\n", rank+1, e.Label, e.Percent())
		}
		_, _ = fmt.Fprintf(w, "  Time:       %v\n", r.ProcessingTime.Round(time.Millisecond))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(predictCmd)
	addModelFlags(predictCmd)

	predictCmd.Flags().StringP("format", "f", "text", "output format (json, text)")
	predictCmd.Flags().String("schema", schemaMinimal, "JSON schema ("+strings.Join(schemas, ", ")+")")
	predictCmd.Flags().Bool("record", false, "record predictions in the history database")
	predictCmd.Flags().String("db", "", "prediction history database (default from config)")
}
