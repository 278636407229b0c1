package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/config"
	"github.com/MeKo-Tech/leafcheck/internal/store"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

// historyCmd groups the prediction history queries.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the prediction history",
	Long: `Query predictions recorded by the server and by predict/batch --record.

Examples:
  leafcheck history list --limit 20
  leafcheck history show 42
  leafcheck history stats --format json`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent predictions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withHistory(cmd, func(h *store.Store, format string) error {
			recs, err := h.List(cmd.Context(), store.ClampLimit(limit))
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), recs)
			}
			writeRecordTable(cmd.OutOrStdout(), recs)
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one prediction with its ranked classes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := cast.ToUintE(args[0])
		if err != nil || id == 0 {
			return fmt.Errorf("invalid prediction id %q", args[0])
		}
		return withHistory(cmd, func(h *store.Store, format string) error {
			rec, err := h.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), rec)
			}
			writeRecordDetail(cmd.OutOrStdout(), rec)
			return nil
		})
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show totals, the most frequent classes and the average processing time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(cmd, func(h *store.Store, format string) error {
			st, err := h.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), st)
			}
			writeStats(cmd.OutOrStdout(), st)
			return nil
		})
	},
}

// withHistory opens the configured database for the duration of fn.
func withHistory(cmd *cobra.Command, fn func(h *store.Store, format string) error) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "text" {
		return fmt.Errorf("unsupported format %q (want json or text)", format)
	}

	cfg := GetConfig()
	path := cfg.Store.Path
	if cmd.Flags().Changed("db") {
		path, _ = cmd.Flags().GetString("db")
	}
	if path == "" {
		path = config.DefaultStorePath
	}

	h, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open prediction history: %w", err)
	}
	defer func() { _ = h.Close() }()
	return fn(h, format)
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRecordTable(w io.Writer, recs []store.Record) {
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(w, "No predictions recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCREATED\tSOURCE\tIMAGE\tTOP CLASS\tCONFIDENCE")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%.2f%%\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Source, r.ImageName,
			r.TopClassName, r.TopConfidence*100)
	}
	_ = tw.Flush()
}

func writeRecordDetail(w io.Writer, r *store.Record) {
	_, _ = fmt.Fprintf(w, "Prediction %d\n", r.ID)
	_, _ = fmt.Fprintf(w, "  Created:    %s\n", r.CreatedAt.Local().Format(time.DateTime))
	_, _ = fmt.Fprintf(w, "  Source:     %s\n", r.Source)
	_, _ = fmt.Fprintf(w, "  Image:      %s\n", r.ImageName)
	_, _ = fmt.Fprintf(w, "  Top class:  %s (%.2f%%)\n", r.TopClassName, r.TopConfidence*100)
	_, _ = fmt.Fprintf(w, "  Time:       %.3fs\n", r.ProcessingTime)
	for _, d := range r.Details {
		_, _ = fmt.Fprintf(w, "    %d. %-50s %6.2f%%\n", d.Rank, d.ClassName, d.ConfidencePercent)
	}
}

func writeStats(w io.Writer, st store.Stats) {
	_, _ = fmt.Fprintf(w, "Total predictions: %d\n", st.TotalCount)
	if st.AverageProcessingTime != nil {
		_, _ = fmt.Fprintf(w, "Average processing time: %.3fs\n", *st.AverageProcessingTime)
	}
	if len(st.TopClasses) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "Top classes:")
	for _, c := range st.TopClasses {
		_, _ = fmt.Fprintf(w, "  %-50s %d\n", c.Class, c.Count)
	}
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyStatsCmd)

	historyCmd.PersistentFlags().String("db", "", "prediction history database (default from config)")
	historyCmd.PersistentFlags().StringP("format", "f", "text", "output format (json, text)")
	historyListCmd.Flags().IntP("limit", "n", store.DefaultListLimit, "number of predictions to list")
}
