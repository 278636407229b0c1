package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
	"github.com/MeKo-Tech/leafcheck/internal/models"
	"github.com/spf13/cobra"
)

// classesCmd lists the class labels the model predicts.
var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List class labels, plants or diseases",
	Long: `List the class labels in model output order, or the distinct plants
or diseases derived from them.

Examples:
  leafcheck classes
  leafcheck classes --plants
  leafcheck classes --diseases --format json
  leafcheck classes --labels my_labels.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		labelsPath := cfg.Model.LabelsPath
		if cmd.Flags().Changed("labels") {
			labelsPath, _ = cmd.Flags().GetString("labels")
		}
		if labelsPath == "" {
			labelsPath = models.GetLabelsPath(cfg.Model.ModelsDir)
		}

		cat := catalog.Default()
		if labelsPath != "" {
			loaded, err := catalog.LoadFile(labelsPath)
			if err != nil {
				return fmt.Errorf("failed to load labels: %w", err)
			}
			cat = loaded
		}

		plants, _ := cmd.Flags().GetBool("plants")
		diseases, _ := cmd.Flags().GetBool("diseases")
		format, _ := cmd.Flags().GetString("format")

		key, items := "classes", cat.Labels()
		switch {
		case plants && diseases:
			return errors.New("--plants and --diseases are mutually exclusive")
		case plants:
			key, items = "plants", cat.Plants()
		case diseases:
			key, items = "diseases", cat.Diseases()
		}
		return writeList(cmd.OutOrStdout(), format, key, items)
	},
}

// writeList prints items one per line, or as {"<key>": [...], "total": n}.
func writeList(w io.Writer, format, key string, items []string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{key: items, "total": len(items)})
	case "text":
		for _, item := range items {
			if _, err := fmt.Fprintln(w, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q (want json or text)", format)
	}
}

func init() {
	rootCmd.AddCommand(classesCmd)
	classesCmd.Flags().String("labels", "", "class labels file (default: embedded PlantVillage labels)")
	classesCmd.Flags().Bool("plants", false, "list distinct plants")
	classesCmd.Flags().Bool("diseases", false, "list distinct diseases")
	classesCmd.Flags().StringP("format", "f", "text", "output format (json, text)")
}
