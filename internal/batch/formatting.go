package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/MeKo-Tech/leafcheck/internal/prediction"
)

// ClassScore is one ranked class of a batch image.
type ClassScore struct {
	Class             string  `json:"class"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent float64 `json:"confidence_percent"`
}

// ImageRecord is the per-image entry of the batch output.
type ImageRecord struct {
	Image             string       `json:"image"`
	Path              string       `json:"path"`
	Success           bool         `json:"success"`
	TopPrediction     string       `json:"top_prediction,omitempty"`
	TopConfidence     float64      `json:"top_confidence,omitempty"`
	PlantName         string       `json:"plant_name,omitempty"`
	DiseaseName       string       `json:"disease_name,omitempty"`
	IsHealthy         bool         `json:"is_healthy,omitempty"`
	RecommendedAction string       `json:"recommended_action,omitempty"`
	Predictions       []ClassScore `json:"predictions,omitempty"`
	ProcessingTimeMs  int64        `json:"processing_time_ms,omitempty"`
	Error             string       `json:"error,omitempty"`
}

// toRecords flattens file results into output rows with the top k classes.
func toRecords(results []pipeline.FileResult, k int) []ImageRecord {
	if k <= 0 {
		k = prediction.TopKMinimal
	}
	records := make([]ImageRecord, len(results))
	for i, fr := range results {
		rec := ImageRecord{Image: filepath.Base(fr.Path), Path: fr.Path}
		if fr.Err != nil || fr.Result == nil {
			rec.Error = prediction.Failure(fr.Err).Message
			records[i] = rec
			continue
		}
		r := fr.Result
		rec.Success = true
		rec.TopPrediction = r.Top.Label
		rec.TopConfidence = float64(r.Top.Confidence)
		rec.PlantName = r.Label.PlantName
		rec.DiseaseName = r.Label.DiseaseName
		rec.IsHealthy = r.Label.IsHealthy
		rec.RecommendedAction = r.Action
		rec.ProcessingTimeMs = r.ProcessingTime.Milliseconds()
		for _, e := range r.Ranking.Head(k) {
			rec.Predictions = append(rec.Predictions, ClassScore{
				Class:             e.Label,
				Confidence:        float64(e.Confidence),
				ConfidencePercent: e.Percent(),
			})
		}
		records[i] = rec
	}
	return records
}

// formatBatchResults formats the batch results in the specified format.
func formatBatchResults(results []pipeline.FileResult, summary pipeline.Summary, format string, k int) (string, error) {
	records := toRecords(results, k)
	switch format {
	case FormatJSON:
		return formatJSON(records, summary)
	case FormatCSV:
		return formatCSV(records)
	case FormatText, "":
		return formatText(records), nil
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}

// formatJSON formats results as JSON.
func formatJSON(records []ImageRecord, summary pipeline.Summary) (string, error) {
	out := struct {
		Images  []ImageRecord    `json:"images"`
		Summary pipeline.Summary `json:"summary"`
	}{Images: records, Summary: summary}

	bts, err := json.MarshalIndent(out, "", "  ")
	return string(bts), err
}

// formatCSV writes one row per ranked class, or one error row per failed image.
func formatCSV(records []ImageRecord) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	rows := [][]string{{"file", "rank", "class", "confidence", "confidence_percent", "plant", "disease", "healthy", "error"}}

	for _, rec := range records {
		if !rec.Success {
			rows = append(rows, []string{rec.Path, "0", "", "", "", "", "", "", rec.Error})
			continue
		}
		for j, p := range rec.Predictions {
			rows = append(rows, []string{
				rec.Path,
				strconv.Itoa(j + 1),
				p.Class,
				fmt.Sprintf("%.4f", p.Confidence),
				fmt.Sprintf("%.2f", p.ConfidencePercent),
				rec.PlantName,
				rec.DiseaseName,
				strconv.FormatBool(rec.IsHealthy),
				"",
			})
		}
	}

	if err := writer.WriteAll(rows); err != nil {
		return "", err
	}
	return output.String(), nil
}

// formatText formats results as a human-readable report.
func formatText(records []ImageRecord) string {
	var output strings.Builder
	for i, rec := range records {
		if i > 0 {
			output.WriteString("\n")
		}
		fmt.Fprintf(&output, "# %s\n", rec.Path)
		if !rec.Success {
			fmt.Fprintf(&output, "  error: %s\n", rec.Error)
			continue
		}
		fmt.Fprintf(&output, "  %s / %s (%.2f%%)\n", rec.PlantName, rec.DiseaseName, rec.TopConfidence*100)
		fmt.Fprintf(&output, "  action: %s\n", rec.RecommendedAction)
		for j, p := range rec.Predictions {
			fmt.Fprintf(&output, "  %d. %-45s %6.2f%%\n", j+1, p.Class, p.ConfidencePercent)
		}
	}
	return output.String()
}
