package prediction

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plantVillageResult(t *testing.T, top string, confidence float32) *Result {
	t.Helper()
	cat := catalog.Default()
	idx := cat.Index(top)
	require.GreaterOrEqual(t, idx, 0, "label %s not in catalog", top)

	scores := make([]float32, cat.Len())
	rest := (1 - confidence) / float32(cat.Len()-1)
	for i := range scores {
		scores[i] = rest
	}
	scores[idx] = confidence
	// a distinct runner-up so the order is easy to assert
	scores[(idx+1)%cat.Len()] = rest * 2

	r, err := NewResult(scores, cat, catalog.DefaultAdviceTable(), Meta{
		ImageName:      "leaf.jpg",
		ProcessingTime: 1500 * time.Millisecond,
		ModelVersion:   "ResNet101",
		ImageSize:      224,
	})
	require.NoError(t, err)
	return r
}

func toMap(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestNewResult(t *testing.T) {
	r := plantVillageResult(t, "Apple___Apple_scab", 0.91)

	assert.Equal(t, "Apple___Apple_scab", r.Top.Label)
	assert.Equal(t, "Apple", r.Label.PlantName)
	assert.Equal(t, "Apple_scab", r.Label.DiseaseName)
	assert.False(t, r.Label.IsHealthy)
	assert.Equal(t, catalog.DefaultAdvice["apple_scab"], r.Action)
	assert.Len(t, r.Ranking, catalog.Default().Len())
}

func TestNewResultNoScores(t *testing.T) {
	_, err := NewResult(nil, catalog.Default(), nil, Meta{})
	assert.ErrorIs(t, err, ErrNoScores)
}

func TestNewResultUnknownDiseaseFallsBack(t *testing.T) {
	r := plantVillageResult(t, "Tomato___Late_blight", 0.8)
	assert.Equal(t, catalog.FallbackAdvice, r.Action)
}

func TestMinimal(t *testing.T) {
	r := plantVillageResult(t, "Corn_(maize)___Common_rust_", 0.87654)
	m := Minimal(r)

	assert.Equal(t, "success", m.Status)
	assert.Len(t, m.Predictions, TopKMinimal)
	assert.Contains(t, m.Predictions, "Corn_(maize)___Common_rust_")
	assert.Equal(t, "Common_rust_", m.TopPrediction)
	assert.Equal(t, 0.8765, m.TopConfidence)
	assert.Equal(t, "Corn (maize)", m.PlantName)
	assert.Equal(t, "Common_rust_", m.DiseaseName)
	assert.False(t, m.IsHealthy)
	assert.Equal(t, catalog.FallbackAdvice, m.RecommendedAction)
	assert.Equal(t, int64(1500), m.ProcessingTimeMs)
	assert.Equal(t, MinimalMetadata{ModelVersion: "ResNet101", ImageSize: 224, ClassIndex: r.Top.Index}, m.Metadata)

	fields := toMap(t, m)
	for _, key := range []string{
		"status", "predictions", "topPrediction", "topConfidence", "plantName", "diseaseName",
		"isHealthy", "recommendedAction", "symptoms", "metadata", "processingTimeMs",
	} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, []any{}, fields["symptoms"])
}

func TestMinimalHealthy(t *testing.T) {
	m := Minimal(plantVillageResult(t, "Blueberry___healthy", 0.99))
	assert.True(t, m.IsHealthy)
	assert.Equal(t, "Healthy", m.DiseaseName)
	assert.Equal(t, "healthy", m.TopPrediction)
}

func TestDetailed(t *testing.T) {
	r := plantVillageResult(t, "Grape___Black_rot", 0.7)
	d := Detailed(r)

	assert.True(t, d.Success)
	assert.Equal(t, "leaf.jpg", d.ImageName)
	require.NotNil(t, d.TopPrediction)
	assert.Equal(t, "Grape___Black_rot", d.TopPrediction.ClassName)
	assert.InDelta(t, 70.0, d.TopPrediction.ConfidencePercent, 1e-4)
	assert.Len(t, d.AllPredictions, TopKDetailed)
	assert.Equal(t, d.AllPredictions[0], *d.TopPrediction)
	assert.InDelta(t, 1.5, d.ProcessingTime, 1e-9)

	fields := toMap(t, d)
	assert.NotContains(t, fields, "error")
	top := fields["top_prediction"].(map[string]any)
	assert.Contains(t, top, "class_name")
	assert.Contains(t, top, "confidence")
	assert.Contains(t, top, "confidence_percent")
}

func TestDetailedFailure(t *testing.T) {
	d := DetailedFailure("bad.gif", errors.New("unsupported image format"), 20*time.Millisecond)

	assert.False(t, d.Success)
	assert.Nil(t, d.TopPrediction)
	fields := toMap(t, d)
	assert.Equal(t, false, fields["success"])
	assert.Equal(t, "bad.gif", fields["image_name"])
	assert.Equal(t, "unsupported image format", fields["error"])
	assert.InDelta(t, 0.02, fields["processing_time"], 1e-9)
	assert.NotContains(t, fields, "all_predictions")
}

func TestContract(t *testing.T) {
	r := plantVillageResult(t, "Cherry_(including_sour)___Powdery_mildew", 0.66)
	c := Contract(r)

	assert.Equal(t, "success", c.Status)
	assert.Equal(t, ContractMessage, c.Message)
	assert.Equal(t, "Cherry_(including_sour)___Powdery_mildew", c.TopPrediction)
	assert.InDelta(t, 0.66, c.TopConfidence, 1e-6)
	assert.Equal(t, catalog.DefaultAdvice["powdery_mildew"], c.RecommendedAction)
	require.Len(t, c.Predictions, TopKDetailed)
	assert.Equal(t, c.TopPrediction, c.Predictions[0].Disease)

	fields := toMap(t, c)
	for _, key := range []string{"status", "message", "top_prediction", "top_confidence", "recommended_action", "predictions"} {
		assert.Contains(t, fields, key)
	}
	row := fields["predictions"].([]any)[0].(map[string]any)
	assert.Contains(t, row, "disease")
	assert.Contains(t, row, "confidence_score")
	assert.Contains(t, row, "confidence_percent")
}

func TestViewsAgreeOnTopClass(t *testing.T) {
	r := plantVillageResult(t, "Potato___Early_blight", 0.55)

	m, d, c := Minimal(r), Detailed(r), Contract(r)
	assert.Equal(t, r.Top.Label, d.TopPrediction.ClassName)
	assert.Equal(t, r.Top.Label, c.TopPrediction)
	assert.Equal(t, r.Label.Condition, m.TopPrediction)
	assert.InDelta(t, c.TopConfidence, d.TopPrediction.Confidence, 1e-12)
}

func TestFailure(t *testing.T) {
	assert.Equal(t, ErrorResponse{Status: "error", Message: "boom"}, Failure(errors.New("boom")))
	assert.Equal(t, "internal error", Failure(nil).Message)
}
