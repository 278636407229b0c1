package prediction

import (
	"math"
	"time"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	// ContractMessage is the success message expected by the backend.
	ContractMessage = "Prediction successful"
)

// ErrorResponse is the failure shape of the minimal and contract schemas.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Failure builds the {status:"error", message} shape.
func Failure(err error) ErrorResponse {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return ErrorResponse{Status: StatusError, Message: msg}
}

// MinimalMetadata describes the model that produced a minimal response.
type MinimalMetadata struct {
	ModelVersion string `json:"modelVersion"`
	ImageSize    int    `json:"imageSize"`
	ClassIndex   int    `json:"classIndex"`
}

// MinimalResponse is served by /predict, /predict-file and the realtime endpoint.
type MinimalResponse struct {
	Status            string             `json:"status"`
	Predictions       map[string]float64 `json:"predictions"`
	TopPrediction     string             `json:"topPrediction"`
	TopConfidence     float64            `json:"topConfidence"`
	PlantName         string             `json:"plantName"`
	DiseaseName       string             `json:"diseaseName"`
	IsHealthy         bool               `json:"isHealthy"`
	RecommendedAction string             `json:"recommendedAction"`
	Symptoms          []string           `json:"symptoms"`
	Metadata          MinimalMetadata    `json:"metadata"`
	ProcessingTimeMs  int64              `json:"processingTimeMs"`
}

// Minimal projects r into the minimal schema. topPrediction is the raw
// condition segment of the top label, as existing clients expect.
func Minimal(r *Result) MinimalResponse {
	top := r.Ranking.Head(TopKMinimal)
	preds := make(map[string]float64, len(top))
	for _, e := range top {
		preds[e.Label] = float64(e.Confidence)
	}
	return MinimalResponse{
		Status:            StatusSuccess,
		Predictions:       preds,
		TopPrediction:     r.Label.Condition,
		TopConfidence:     round4(float64(r.Top.Confidence)),
		PlantName:         r.Label.PlantName,
		DiseaseName:       r.Label.DiseaseName,
		IsHealthy:         r.Label.IsHealthy,
		RecommendedAction: r.Action,
		Symptoms:          []string{},
		Metadata: MinimalMetadata{
			ModelVersion: r.ModelVersion,
			ImageSize:    r.ImageSize,
			ClassIndex:   r.Top.Index,
		},
		ProcessingTimeMs: r.ProcessingTime.Milliseconds(),
	}
}

// DetailedPrediction is one row of the detailed schema.
type DetailedPrediction struct {
	ClassName         string  `json:"class_name"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent float64 `json:"confidence_percent"`
}

// DetailedResponse is served by /api/v1/predict. Failures keep this shape
// with success=false and error set.
type DetailedResponse struct {
	Success        bool                 `json:"success"`
	ImageName      string               `json:"image_name"`
	TopPrediction  *DetailedPrediction  `json:"top_prediction,omitempty"`
	AllPredictions []DetailedPrediction `json:"all_predictions,omitempty"`
	Error          string               `json:"error,omitempty"`
	ProcessingTime float64              `json:"processing_time"` // seconds
}

// Detailed projects r into the detailed schema with the top five classes.
func Detailed(r *Result) DetailedResponse {
	top := r.Ranking.Head(TopKDetailed)
	all := make([]DetailedPrediction, len(top))
	for i, e := range top {
		all[i] = DetailedPrediction{
			ClassName:         e.Label,
			Confidence:        float64(e.Confidence),
			ConfidencePercent: e.Percent(),
		}
	}
	resp := DetailedResponse{
		Success:        true,
		ImageName:      r.ImageName,
		AllPredictions: all,
		ProcessingTime: r.ProcessingTime.Seconds(),
	}
	if len(all) > 0 {
		first := all[0]
		resp.TopPrediction = &first
	}
	return resp
}

// DetailedFailure is the success=false shape of the detailed schema.
func DetailedFailure(imageName string, err error, elapsed time.Duration) DetailedResponse {
	return DetailedResponse{
		Success:        false,
		ImageName:      imageName,
		Error:          Failure(err).Message,
		ProcessingTime: elapsed.Seconds(),
	}
}

// ContractPrediction is one row of the backend contract.
type ContractPrediction struct {
	Disease           string  `json:"disease"`
	ConfidenceScore   float64 `json:"confidence_score"`
	ConfidencePercent float64 `json:"confidence_percent"`
}

// ContractResponse is the shape the Java backend deserializes.
type ContractResponse struct {
	Status            string               `json:"status"`
	Message           string               `json:"message"`
	TopPrediction     string               `json:"top_prediction"`
	TopConfidence     float64              `json:"top_confidence"`
	RecommendedAction string               `json:"recommended_action,omitempty"`
	Predictions       []ContractPrediction `json:"predictions"`
}

// Contract projects r into the backend contract. top_prediction is the full label.
func Contract(r *Result) ContractResponse {
	top := r.Ranking.Head(TopKDetailed)
	preds := make([]ContractPrediction, len(top))
	for i, e := range top {
		preds[i] = ContractPrediction{
			Disease:           e.Label,
			ConfidenceScore:   float64(e.Confidence),
			ConfidencePercent: e.Percent(),
		}
	}
	return ContractResponse{
		Status:            StatusSuccess,
		Message:           ContractMessage,
		TopPrediction:     r.Top.Label,
		TopConfidence:     float64(r.Top.Confidence),
		RecommendedAction: r.Action,
		Predictions:       preds,
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
