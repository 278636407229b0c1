package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/prediction"
)

// BatchPredictRequest is the JSON body of /api/v1/predict/batch.
type BatchPredictRequest struct {
	Images []BatchImageRequest `json:"images"`
}

// BatchImageRequest is one image of a batch. Data is base64 or a data-URI.
type BatchImageRequest struct {
	Name string `json:"name"`
	Data string `json:"imageBase64"`
}

// BatchPredictResponse holds one detailed result per image in request order.
type BatchPredictResponse struct {
	Success bool                          `json:"success"`
	Results []prediction.DetailedResponse `json:"results"`
	Summary BatchSummary                  `json:"summary"`
}

// BatchSummary provides summary statistics for a batch request.
type BatchSummary struct {
	TotalImages   int     `json:"total_images"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	TotalDuration float64 `json:"total_duration_seconds"`
	AvgImageTime  float64 `json:"avg_image_time_seconds"`
}

// batchPredictHandler classifies several base64 images in one request. A
// failing image is reported in its slot and does not fail the batch.
func (s *Server) batchPredictHandler(w http.ResponseWriter, r *http.Request) {
	var req BatchPredictRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	switch {
	case len(req.Images) == 0:
		writeError(w, fmt.Errorf("%w: images must not be empty", ErrMissingImage))
		return
	case len(req.Images) > s.maxBatchFiles:
		writeError(w, invalidRequest(fmt.Sprintf("batch size too large (maximum %d images)", s.maxBatchFiles)))
		return
	}
	if !s.pipeline.Ready() {
		writeError(w, classifier.ErrModelNotReady)
		return
	}

	start := time.Now()
	resp := BatchPredictResponse{
		Results: make([]prediction.DetailedResponse, len(req.Images)),
		Summary: BatchSummary{TotalImages: len(req.Images)},
	}
	for i, img := range req.Images {
		resp.Results[i] = s.predictBatchImage(r.Context(), img)
		if resp.Results[i].Success {
			resp.Summary.Successful++
		} else {
			resp.Summary.Failed++
		}
	}

	resp.Summary.TotalDuration = time.Since(start).Seconds()
	resp.Summary.AvgImageTime = resp.Summary.TotalDuration / float64(resp.Summary.TotalImages)
	resp.Success = resp.Summary.Failed == 0
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) predictBatchImage(ctx context.Context, img BatchImageRequest) prediction.DetailedResponse {
	start := time.Now()
	if img.Data == "" {
		return prediction.DetailedFailure(img.Name, ErrMissingImage, 0)
	}
	res, _, err := s.predict(ctx, routeBatch, func(ctx context.Context) (*prediction.Result, error) {
		return s.pipeline.PredictBase64(ctx, img.Data, img.Name)
	})
	if err != nil {
		return prediction.DetailedFailure(img.Name, err, time.Since(start))
	}
	return prediction.Detailed(res)
}
