package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/decoder"
	"github.com/MeKo-Tech/leafcheck/internal/prediction"
	"github.com/MeKo-Tech/leafcheck/internal/store"
	"github.com/spf13/cast"
)

// Route names label metrics and history records.
const (
	routePredict     = "predict"
	routePredictFile = "predict_file"
	routeDetailed    = "api_v1_predict"
	routeBatch       = "api_v1_predict_batch"
	routeContract    = "backend_predict"
	routeWebSocket   = "websocket"
)

// predictHandler serves the minimal schema for a base64 JSON body.
func (s *Server) predictHandler(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.image() == "" {
		writeError(w, fmt.Errorf("%w: imageBase64 or image_base64 is required", ErrMissingImage))
		return
	}
	plantID, err := parsePlantID(req.PlantID)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Debug("Prediction request", "route", routePredict, "plant_id", plantID,
		"image_type", req.ImageType, "request_id", RequestID(r.Context()))

	res, _, err := s.predict(r.Context(), routePredict, func(ctx context.Context) (*prediction.Result, error) {
		return s.pipeline.PredictBase64(ctx, req.image(), base64ImageName(req.ImageType))
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prediction.Minimal(res))
}

// predictFileHandler serves the minimal schema for a multipart upload.
func (s *Server) predictFileHandler(w http.ResponseWriter, r *http.Request) {
	data, src, err := s.readUpload(w, r, "file")
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Debug("Prediction request", "route", routePredictFile, "file", src.Filename,
		"mode", r.FormValue("mode"), "request_id", RequestID(r.Context()))

	res, _, err := s.predict(r.Context(), routePredictFile, func(ctx context.Context) (*prediction.Result, error) {
		return s.pipeline.PredictBytes(ctx, data, src)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prediction.Minimal(res))
}

// detailedPredictHandler serves the detailed schema. Failures keep the
// detailed shape with success=false.
func (s *Server) detailedPredictHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	data, src, err := s.readUpload(w, r, "file")
	if err != nil {
		writeJSON(w, StatusFor(err), prediction.DetailedFailure(src.Filename, err, time.Since(start)))
		return
	}

	res, _, err := s.predict(r.Context(), routeDetailed, func(ctx context.Context) (*prediction.Result, error) {
		return s.pipeline.PredictBytes(ctx, data, src)
	})
	if err != nil {
		writeJSON(w, StatusFor(err), prediction.DetailedFailure(src.Filename, err, time.Since(start)))
		return
	}
	writeJSON(w, http.StatusOK, prediction.Detailed(res))
}

// contractPredictHandler serves the backend contract for a base64 JSON body.
func (s *Server) contractPredictHandler(w http.ResponseWriter, r *http.Request) {
	var req ContractRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.image() == "" {
		writeError(w, fmt.Errorf("%w: image_base64 or imageBase64 is required", ErrMissingImage))
		return
	}
	plantID, err := parsePlantID(req.PlantID)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Debug("Prediction request", "route", routeContract, "plant_id", plantID,
		"image_type", req.ImageType, "request_id", RequestID(r.Context()))

	res, _, err := s.predict(r.Context(), routeContract, func(ctx context.Context) (*prediction.Result, error) {
		return s.pipeline.PredictBase64(ctx, req.image(), base64ImageName(req.ImageType))
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prediction.Contract(res))
}

// predict runs one prediction under the request timeout, records metrics
// and, on success, the history entry. The history id is zero when nothing
// was recorded.
func (s *Server) predict(
	ctx context.Context,
	route string,
	run func(context.Context) (*prediction.Result, error),
) (*prediction.Result, uint, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := run(ctx)
	predictionDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	if err != nil {
		predictionsTotal.WithLabelValues(route, "error").Inc()
		slog.Warn("Prediction failed", "route", route, "error", err,
			"status", StatusFor(err), "request_id", RequestID(ctx))
		return nil, 0, err
	}

	predictionsTotal.WithLabelValues(route, "success").Inc()
	predictionConfidence.Observe(float64(res.Top.Confidence))
	predictedClassesTotal.WithLabelValues(res.Label.Plant, strconv.FormatBool(res.Label.IsHealthy)).Inc()
	id, _ := s.recordHistory(context.WithoutCancel(ctx), res, route)
	return res, id, nil
}

// recordHistory stores a successful prediction. A failed write is logged
// and never changes the response.
func (s *Server) recordHistory(ctx context.Context, res *prediction.Result, route string) (uint, bool) {
	if s.history == nil {
		return 0, false
	}
	id, err := s.history.Record(ctx, store.FromResult(res, route, prediction.TopKDetailed))
	if err != nil {
		historyWritesTotal.WithLabelValues("error").Inc()
		slog.Error("Failed to record prediction", "error", err, "route", route, "request_id", RequestID(ctx))
		return 0, false
	}
	historyWritesTotal.WithLabelValues("success").Inc()
	return id, true
}

// decodeJSON reads a size-limited JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if isTooLarge(err) {
			return s.tooLarge()
		}
		if errors.Is(err, io.EOF) {
			return invalidRequest("empty request body")
		}
		return invalidRequest("malformed JSON body: " + err.Error())
	}
	return nil
}

// readUpload reads one multipart file field, enforcing the upload limit.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, decoder.Source, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		if isTooLarge(err) {
			return nil, decoder.Source{}, s.tooLarge()
		}
		return nil, decoder.Source{}, invalidRequest("failed to parse form data")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, decoder.Source{}, fmt.Errorf("%w: multipart field %q is required", ErrMissingImage, field)
	}
	defer func() { _ = file.Close() }()

	src := decoder.Source{
		Kind:        decoder.KindMultipart,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}
	if header.Size > s.maxUploadBytes {
		return nil, src, s.tooLarge()
	}
	uploadSizeBytes.Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, src, fmt.Errorf("read upload: %w", err)
	}
	return data, src, nil
}

func (s *Server) tooLarge() error {
	return fmt.Errorf("%w: limit is %d MB", ErrPayloadTooLarge, s.maxUploadBytes/(1024*1024))
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "request body too large")
}

// parsePlantID accepts numeric or string ids. A missing id is zero.
func parsePlantID(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	id, err := cast.ToInt64E(v)
	if err != nil {
		return 0, invalidRequest(fmt.Sprintf("plantId %v is not an integer", v))
	}
	return id, nil
}

// base64ImageName names a base64 upload for logs and history.
func base64ImageName(imageType string) string {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(imageType), "."))
	switch ext {
	case "jpg", "jpeg", "png":
		return "upload." + ext
	default:
		return "upload.jpg"
	}
}
