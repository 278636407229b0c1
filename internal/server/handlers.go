package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/prediction"
	"github.com/MeKo-Tech/leafcheck/internal/store"
	"github.com/MeKo-Tech/leafcheck/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cast"
)

// Routes builds the HTTP handler with all endpoints and middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, s.loggingMiddleware, recoverMiddleware, s.corsMiddleware)

	r.Get("/health", s.healthHandler)
	r.Get("/classes", s.classesHandler)
	r.Get("/plants", s.plantsHandler)
	r.Get("/diseases", s.diseasesHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/predictions", func(r chi.Router) {
		r.Get("/", s.historyListHandler)
		r.Get("/stats", s.historyStatsHandler)
		r.Get("/{id}", s.historyGetHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Post("/predict", s.predictHandler)
		r.Post("/predict-file", s.predictFileHandler)
		r.Post("/api/v1/predict", s.detailedPredictHandler)
		r.Post("/api/v1/predict/batch", s.batchPredictHandler)
		r.Post("/backend/predict", s.contractPredictHandler)
		r.Get("/ws", s.predictWebSocketHandler)
	})

	return r
}

// healthHandler reports model readiness. It answers 503 until the model is ready.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	state := s.pipeline.Classifier.State()
	resp := HealthResponse{
		Status:      "healthy",
		ModelLoaded: state == classifier.StateReady,
		State:       state.String(),
		Version:     version.Version,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !resp.ModelLoaded {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
		if err := s.pipeline.Classifier.LoadError(); err != nil {
			resp.Error = err.Error()
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) classesHandler(w http.ResponseWriter, _ *http.Request) {
	classes := s.pipeline.Catalog.Labels()
	writeJSON(w, http.StatusOK, ClassesResponse{TotalClasses: len(classes), Classes: classes})
}

func (s *Server) plantsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PlantsResponse{Plants: s.pipeline.Catalog.Plants()})
}

func (s *Server) diseasesHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, DiseasesResponse{Diseases: s.pipeline.Catalog.Diseases()})
}

// historyListHandler returns the most recent predictions, newest first.
func (s *Server) historyListHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, ErrHistoryDisabled)
		return
	}
	limit := store.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil {
			writeError(w, invalidRequest("limit must be an integer"))
			return
		}
		limit = n
	}
	limit = store.ClampLimit(limit)

	recs, err := s.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Predictions: recs, Count: len(recs), Limit: limit})
}

func (s *Server) historyStatsHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, ErrHistoryDisabled)
		return
	}
	stats, err := s.history.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) historyGetHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, ErrHistoryDisabled)
		return
	}
	id, err := cast.ToUintE(chi.URLParam(r, "id"))
	if err != nil || id == 0 {
		writeError(w, invalidRequest("prediction id must be a positive integer"))
		return
	}
	rec, err := s.history.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Log error, but can't send another response
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes the {status:"error", message} shape.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), prediction.Failure(err))
}
