package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/MeKo-Tech/leafcheck/internal/store"
)

const defaultMaxBatchFiles = 32

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline       *pipeline.Pipeline
	history        *store.Store
	rateLimiter    *RateLimiter
	corsOrigin     string
	trustProxy     bool
	maxUploadBytes int64
	timeout        time.Duration
	maxBatchFiles  int
}

// Config holds server configuration.
type Config struct {
	Host          string
	Port          int
	CORSOrigin    string
	// TrustProxy honors X-Forwarded-For and X-Real-IP. Enable it only
	// behind a reverse proxy that overwrites those headers.
	TrustProxy    bool
	MaxUploadMB   int64
	TimeoutSec    int
	MaxBatchFiles int
	RateLimit     RateLimitConfig

	// Pipeline serves predictions. It may still be loading when the
	// server starts; prediction routes answer 503 until it is ready.
	Pipeline *pipeline.Pipeline
	// History is optional. Without it predictions are not recorded and
	// the history routes answer 503.
	History *store.Store
}

// RateLimitConfig configures per-client request limits.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64 // bytes
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HealthResponse is served by /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	State       string `json:"state"`
	Version     string `json:"version"`
	Timestamp   string `json:"timestamp"`
	Error       string `json:"error,omitempty"`
}

type ClassesResponse struct {
	TotalClasses int      `json:"total_classes"`
	Classes      []string `json:"classes"`
}

type PlantsResponse struct {
	Plants []string `json:"plants"`
}

type DiseasesResponse struct {
	Diseases []string `json:"diseases"`
}

// HistoryResponse is served by /predictions.
type HistoryResponse struct {
	Predictions []store.Record `json:"predictions"`
	Count       int            `json:"count"`
	Limit       int            `json:"limit"`
}

// PredictRequest is the JSON body of /predict. Both spellings of the image
// field are accepted; plantId may arrive as a number or a string.
type PredictRequest struct {
	ImageBase64      string `json:"imageBase64"`
	ImageBase64Snake string `json:"image_base64"`
	ImageType        string `json:"imageType"`
	PlantID          any    `json:"plantId"`
	Description      string `json:"description"`
}

func (r PredictRequest) image() string {
	if r.ImageBase64 != "" {
		return r.ImageBase64
	}
	return r.ImageBase64Snake
}

// ContractRequest is the JSON body the backend posts to /backend/predict.
type ContractRequest struct {
	ImageBase64      string `json:"image_base64"`
	ImageBase64Camel string `json:"imageBase64"`
	ImageType        string `json:"image_type"`
	PlantID          any    `json:"plant_id"`
	Description      string `json:"description"`
}

func (r ContractRequest) image() string {
	if r.ImageBase64 != "" {
		return r.ImageBase64
	}
	return r.ImageBase64Camel
}

// NewServer creates a server around an existing pipeline.
func NewServer(config Config) (*Server, error) {
	if config.Pipeline == nil {
		return nil, errors.New("server requires a pipeline")
	}
	if config.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("invalid max upload size: %d MB", config.MaxUploadMB)
	}

	s := &Server{
		pipeline:       config.Pipeline,
		history:        config.History,
		corsOrigin:     config.CORSOrigin,
		trustProxy:     config.TrustProxy,
		maxUploadBytes: config.MaxUploadMB * 1024 * 1024,
		timeout:        time.Duration(config.TimeoutSec) * time.Second,
		maxBatchFiles:  config.MaxBatchFiles,
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}
	if s.maxBatchFiles <= 0 {
		s.maxBatchFiles = defaultMaxBatchFiles
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(config.RateLimit)
	}
	return s, nil
}

// LoadModel loads the model and records readiness. Serving may start
// before this returns.
func (s *Server) LoadModel(ctx context.Context) error {
	start := time.Now()
	slog.Info("Loading model", "version", s.pipeline.Config().ModelVersion,
		"path", s.pipeline.Config().Model.ModelPath)

	err := s.pipeline.Load(ctx)
	modelLoadDuration.Observe(time.Since(start).Seconds())
	s.updateModelGauge()
	if err != nil {
		slog.Error("Model not ready", "error", err, "state", s.pipeline.Classifier.State().String())
		return err
	}
	slog.Info("Model ready", "classes", s.pipeline.Catalog.Len(),
		"normalization", s.pipeline.Config().Preprocess.Normalization,
		"duration", time.Since(start))
	return nil
}

func (s *Server) updateModelGauge() {
	if s.pipeline.Ready() {
		modelReady.Set(1)
	} else {
		modelReady.Set(0)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	var errs []error
	if s.pipeline != nil {
		errs = append(errs, s.pipeline.Close())
	}
	if s.history != nil {
		errs = append(errs, s.history.Close())
	}
	return errors.Join(errs...)
}
