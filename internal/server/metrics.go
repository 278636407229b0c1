package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcheck_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leafcheck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Prediction metrics
	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcheck_predictions_total",
			Help: "Total number of prediction requests",
		},
		[]string{"route", "status"}, // status: success, error
	)

	predictionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leafcheck_prediction_duration_seconds",
			Help:    "Prediction duration in seconds, decode to ranking",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"route"},
	)

	predictionConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leafcheck_prediction_top_confidence",
			Help:    "Confidence of the top class",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, .95, .99},
		},
	)

	predictedClassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcheck_predicted_classes_total",
			Help: "Top predicted class counts",
		},
		[]string{"plant", "healthy"},
	)

	// Model lifecycle
	modelReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leafcheck_model_ready",
			Help: "1 when the classifier is ready to serve",
		},
	)

	modelLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leafcheck_model_load_duration_seconds",
			Help:    "Model load and warmup duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// History
	historyWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcheck_history_writes_total",
			Help: "Prediction history writes",
		},
		[]string{"status"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcheck_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leafcheck_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 512 * 1024, 1024 * 1024, 5 * 1024 * 1024, 10 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leafcheck_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcheck_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
