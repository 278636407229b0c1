package server

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/MeKo-Tech/leafcheck/internal/prediction"
	"github.com/MeKo-Tech/leafcheck/internal/store"
	"github.com/MeKo-Tech/leafcheck/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	t.Run("requires pipeline", func(t *testing.T) {
		_, err := NewServer(Config{MaxUploadMB: 1})
		assert.ErrorContains(t, err, "requires a pipeline")
	})

	t.Run("requires upload limit", func(t *testing.T) {
		pl, err := pipeline.NewBuilder().WithModelsDir(t.TempDir()).
			WithStubInferer(classifier.NewStubInferer(38, 0, 0.9)).Build()
		require.NoError(t, err)
		_, err = NewServer(Config{Pipeline: pl})
		assert.ErrorContains(t, err, "invalid max upload size")
	})

	t.Run("defaults", func(t *testing.T) {
		env := newTestEnv(t)
		assert.Equal(t, "*", env.srv.corsOrigin)
		assert.Equal(t, int64(1024*1024), env.srv.maxUploadBytes)
		assert.Nil(t, env.srv.rateLimiter)
	})
}

func TestConfigAddr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:8000", Config{Host: "0.0.0.0", Port: 8000}.Addr())
	assert.Equal(t, "[::1]:9000", Config{Host: "::1", Port: 9000}.Addr())
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.False(t, resp.ModelLoaded)
	assert.Equal(t, "uninitialized", resp.State)

	env.load(t)
	rec = env.get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp = decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.ModelLoaded)
	assert.Equal(t, "ready", resp.State)
	assert.Equal(t, version.Version, resp.Version)
	assert.NotEmpty(t, resp.Timestamp)
	assert.Empty(t, resp.Error)
}

func TestHealthReportsClassCountMismatch(t *testing.T) {
	stub := classifier.NewStubInferer(10, 0, 0.9)
	env := newTestEnvWithStub(t, stub)

	err := env.srv.LoadModel(context.Background())
	require.ErrorIs(t, err, classifier.ErrClassCountMismatch)

	rec := env.get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "failed", resp.State)
	assert.Contains(t, resp.Error, "does not match")

	rec = env.do(jsonRequest(t, "/predict", PredictRequest{ImageBase64: leafDataURI(t)}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCatalogRoutes(t *testing.T) {
	env := newTestEnv(t)

	classes := decodeBody[ClassesResponse](t, env.get("/classes"))
	assert.Equal(t, 38, classes.TotalClasses)
	assert.Len(t, classes.Classes, 38)
	assert.Equal(t, "Apple___Apple_scab", classes.Classes[0])

	plants := decodeBody[PlantsResponse](t, env.get("/plants"))
	assert.True(t, sort.StringsAreSorted(plants.Plants))
	assert.Contains(t, plants.Plants, "Apple")
	assert.Contains(t, plants.Plants, "Corn_(maize)")
	assert.Len(t, plants.Plants, 14)

	diseases := decodeBody[DiseasesResponse](t, env.get("/diseases"))
	assert.True(t, sort.StringsAreSorted(diseases.Diseases))
	assert.Contains(t, diseases.Diseases, "Late_blight")
	assert.Contains(t, diseases.Diseases, "healthy")
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(jsonRequest(t, "/health", "{}"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.get("/predict")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistoryRoutes(t *testing.T) {
	env := newTestEnv(t).load(t)

	for range 2 {
		rec := env.do(jsonRequest(t, "/predict", PredictRequest{ImageBase64: leafDataURI(t)}))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(jsonRequest(t, "/predict", PredictRequest{ImageBase64: "bm90IGFuIGltYWdl"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	t.Run("list", func(t *testing.T) {
		resp := decodeBody[HistoryResponse](t, env.get("/predictions"))
		require.Equal(t, 2, resp.Count, "failed predictions are not recorded")
		assert.Equal(t, store.DefaultListLimit, resp.Limit)
		assert.Greater(t, resp.Predictions[0].ID, resp.Predictions[1].ID, "newest first")
		assert.Equal(t, "Apple___Apple_scab", resp.Predictions[0].TopClassName)
		assert.Equal(t, routePredict, resp.Predictions[0].Source)
		assert.Len(t, resp.Predictions[0].Details, prediction.TopKDetailed)
	})

	t.Run("limit", func(t *testing.T) {
		resp := decodeBody[HistoryResponse](t, env.get("/predictions?limit=1"))
		assert.Equal(t, 1, resp.Count)

		rec := env.get("/predictions?limit=many")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("stats", func(t *testing.T) {
		stats := decodeBody[store.Stats](t, env.get("/predictions/stats"))
		assert.Equal(t, int64(2), stats.TotalCount)
		require.Len(t, stats.TopClasses, 1)
		assert.Equal(t, store.ClassCount{Class: "Apple___Apple_scab", Count: 2}, stats.TopClasses[0])
		assert.NotNil(t, stats.AverageProcessingTime)
	})

	t.Run("get", func(t *testing.T) {
		rec := env.get("/predictions/1")
		require.Equal(t, http.StatusOK, rec.Code)
		r := decodeBody[store.Record](t, rec)
		assert.Equal(t, uint(1), r.ID)
		assert.Equal(t, 1, r.Details[0].Rank)

		assert.Equal(t, http.StatusNotFound, env.get("/predictions/999").Code)
		assert.Equal(t, http.StatusBadRequest, env.get("/predictions/abc").Code)
		assert.Equal(t, http.StatusBadRequest, env.get("/predictions/0").Code)
	})
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t, withoutHistory).load(t)

	rec := env.do(jsonRequest(t, "/predict", PredictRequest{ImageBase64: leafDataURI(t)}))
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{"/predictions", "/predictions/stats", "/predictions/1"} {
		rec := env.get(path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, prediction.StatusError, decodeBody[prediction.ErrorResponse](t, rec).Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t).load(t)
	env.do(jsonRequest(t, "/predict", PredictRequest{ImageBase64: leafDataURI(t)}))

	rec := env.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "leafcheck_predictions_total"))
	assert.Contains(t, body, "leafcheck_model_ready 1")
	assert.Contains(t, body, `leafcheck_http_requests_total{endpoint="/predict"`)
}
