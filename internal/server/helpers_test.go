package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/MeKo-Tech/leafcheck/internal/store"
	"github.com/MeKo-Tech/leafcheck/internal/testutil"
	"github.com/stretchr/testify/require"
)

// testEnv is a server backed by a stub classifier and an in-memory history.
type testEnv struct {
	srv     *Server
	stub    *classifier.StubInferer
	history *store.Store
	handler http.Handler
}

type envOption func(*Config)

func withoutHistory(c *Config) { c.History = nil }

func withRateLimit(rl RateLimitConfig) envOption {
	return func(c *Config) { c.RateLimit = rl }
}

// newTestEnv puts 91% confidence on Apple___Apple_scab. The model is not
// loaded; call load for a ready server.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	return newTestEnvWithStub(t, classifier.NewStubInferer(len(catalog.PlantVillage), 0, 0.91), opts...)
}

func newTestEnvWithStub(t *testing.T, stub *classifier.StubInferer, opts ...envOption) *testEnv {
	t.Helper()
	pl, err := pipeline.NewBuilder().WithModelsDir(t.TempDir()).WithStubInferer(stub).Build()
	require.NoError(t, err)

	history, err := store.Open(":memory:")
	require.NoError(t, err)

	cfg := Config{MaxUploadMB: 1, TimeoutSec: 5, MaxBatchFiles: 4, Pipeline: pl, History: history}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.History == nil {
		require.NoError(t, history.Close())
		history = nil
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return &testEnv{srv: srv, stub: stub, history: history, handler: srv.Routes()}
}

func (e *testEnv) load(t *testing.T) *testEnv {
	t.Helper()
	require.NoError(t, e.srv.LoadModel(context.Background()))
	return e
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func leafJPEG(t *testing.T) []byte {
	t.Helper()
	cfg := testutil.DefaultLeafImageConfig()
	cfg.Spots = 3
	return testutil.EncodeJPEG(t, testutil.GenerateLeafImage(cfg), 90)
}

func leafDataURI(t *testing.T) string {
	t.Helper()
	return testutil.DataURI("image/jpeg", leafJPEG(t))
}

func jsonRequest(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest builds an upload with one file part. An empty field
// sends only the extra fields.
func multipartRequest(
	t *testing.T,
	path, field, filename, contentType string,
	data []byte,
	extra map[string]string,
) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if field != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
		h.Set("Content-Type", contentType)
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for key, value := range extra {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}
