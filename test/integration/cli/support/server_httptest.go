package support

import (
	"context"
	"fmt"
	"net/http/httptest"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/MeKo-Tech/leafcheck/internal/server"
	"github.com/MeKo-Tech/leafcheck/internal/store"
)

// stubConfidence is the probability the stub puts on the first class.
const stubConfidence = 0.91

// HTTPTestServerWrapper is an in-process leafcheck server backed by the
// stub classifier and an in-memory history.
type HTTPTestServerWrapper struct {
	Server *httptest.Server
	API    *server.Server
}

// serverOptions tweak the in-process server before it starts.
type serverOptions struct {
	loadModel bool
	history   bool
	rateLimit server.RateLimitConfig
	maxBatch  int
}

func defaultServerOptions() serverOptions {
	return serverOptions{loadModel: true, history: true, maxBatch: 4}
}

// createTestHTTPServer starts the real HTTP routes on an httptest server.
func (testCtx *TestContext) createTestHTTPServer(opts serverOptions) error {
	if testCtx.HTTPTestServer != nil {
		return nil
	}

	stub := classifier.NewStubInferer(len(catalog.PlantVillage), 0, stubConfidence)
	pl, err := pipeline.NewBuilder().WithModelsDir(testCtx.path("models")).WithStubInferer(stub).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	if opts.loadModel {
		if err := pl.Load(context.Background()); err != nil {
			_ = pl.Close()
			return fmt.Errorf("failed to load stub model: %w", err)
		}
	}

	var history *store.Store
	if opts.history {
		history, err = store.Open(":memory:")
		if err != nil {
			_ = pl.Close()
			return fmt.Errorf("failed to open history: %w", err)
		}
	}

	api, err := server.NewServer(server.Config{
		CORSOrigin:    "*",
		MaxUploadMB:   1,
		TimeoutSec:    10,
		MaxBatchFiles: opts.maxBatch,
		RateLimit:     opts.rateLimit,
		Pipeline:      pl,
		History:       history,
	})
	if err != nil {
		_ = pl.Close()
		if history != nil {
			_ = history.Close()
		}
		return fmt.Errorf("failed to create server: %w", err)
	}

	ts := httptest.NewServer(api.Routes())
	testCtx.HTTPTestServer = &HTTPTestServerWrapper{Server: ts, API: api}
	return nil
}

// stopTestHTTPServer stops the httptest server and releases the pipeline
// and history.
func (testCtx *TestContext) stopTestHTTPServer() error {
	if testCtx.HTTPTestServer == nil {
		return nil
	}
	testCtx.HTTPTestServer.Server.Close()
	err := testCtx.HTTPTestServer.API.Close()
	testCtx.HTTPTestServer = nil
	return err
}
