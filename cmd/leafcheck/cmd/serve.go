package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/leafcheck/internal/config"
	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/MeKo-Tech/leafcheck/internal/server"
	"github.com/MeKo-Tech/leafcheck/internal/store"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the prediction API",
	Long: `Start an HTTP server that classifies leaf images.

The server starts answering immediately and loads the model in the
background; prediction routes return 503 until the model is ready.

The server provides the following endpoints:
  POST /predict               - Base64 image, minimal schema
  POST /predict-file          - Multipart upload, minimal schema
  POST /api/v1/predict        - Multipart upload, detailed schema
  POST /api/v1/predict/batch  - Several base64 images, detailed schema
  POST /backend/predict       - Backend contract schema
  GET  /ws                    - Realtime predictions over WebSocket
  GET  /health                - Model readiness
  GET  /classes               - Class labels (also /plants, /diseases)
  GET  /predictions           - Prediction history (also /stats, /{id})
  GET  /metrics               - Prometheus metrics

Examples:
  leafcheck serve
  leafcheck serve --port 8080
  leafcheck serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commandConfig(cmd)
		if err != nil {
			return err
		}
		applyServeFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		apiServer, err := newAPIServer(cmd, cfg)
		if err != nil {
			return err
		}

		go func() {
			// A failed load leaves the server up and reporting 503 on /health.
			_ = apiServer.LoadModel(ctx)
		}()

		timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              serverConfig(cfg, nil, nil).Addr(),
			Handler:           apiServer.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			// Leave room to write the timeout error itself.
			WriteTimeout: timeout + 5*time.Second,
		}

		go func() {
			slog.Info("Starting leafcheck server", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := apiServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// applyServeFlags copies changed server flags into cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("trust-proxy") {
		cfg.Server.TrustProxy, _ = f.GetBool("trust-proxy")
	}
	if f.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeoutSec, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("max-batch-files") {
		cfg.Server.MaxBatchFiles, _ = f.GetInt("max-batch-files")
	}
	if f.Changed("stage-dir") {
		cfg.Server.StageDir, _ = f.GetString("stage-dir")
	}

	// Rate limiting
	if f.Changed("rate-limit-enabled") {
		cfg.Server.RateLimit.Enabled, _ = f.GetBool("rate-limit-enabled")
	}
	if f.Changed("requests-per-minute") {
		cfg.Server.RateLimit.RequestsPerMinute, _ = f.GetInt("requests-per-minute")
	}
	if f.Changed("requests-per-hour") {
		cfg.Server.RateLimit.RequestsPerHour, _ = f.GetInt("requests-per-hour")
	}
	if f.Changed("max-requests-per-day") {
		cfg.Server.RateLimit.MaxRequestsPerDay, _ = f.GetInt("max-requests-per-day")
	}
	if f.Changed("max-data-per-day") {
		cfg.Server.RateLimit.MaxDataPerDayMB, _ = f.GetInt("max-data-per-day")
	}

	applyHistoryFlags(cmd, cfg)
}

// applyHistoryFlags handles --db and --no-history.
func applyHistoryFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Lookup("db") != nil && f.Changed("db") {
		cfg.Store.Path, _ = f.GetString("db")
	}
	if f.Lookup("no-history") != nil && f.Changed("no-history") {
		if off, _ := f.GetBool("no-history"); off {
			cfg.Store.Enabled = false
		}
	}
}

// openHistory opens the history database, or returns nil when disabled.
func openHistory(cfg *config.Config) (*store.Store, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	history, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prediction history: %w", err)
	}
	return history, nil
}

// serverConfig maps the loaded configuration onto server.Config.
func serverConfig(cfg *config.Config, pl *pipeline.Pipeline, history *store.Store) server.Config {
	rl := cfg.Server.RateLimit
	return server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		CORSOrigin:    cfg.Server.CORSOrigin,
		TrustProxy:    cfg.Server.TrustProxy,
		MaxUploadMB:   int64(cfg.Server.MaxUploadMB),
		TimeoutSec:    cfg.Server.TimeoutSec,
		MaxBatchFiles: cfg.Server.MaxBatchFiles,
		RateLimit: server.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerMinute: rl.RequestsPerMinute,
			RequestsPerHour:   rl.RequestsPerHour,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
			MaxDataPerDay:     int64(rl.MaxDataPerDayMB) * 1024 * 1024,
		},
		Pipeline: pl,
		History:  history,
	}
}

// newAPIServer builds the pipeline and history and wraps them in a server.
// The model is not loaded yet.
func newAPIServer(cmd *cobra.Command, cfg *config.Config) (*server.Server, error) {
	pl, err := newPipeline(cmd, cfg)
	if err != nil {
		return nil, err
	}
	history, err := openHistory(cfg)
	if err != nil {
		_ = pl.Close()
		return nil, err
	}

	apiServer, err := server.NewServer(serverConfig(cfg, pl, history))
	if err != nil {
		_ = pl.Close()
		if history != nil {
			_ = history.Close()
		}
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}
	return apiServer, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addModelFlags(serveCmd)

	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origin")
	serveCmd.Flags().Bool("trust-proxy", false, "take the client address from X-Forwarded-For/X-Real-IP (only behind a trusted proxy)")
	serveCmd.Flags().Int("max-upload-size", 10, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("max-batch-files", 32, "maximum images per batch request")
	serveCmd.Flags().String("stage-dir", "", "stage uploads as temporary files in this directory")
	// History flags
	serveCmd.Flags().String("db", config.DefaultStorePath, "prediction history database")
	serveCmd.Flags().Bool("no-history", false, "do not record predictions")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 0, "maximum requests per day per client (0 = unlimited)")
	serveCmd.Flags().Int("max-data-per-day", 0, "maximum upload MB per day per client (0 = unlimited)")
}
