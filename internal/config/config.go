//nolint:lll
package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/leafcheck/internal/onnx"
	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/MeKo-Tech/leafcheck/internal/preprocess"
)

// Config represents the complete configuration for leafcheck. It covers all
// commands (serve, predict, batch, history) and is loaded from a yaml file,
// LEAFCHECK_ environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Model  ModelConfig  `mapstructure:"model" yaml:"model" json:"model"`
	GPU    GPUConfig    `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store" json:"store"`
	Batch  BatchConfig  `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// ModelConfig selects the model artifact and its preprocessing contract.
type ModelConfig struct {
	// ModelsDir empty resolves LEAFCHECK_MODELS_DIR, then <project>/models.
	ModelsDir        string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	Path             string `mapstructure:"path" yaml:"path" json:"path"`
	LibraryPath      string `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	LabelsPath       string `mapstructure:"labels_path" yaml:"labels_path" json:"labels_path"`
	AdvicePath       string `mapstructure:"advice_path" yaml:"advice_path" json:"advice_path"`
	Normalization    string `mapstructure:"normalization" yaml:"normalization" json:"normalization"`
	ChannelOrder     string `mapstructure:"channel_order" yaml:"channel_order" json:"channel_order"`
	Layout           string `mapstructure:"layout" yaml:"layout" json:"layout"`
	InputSize        int    `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	ResizeFilter     string `mapstructure:"resize_filter" yaml:"resize_filter" json:"resize_filter"`
	Version          string `mapstructure:"version" yaml:"version" json:"version"`
	WarmupIterations int    `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
	NumThreads       int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device   int    `mapstructure:"device" yaml:"device" json:"device"`
	MemLimit string `mapstructure:"mem_limit" yaml:"mem_limit" json:"mem_limit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host               string          `mapstructure:"host" yaml:"host" json:"host"`
	Port               int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin         string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	TrustProxy         bool            `mapstructure:"trust_proxy" yaml:"trust_proxy" json:"trust_proxy"`
	MaxUploadMB        int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec         int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeoutSec int             `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec" json:"shutdown_timeout_sec"`
	MaxBatchFiles      int             `mapstructure:"max_batch_files" yaml:"max_batch_files" json:"max_batch_files"`
	StageDir           string          `mapstructure:"stage_dir" yaml:"stage_dir" json:"stage_dir"`
	RateLimit          RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client limits for the prediction routes.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int  `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// StoreConfig controls the prediction history database.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}

// BatchConfig contains batch prediction settings.
type BatchConfig struct {
	Workers   int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive bool   `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Format    string `mapstructure:"format" yaml:"format" json:"format"`
}

// DefaultStorePath is the history database created next to the working directory.
const DefaultStorePath = "leafcheck.db"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	pre := preprocess.DefaultConfig()
	return Config{
		LogLevel: "info",
		Model: ModelConfig{
			Normalization: string(pre.Normalization),
			ChannelOrder:  string(pre.ChannelOrder),
			Layout:        string(onnx.LayoutNHWC),
			InputSize:     pre.Size,
			ResizeFilter:  string(pre.Filter),
			Version:       pipeline.DefaultModelVersion,
		},
		GPU: GPUConfig{
			MemLimit: "auto",
		},
		Server: ServerConfig{
			Host:               "localhost",
			Port:               8080,
			CORSOrigin:         "*",
			MaxUploadMB:        10,
			TimeoutSec:         30,
			ShutdownTimeoutSec: 10,
			MaxBatchFiles:      32,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
			},
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    DefaultStorePath,
		},
		Batch: BatchConfig{
			Workers: pipeline.DefaultParallelConfig().MaxWorkers,
			Format:  "text",
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := c.validateModel(); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.ShutdownTimeoutSec < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeoutSec)
	}
	if c.Server.MaxBatchFiles <= 0 {
		return fmt.Errorf("invalid max batch files: %d (must be positive)", c.Server.MaxBatchFiles)
	}
	rl := c.Server.RateLimit
	if rl.RequestsPerMinute < 0 || rl.RequestsPerHour < 0 || rl.MaxRequestsPerDay < 0 || rl.MaxDataPerDayMB < 0 {
		return fmt.Errorf("invalid rate limit: limits must not be negative")
	}

	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	validFormats := []string{"text", "json", "csv"}
	if !slices.Contains(validFormats, c.Batch.Format) {
		return fmt.Errorf("invalid batch format: %s (must be one of: %s)", c.Batch.Format, strings.Join(validFormats, ", "))
	}

	if _, err := ParseMemoryLimit(c.GPU.MemLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	if c.GPU.Device < 0 {
		return fmt.Errorf("invalid GPU device: %d", c.GPU.Device)
	}
	return nil
}

func (c *Config) validateModel() error {
	if _, err := preprocess.ParseNormalization(c.Model.Normalization); err != nil {
		return fmt.Errorf("model.normalization: %w", err)
	}
	if _, err := preprocess.ParseChannelOrder(c.Model.ChannelOrder); err != nil {
		return fmt.Errorf("model.channel_order: %w", err)
	}
	if _, err := onnx.ParseLayout(c.Model.Layout); err != nil {
		return fmt.Errorf("model.layout: %w", err)
	}
	if _, err := preprocess.ParseFilter(c.Model.ResizeFilter); err != nil {
		return fmt.Errorf("model.resize_filter: %w", err)
	}
	if c.Model.InputSize <= 0 {
		return fmt.Errorf("invalid model.input_size: %d (must be positive)", c.Model.InputSize)
	}
	if c.Model.WarmupIterations < 0 {
		return fmt.Errorf("invalid model.warmup_iterations: %d (must not be negative)", c.Model.WarmupIterations)
	}
	if c.Model.NumThreads < 0 {
		return fmt.Errorf("invalid model.num_threads: %d (must not be negative)", c.Model.NumThreads)
	}
	return nil
}

// PipelineBuilder returns a builder carrying the model, preprocessing and GPU
// settings. Callers add runtime-only options such as a stub model.
func (c *Config) PipelineBuilder() (*pipeline.Builder, error) {
	norm, err := preprocess.ParseNormalization(c.Model.Normalization)
	if err != nil {
		return nil, err
	}
	order, err := preprocess.ParseChannelOrder(c.Model.ChannelOrder)
	if err != nil {
		return nil, err
	}
	layout, err := onnx.ParseLayout(c.Model.Layout)
	if err != nil {
		return nil, err
	}
	filter, err := preprocess.ParseFilter(c.Model.ResizeFilter)
	if err != nil {
		return nil, err
	}
	memLimit, err := ParseMemoryLimit(c.GPU.MemLimit)
	if err != nil {
		return nil, err
	}

	b := pipeline.NewBuilder().
		WithModelsDir(c.Model.ModelsDir).
		WithModelPath(c.Model.Path).
		WithLibraryPath(c.Model.LibraryPath).
		WithLabelsPath(c.Model.LabelsPath).
		WithAdvicePath(c.Model.AdvicePath).
		WithNormalization(norm).
		WithChannelOrder(order).
		WithLayout(layout).
		WithInputSize(c.Model.InputSize).
		WithResizeFilter(filter).
		WithModelVersion(c.Model.Version).
		WithThreads(c.Model.NumThreads).
		WithWarmupIterations(c.Model.WarmupIterations).
		WithStageDir(c.Server.StageDir).
		WithParallelWorkers(c.Batch.Workers)
	if c.GPU.Enabled {
		b = b.WithGPU(true).WithGPUDevice(c.GPU.Device).WithGPUMemoryLimit(memLimit)
	}
	return b, nil
}

// ParseMemoryLimit converts a GPU memory limit such as "512MB" or "2GB" to
// bytes. Empty and "auto" mean unlimited and yield 0.
func ParseMemoryLimit(limit string) (uint64, error) {
	s := strings.ToUpper(strings.TrimSpace(limit))
	if s == "" || s == "AUTO" {
		return 0, nil
	}

	units := []struct {
		suffix string
		factor float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.factor), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
