package onnx

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

// GPUConfig holds configuration for GPU acceleration using CUDA.
type GPUConfig struct {
	UseGPU                bool   // Enable GPU acceleration
	DeviceID              int    // CUDA device ID (default: 0)
	GPUMemLimit           uint64 // GPU memory limit in bytes (0 = unlimited)
	ArenaExtendStrategy   string // "kNextPowerOfTwo" or "kSameAsRequested"
	CUDNNConvAlgoSearch   string // "EXHAUSTIVE", "HEURISTIC", or "DEFAULT"
	DoCopyInDefaultStream bool
}

// CUDA provider values accepted by ONNX Runtime.
var (
	arenaStrategies = []string{"kNextPowerOfTwo", "kSameAsRequested"}
	convAlgoSearch  = []string{"EXHAUSTIVE", "HEURISTIC", "DEFAULT"}
)

// DefaultGPUConfig is CPU execution; enabling GPU uses device 0 without a
// memory cap.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy:   arenaStrategies[0],
		CUDNNConvAlgoSearch:   "DEFAULT",
		DoCopyInDefaultStream: true,
	}
}

// ValidateGPUConfig rejects unknown provider values. Disabled configs are
// always valid.
func ValidateGPUConfig(config GPUConfig) error {
	switch {
	case !config.UseGPU:
		return nil
	case config.DeviceID < 0:
		return fmt.Errorf("gpu device must be >= 0, got %d", config.DeviceID)
	case config.ArenaExtendStrategy != "" && !slices.Contains(arenaStrategies, config.ArenaExtendStrategy):
		return fmt.Errorf("invalid arena extend strategy %q (want one of %v)", config.ArenaExtendStrategy, arenaStrategies)
	case config.CUDNNConvAlgoSearch != "" && !slices.Contains(convAlgoSearch, config.CUDNNConvAlgoSearch):
		return fmt.Errorf("invalid cudnn conv algo search %q (want one of %v)", config.CUDNNConvAlgoSearch, convAlgoSearch)
	}
	return nil
}

// cudaSettings renders the provider option map handed to ONNX Runtime.
func cudaSettings(gpuConfig GPUConfig) map[string]string {
	settings := map[string]string{
		"device_id":                 strconv.Itoa(gpuConfig.DeviceID),
		"do_copy_in_default_stream": "0",
	}
	if gpuConfig.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(gpuConfig.GPUMemLimit, 10)
	}
	if gpuConfig.ArenaExtendStrategy != "" {
		settings["arena_extend_strategy"] = gpuConfig.ArenaExtendStrategy
	}
	if gpuConfig.CUDNNConvAlgoSearch != "" {
		settings["cudnn_conv_algo_search"] = gpuConfig.CUDNNConvAlgoSearch
	}
	if gpuConfig.DoCopyInDefaultStream {
		settings["do_copy_in_default_stream"] = "1"
	}
	return settings
}

// ConfigureSessionForGPU appends the CUDA execution provider to the session options.
// It is a no-op when GPU use is disabled.
func ConfigureSessionForGPU(sessionOptions *onnxruntime_go.SessionOptions, gpuConfig GPUConfig) error {
	if !gpuConfig.UseGPU {
		return nil
	}

	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if destroyErr := cudaOpts.Destroy(); destroyErr != nil {
			slog.Warn("failed to destroy CUDA provider options", "error", destroyErr)
		}
	}()

	if err := cudaOpts.Update(cudaSettings(gpuConfig)); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}

	if err := sessionOptions.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}

	return nil
}

// NewSessionOptions builds session options with the thread count and optional GPU provider.
// A GPU configuration failure falls back to CPU execution with a warning.
func NewSessionOptions(numThreads int, gpuConfig GPUConfig) (*onnxruntime_go.SessionOptions, error) {
	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if err := ConfigureSessionForGPU(opts, gpuConfig); err != nil {
		slog.Warn("GPU configuration failed, falling back to CPU", "error", err)
	}

	if numThreads > 0 {
		if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
			_ = opts.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	return opts, nil
}
