package batch

import (
	"fmt"

	"github.com/MeKo-Tech/leafcheck/internal/onnx"
	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/MeKo-Tech/leafcheck/internal/preprocess"
)

// buildPipeline creates a prediction pipeline from the batch configuration.
func buildPipeline(config *Config, progressCallback pipeline.ProgressCallback) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder().
		WithModelsDir(config.ModelsDir).
		WithModelPath(config.ModelPath).
		WithLibraryPath(config.LibraryPath).
		WithLabelsPath(config.LabelsPath).
		WithAdvicePath(config.AdvicePath).
		WithModelVersion(config.ModelVersion).
		WithThreads(config.Threads).
		WithParallelWorkers(config.Workers).
		WithProgressCallback(progressCallback)

	b, err := configurePipelineInput(b, config)
	if err != nil {
		return nil, err
	}
	b = configurePipelineRuntime(b, config)

	return b.Build()
}

// configurePipelineInput applies the preprocessing contract flags.
func configurePipelineInput(b *pipeline.Builder, config *Config) (*pipeline.Builder, error) {
	if config.Normalization != "" {
		n, err := preprocess.ParseNormalization(config.Normalization)
		if err != nil {
			return nil, err
		}
		b = b.WithNormalization(n)
	}
	if config.ChannelOrder != "" {
		order, err := preprocess.ParseChannelOrder(config.ChannelOrder)
		if err != nil {
			return nil, err
		}
		b = b.WithChannelOrder(order)
	}
	if config.Layout != "" {
		layout, err := onnx.ParseLayout(config.Layout)
		if err != nil {
			return nil, err
		}
		b = b.WithLayout(layout)
	}
	if config.ResizeFilter != "" {
		f, err := preprocess.ParseFilter(config.ResizeFilter)
		if err != nil {
			return nil, fmt.Errorf("resize filter: %w", err)
		}
		b = b.WithResizeFilter(f)
	}
	return b.WithInputSize(config.InputSize), nil
}

// configurePipelineRuntime selects the execution backend.
func configurePipelineRuntime(b *pipeline.Builder, config *Config) *pipeline.Builder {
	if config.Stub != nil {
		return b.WithStubInferer(config.Stub)
	}
	if config.GPU {
		b = b.WithGPU(true).WithGPUDevice(config.GPUDevice)
	}
	return b
}
