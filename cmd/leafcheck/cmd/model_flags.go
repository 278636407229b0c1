package cmd

import (
	"context"
	"fmt"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/config"
	"github.com/MeKo-Tech/leafcheck/internal/pipeline"
	"github.com/spf13/cobra"
)

// stubConfidence is the probability the stub model puts on the first class.
const stubConfidence = 0.91

// addModelFlags registers the flags that select the model artifact and its
// preprocessing contract. They override the configuration file.
func addModelFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("model", "", "path to the classifier ONNX model")
	f.String("labels", "", "class labels file (yaml list or one label per line)")
	f.String("advice", "", "advice table (yaml map of disease name to action)")
	f.String("onnx-lib", "", "path to the ONNX Runtime shared library")
	f.String("normalization", "", "input normalization (unit-scale, signed-unit-scale, imagenet-resnet)")
	f.String("channel-order", "", "channel order (rgb, bgr)")
	f.String("layout", "", "tensor layout (nhwc, nchw)")
	f.Int("input-size", 0, "square model input size in pixels")
	f.String("resize-filter", "", "resize filter (bilinear, lanczos, nearest)")
	f.String("model-version", "", "model version reported in responses")
	f.Int("threads", 0, "intra-op threads for ONNX Runtime (0 = runtime default)")
	f.Int("warmup", 0, "warmup inferences after the model is loaded")
	f.Bool("gpu", false, "use GPU acceleration via CUDA")
	f.Int("gpu-device", 0, "CUDA device id")
	f.String("gpu-mem-limit", "", "GPU memory limit (e.g. 2GB, 512MB, auto)")
}

// applyModelFlags copies every changed model flag into cfg.
func applyModelFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	strs := map[string]*string{
		"model":         &cfg.Model.Path,
		"labels":        &cfg.Model.LabelsPath,
		"advice":        &cfg.Model.AdvicePath,
		"onnx-lib":      &cfg.Model.LibraryPath,
		"normalization": &cfg.Model.Normalization,
		"channel-order": &cfg.Model.ChannelOrder,
		"layout":        &cfg.Model.Layout,
		"resize-filter": &cfg.Model.ResizeFilter,
		"model-version": &cfg.Model.Version,
		"gpu-mem-limit": &cfg.GPU.MemLimit,
	}
	for name, dst := range strs {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}

	ints := map[string]*int{
		"input-size": &cfg.Model.InputSize,
		"threads":    &cfg.Model.NumThreads,
		"warmup":     &cfg.Model.WarmupIterations,
		"gpu-device": &cfg.GPU.Device,
	}
	for name, dst := range ints {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}

	if f.Changed("gpu") {
		cfg.GPU.Enabled, _ = f.GetBool("gpu")
	}
}

// commandConfig returns the configuration with the command's model flags
// applied, validated.
func commandConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := GetConfig()
	applyModelFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// useStub reports whether --stub-model was given.
func useStub(cmd *cobra.Command) bool {
	stub, _ := cmd.Flags().GetBool("stub-model")
	return stub
}

// newStubFor returns a stub sized to the label file the pipeline will load.
func newStubFor(labelsPath string) (*classifier.StubInferer, error) {
	cat := catalog.Default()
	if labelsPath != "" {
		loaded, err := catalog.LoadFile(labelsPath)
		if err != nil {
			return nil, fmt.Errorf("load labels: %w", err)
		}
		cat = loaded
	}
	return classifier.NewStubInferer(cat.Len(), 0, stubConfidence), nil
}

// newPipeline builds the prediction pipeline without loading the model.
func newPipeline(cmd *cobra.Command, cfg *config.Config) (*pipeline.Pipeline, error) {
	b, err := cfg.PipelineBuilder()
	if err != nil {
		return nil, err
	}
	if useStub(cmd) {
		stub, err := newStubFor(b.Config().LabelsPath)
		if err != nil {
			return nil, err
		}
		b = b.WithStubInferer(stub)
	}
	pl, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return pl, nil
}

// loadPipeline builds the pipeline and loads the model.
func loadPipeline(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*pipeline.Pipeline, error) {
	pl, err := newPipeline(cmd, cfg)
	if err != nil {
		return nil, err
	}
	if err := pl.Load(ctx); err != nil {
		_ = pl.Close()
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return pl, nil
}
