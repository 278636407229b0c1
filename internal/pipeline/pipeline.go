// Package pipeline wires the decoder, preprocessor, classifier and result
// formatter into one prediction call, and runs it over many files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/leafcheck/internal/catalog"
	"github.com/MeKo-Tech/leafcheck/internal/classifier"
	"github.com/MeKo-Tech/leafcheck/internal/common"
	"github.com/MeKo-Tech/leafcheck/internal/decoder"
	"github.com/MeKo-Tech/leafcheck/internal/models"
	"github.com/MeKo-Tech/leafcheck/internal/onnx"
	"github.com/MeKo-Tech/leafcheck/internal/prediction"
	"github.com/MeKo-Tech/leafcheck/internal/preprocess"
)

// DefaultModelVersion is reported in the minimal schema metadata.
const DefaultModelVersion = "ResNet101"

// Config holds configuration for the prediction pipeline and its components.
type Config struct {
	ModelsDir        string
	Model            classifier.ModelConfig
	Preprocess       preprocess.Config
	LabelsPath       string // empty: embedded PlantVillage labels
	AdvicePath       string // empty: built-in advice table
	ModelVersion     string
	WarmupIterations int
	StageDir         string // optional temp-file staging for uploads

	// Stub replaces the ONNX model with a fixed score vector.
	Stub *classifier.StubInferer

	Parallel ParallelConfig
}

// DefaultConfig returns a config for the shipped ResNet101 artifact.
func DefaultConfig() Config {
	dir := models.GetModelsDir("")
	return Config{
		ModelsDir: dir,
		Model: classifier.ModelConfig{
			ModelPath: models.GetClassifierModelPath(dir, ""),
			GPU:       onnx.DefaultGPUConfig(),
			Layout:    onnx.LayoutNHWC,
		},
		Preprocess:   preprocess.DefaultConfig(),
		LabelsPath:   models.GetLabelsPath(dir),
		AdvicePath:   models.GetAdvicePath(dir),
		ModelVersion: DefaultModelVersion,
		Parallel:     DefaultParallelConfig(),
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg          Config
	modelPathSet bool
	labelsSet    bool
	adviceSet    bool
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithModelsDir sets the models directory and re-resolves every artifact
// path that was not set explicitly.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir == "" {
		return b
	}
	b.cfg.ModelsDir = dir
	if !b.modelPathSet {
		b.cfg.Model.ModelPath = models.GetClassifierModelPath(dir, "")
	}
	if !b.labelsSet {
		b.cfg.LabelsPath = models.GetLabelsPath(dir)
	}
	if !b.adviceSet {
		b.cfg.AdvicePath = models.GetAdvicePath(dir)
	}
	return b
}

// WithModelPath overrides the classifier model path directly.
func (b *Builder) WithModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Model.ModelPath = path
		b.modelPathSet = true
	}
	return b
}

// WithLibraryPath sets the ONNX Runtime shared library.
func (b *Builder) WithLibraryPath(path string) *Builder {
	b.cfg.Model.LibraryPath = path
	return b
}

// WithLabelsPath overrides the class labels file.
func (b *Builder) WithLabelsPath(path string) *Builder {
	if path != "" {
		b.cfg.LabelsPath = path
		b.labelsSet = true
	}
	return b
}

// WithAdvicePath overrides the advice file.
func (b *Builder) WithAdvicePath(path string) *Builder {
	if path != "" {
		b.cfg.AdvicePath = path
		b.adviceSet = true
	}
	return b
}

// WithNormalization selects the pixel normalization the model was trained with.
func (b *Builder) WithNormalization(n preprocess.Normalization) *Builder {
	if n != "" {
		b.cfg.Preprocess.Normalization = n
	}
	return b
}

// WithChannelOrder selects the channel order of the model input.
func (b *Builder) WithChannelOrder(order preprocess.ChannelOrder) *Builder {
	if order != "" {
		b.cfg.Preprocess.ChannelOrder = order
	}
	return b
}

// WithLayout sets the tensor layout for both the preprocessor and the model check.
func (b *Builder) WithLayout(layout onnx.Layout) *Builder {
	if layout != "" {
		b.cfg.Preprocess.Layout = layout
		b.cfg.Model.Layout = layout
	}
	return b
}

// WithInputSize sets the square input resolution.
func (b *Builder) WithInputSize(size int) *Builder {
	if size > 0 {
		b.cfg.Preprocess.Size = size
	}
	return b
}

// WithResizeFilter selects the resampling filter.
func (b *Builder) WithResizeFilter(f preprocess.Filter) *Builder {
	if f != "" {
		b.cfg.Preprocess.Filter = f
	}
	return b
}

// WithModelVersion sets the version string reported in responses.
func (b *Builder) WithModelVersion(v string) *Builder {
	if v != "" {
		b.cfg.ModelVersion = v
	}
	return b
}

// WithThreads sets the intra-op thread count (if >0).
func (b *Builder) WithThreads(n int) *Builder {
	if n > 0 {
		b.cfg.Model.NumThreads = n
	}
	return b
}

// WithWarmupIterations sets model warmup runs to reduce cold-start latency.
func (b *Builder) WithWarmupIterations(n int) *Builder {
	if n >= 0 {
		b.cfg.WarmupIterations = n
	}
	return b
}

// WithStageDir stages uploads through temp files in dir.
func (b *Builder) WithStageDir(dir string) *Builder {
	b.cfg.StageDir = dir
	return b
}

// WithGPU enables CUDA execution.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.Model.GPU.UseGPU = enabled
	return b
}

// WithGPUDevice sets the CUDA device ID.
func (b *Builder) WithGPUDevice(deviceID int) *Builder {
	b.cfg.Model.GPU.DeviceID = deviceID
	return b
}

// WithGPUMemoryLimit sets the GPU memory limit in bytes.
func (b *Builder) WithGPUMemoryLimit(limitBytes uint64) *Builder {
	b.cfg.Model.GPU.GPUMemLimit = limitBytes
	return b
}

// WithStubInferer replaces the model with s. Model paths are not checked.
func (b *Builder) WithStubInferer(s *classifier.StubInferer) *Builder {
	b.cfg.Stub = s
	return b
}

// WithParallelWorkers sets the number of workers for multi-file prediction.
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	if workers > 0 {
		b.cfg.Parallel.MaxWorkers = workers
	}
	return b
}

// WithProgressCallback sets the progress callback for multi-file prediction.
func (b *Builder) WithProgressCallback(callback ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = callback
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks that artifact files exist and the input contract is sane.
func (b *Builder) Validate() error {
	if err := b.cfg.Preprocess.Validate(); err != nil {
		return fmt.Errorf("preprocess config: %w", err)
	}
	if b.cfg.Preprocess.Layout != b.cfg.Model.Layout {
		return fmt.Errorf("layout mismatch: preprocess %s, model %s", b.cfg.Preprocess.Layout, b.cfg.Model.Layout)
	}
	if b.cfg.WarmupIterations < 0 {
		return errors.New("warmup iterations must be >= 0")
	}
	// A missing model file is a load failure, reported through the
	// classifier state, not a build error.
	if b.cfg.Stub == nil && b.cfg.Model.ModelPath == "" {
		return errors.New("model path is empty")
	}
	for _, p := range []string{b.cfg.LabelsPath, b.cfg.AdvicePath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("file not found: %s", p)
		}
	}
	if b.cfg.StageDir != "" {
		if st, err := os.Stat(b.cfg.StageDir); err != nil || !st.IsDir() {
			return fmt.Errorf("stage directory not usable: %s", b.cfg.StageDir)
		}
	}
	return nil
}

// Pipeline wires the prediction stages together. It is safe for concurrent use.
type Pipeline struct {
	cfg        Config
	Catalog    *catalog.Catalog
	Advice     *catalog.Advice
	Decoder    *decoder.Decoder
	Classifier *classifier.Classifier
	Profiler   *Profiler
}

// Build loads the catalog and advice table and prepares the classifier.
// The model itself is opened by Load, so a server can start answering
// health checks while it loads.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	cat := catalog.Default()
	if b.cfg.LabelsPath != "" {
		loaded, err := catalog.LoadFile(b.cfg.LabelsPath)
		if err != nil {
			return nil, fmt.Errorf("load labels: %w", err)
		}
		cat = loaded
	}

	advice := catalog.DefaultAdviceTable()
	if b.cfg.AdvicePath != "" {
		loaded, err := catalog.LoadAdvice(b.cfg.AdvicePath)
		if err != nil {
			return nil, fmt.Errorf("load advice: %w", err)
		}
		advice = loaded
	}

	load := classifier.ONNXLoader(b.cfg.Model)
	if b.cfg.Stub != nil {
		load = classifier.StubLoader(b.cfg.Stub)
	}

	slog.Debug("Pipeline built", "classes", cat.Len(), "advice_entries", advice.Len(),
		"model", b.cfg.Model.ModelPath, "stub", b.cfg.Stub != nil)

	return &Pipeline{
		cfg:        b.cfg,
		Catalog:    cat,
		Advice:     advice,
		Decoder:    decoder.New(decoder.Config{StageDir: b.cfg.StageDir}),
		Classifier: classifier.New(cat, b.cfg.Preprocess, load),
		Profiler:   &Profiler{},
	}, nil
}

// Load opens the model and runs the configured warmup.
func (p *Pipeline) Load(ctx context.Context) error {
	if err := p.Classifier.Load(ctx); err != nil {
		return err
	}
	if err := p.Classifier.Warmup(ctx, p.cfg.WarmupIterations); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	return nil
}

// Ready reports whether predictions can be served.
func (p *Pipeline) Ready() bool { return p.Classifier.Ready() }

func (p *Pipeline) checkReady() error {
	if p.Classifier.Ready() {
		return nil
	}
	if err := p.Classifier.LoadError(); err != nil {
		return fmt.Errorf("%w: %w", classifier.ErrModelNotReady, err)
	}
	return classifier.ErrModelNotReady
}

// PredictBytes decodes data and classifies it.
func (p *Pipeline) PredictBytes(ctx context.Context, data []byte, src decoder.Source) (*prediction.Result, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	timer := common.NewNamedTimer("predict")
	img, _, err := p.Decoder.Decode(data, src)
	if err != nil {
		p.Profiler.RecordFailure()
		return nil, err
	}
	timer.Lap(StageDecode)
	return p.predict(ctx, img, src.Filename, timer)
}

// PredictBase64 decodes a base64 string or data-URI and classifies it.
func (p *Pipeline) PredictBase64(ctx context.Context, s, imageName string) (*prediction.Result, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	timer := common.NewNamedTimer("predict")
	img, _, err := p.Decoder.DecodeBase64(s)
	if err != nil {
		p.Profiler.RecordFailure()
		return nil, err
	}
	timer.Lap(StageDecode)
	return p.predict(ctx, img, imageName, timer)
}

// PredictFile loads an image from disk and classifies it.
func (p *Pipeline) PredictFile(ctx context.Context, path string) (*prediction.Result, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	timer := common.NewNamedTimer("predict")
	img, _, err := p.Decoder.LoadFile(path)
	if err != nil {
		p.Profiler.RecordFailure()
		return nil, err
	}
	timer.Lap(StageDecode)
	return p.predict(ctx, img, filepath.Base(path), timer)
}

// PredictImage classifies an already decoded image.
func (p *Pipeline) PredictImage(ctx context.Context, img image.Image, imageName string) (*prediction.Result, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, decoder.ErrEmptyInput
	}
	timer := common.NewNamedTimer("predict")
	rgb, _ := decoder.Flatten(img)
	timer.Lap(StageDecode)
	return p.predict(ctx, rgb, imageName, timer)
}

func (p *Pipeline) predict(ctx context.Context, img image.Image, imageName string, timer *common.Timer) (*prediction.Result, error) {
	tensor, err := preprocess.Preprocess(img, p.cfg.Preprocess)
	if err != nil {
		p.Profiler.RecordFailure()
		return nil, err
	}
	defer preprocess.Release(tensor)
	timer.Lap(StagePreprocess)
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		lo, hi, mean := onnx.TensorStats(tensor.Data)
		slog.Debug("Input tensor", "image", imageName, "shape", tensor.Shape, "min", lo, "max", hi, "mean", mean)
	}

	scores, err := p.Classifier.Classify(ctx, tensor)
	if err != nil {
		p.Profiler.RecordFailure()
		return nil, err
	}
	timer.Lap(StageInference)

	res, err := prediction.NewResult(scores, p.Catalog, p.Advice, prediction.Meta{
		ImageName:    imageName,
		ModelVersion: p.cfg.ModelVersion,
		ImageSize:    p.cfg.Preprocess.Size,
	})
	if err != nil {
		p.Profiler.RecordFailure()
		return nil, err
	}
	timer.Lap(StageRank)
	res.ProcessingTime = timer.Stop()

	p.Profiler.Record(timer.Laps())
	slog.Debug("Prediction complete",
		append([]any{"image", imageName, "top", res.Top.Label, "confidence", res.Top.Confidence}, timer.LogAttrs()...)...)
	return res, nil
}

// Close releases the model.
func (p *Pipeline) Close() error {
	if p == nil || p.Classifier == nil {
		return nil
	}
	return p.Classifier.Close()
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Info returns a map with key pipeline properties and model state.
func (p *Pipeline) Info() map[string]interface{} {
	info := map[string]interface{}{
		"models_dir":    p.cfg.ModelsDir,
		"model_path":    p.cfg.Model.ModelPath,
		"model_version": p.cfg.ModelVersion,
		"stub":          p.cfg.Stub != nil,
		"state":         p.Classifier.State().String(),
		"classes":       p.Catalog.Len(),
		"advice":        p.Advice.Len(),
	}
	if err := p.Classifier.LoadError(); err != nil {
		info["load_error"] = err.Error()
	}
	info["preprocess"] = map[string]interface{}{
		"input_size":    p.cfg.Preprocess.Size,
		"normalization": string(p.cfg.Preprocess.Normalization),
		"channel_order": string(p.cfg.Preprocess.ChannelOrder),
		"layout":        string(p.cfg.Preprocess.Layout),
		"resize_filter": string(p.cfg.Preprocess.Filter),
	}
	info["gpu"] = map[string]interface{}{
		"enabled":   p.cfg.Model.GPU.UseGPU,
		"device_id": p.cfg.Model.GPU.DeviceID,
	}
	info["parallel"] = map[string]interface{}{
		"max_workers":           p.cfg.Parallel.MaxWorkers,
		"has_progress_callback": p.cfg.Parallel.ProgressCallback != nil,
	}
	info["profile"] = p.Profiler.Snapshot()
	return info
}
