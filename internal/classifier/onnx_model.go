package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/leafcheck/internal/onnx"
	onnxrt "github.com/yalue/onnxruntime_go"
)

// ModelConfig locates the model artifact and the runtime that executes it.
type ModelConfig struct {
	ModelPath   string
	LibraryPath string
	NumThreads  int
	GPU         onnx.GPUConfig
	Layout      onnx.Layout
}

// onnxModel runs a single-input, single-output image classifier.
type onnxModel struct {
	session    *onnxrt.DynamicAdvancedSession
	inputInfo  onnxrt.InputOutputInfo
	outputInfo onnxrt.InputOutputInfo
	classes    int
}

// ONNXLoader returns a Loader that opens cfg.ModelPath with ONNX Runtime.
func ONNXLoader(cfg ModelConfig) Loader {
	return func(ctx context.Context) (Inferer, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return OpenONNX(cfg)
	}
}

// OpenONNX initializes the runtime and creates a session for the model.
func OpenONNX(cfg ModelConfig) (Inferer, error) {
	if err := validateModelPath(cfg.ModelPath); err != nil {
		return nil, err
	}
	if err := onnx.ValidateGPUConfig(cfg.GPU); err != nil {
		return nil, fmt.Errorf("gpu config: %w", err)
	}
	if err := onnx.EnsureEnvironment(cfg.LibraryPath, cfg.GPU.UseGPU); err != nil {
		return nil, fmt.Errorf("onnx runtime: %w", err)
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("io info: %w", err)
	}
	in, out, err := validateModelIO(inputs, outputs, cfg.Layout)
	if err != nil {
		return nil, err
	}

	opts, err := onnx.NewSessionOptions(cfg.NumThreads, cfg.GPU)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Error destroying session options", "error", err)
		}
	}()

	sess, err := onnxrt.NewDynamicAdvancedSession(cfg.ModelPath, []string{in.Name}, []string{out.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	m := &onnxModel{session: sess, inputInfo: in, outputInfo: out}
	if d := out.Dimensions; len(d) > 0 && d[len(d)-1] > 0 {
		m.classes = int(d[len(d)-1])
	}
	slog.Info("ONNX model opened", "path", cfg.ModelPath, "input", in.Name,
		"input_shape", []int64(in.Dimensions), "output", out.Name, "output_shape", []int64(out.Dimensions))
	return m, nil
}

func validateModelPath(modelPath string) error {
	if modelPath == "" {
		return errors.New("empty model path")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("model file: %w", err)
	}
	return nil
}

func validateModelIO(inputs, outputs []onnxrt.InputOutputInfo, layout onnx.Layout) (onnxrt.InputOutputInfo, onnxrt.InputOutputInfo, error) {
	if len(inputs) != 1 || len(outputs) != 1 {
		return onnxrt.InputOutputInfo{}, onnxrt.InputOutputInfo{},
			fmt.Errorf("unexpected io (in:%d out:%d)", len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]

	if len(in.Dimensions) != 4 {
		return onnxrt.InputOutputInfo{}, onnxrt.InputOutputInfo{},
			fmt.Errorf("expected 4D input, got %dD", len(in.Dimensions))
	}
	channelDim := 3
	if layout == onnx.LayoutNCHW {
		channelDim = 1
	}
	if c := in.Dimensions[channelDim]; c > 0 && c != 3 {
		return onnxrt.InputOutputInfo{}, onnxrt.InputOutputInfo{},
			fmt.Errorf("input %v does not have 3 channels in %s layout", in.Dimensions, layout)
	}
	if in.DataType != onnxrt.TensorElementDataTypeFloat {
		return onnxrt.InputOutputInfo{}, onnxrt.InputOutputInfo{},
			fmt.Errorf("expected float32 input, got %v", in.DataType)
	}
	return in, out, nil
}

func (m *onnxModel) Classes() int { return m.classes }

func (m *onnxModel) Infer(ctx context.Context, t *onnx.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	if err := onnx.VerifyImageTensor(*t); err != nil {
		return nil, err
	}

	input, err := onnxrt.NewTensor(onnxrt.NewShape(t.Shape...), t.Data)
	if err != nil {
		return nil, fmt.Errorf("tensor: %w", err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			slog.Warn("Error destroying input tensor", "error", err)
		}
	}()

	outputs := []onnxrt.Value{nil}
	if err := m.session.Run([]onnxrt.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				if err := o.Destroy(); err != nil {
					slog.Warn("Error destroying output tensor", "error", err)
				}
			}
		}
	}()

	out, ok := outputs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	shape := out.GetShape()
	if len(shape) != 2 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}

	// The output tensor owns its data; copy before it is destroyed.
	data := out.GetData()
	scores := make([]float32, len(data))
	copy(scores, data)
	return scores, nil
}

func (m *onnxModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
