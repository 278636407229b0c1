package onnx

import (
	"errors"
	"fmt"
	"strings"
)

// Layout names the memory order of a single-image tensor.
type Layout string

const (
	// LayoutNHWC is [N, H, W, C], the layout of Keras exports.
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW is [N, C, H, W], the layout of PyTorch exports.
	LayoutNCHW Layout = "nchw"
)

// ParseLayout parses a layout name case-insensitively.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case LayoutNHWC:
		return LayoutNHWC, nil
	case LayoutNCHW:
		return LayoutNCHW, nil
	default:
		return "", fmt.Errorf("unknown tensor layout %q (want nhwc or nchw)", s)
	}
}

// Tensor represents a simple float32 tensor prepared for ONNX input.
// Data layout is row-major in the order named by Layout.
type Tensor struct {
	Data   []float32
	Shape  []int64 // e.g., [1, H, W, C]
	Layout Layout
}

// NewImageTensor builds a single-image tensor with a leading batch dimension of 1.
// data must be length c*h*w in the given layout.
func NewImageTensor(data []float32, layout Layout, h, w, c int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	expected := c * h * w
	if len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	var shape []int64
	switch layout {
	case LayoutNHWC:
		shape = []int64{1, int64(h), int64(w), int64(c)}
	case LayoutNCHW:
		shape = []int64{1, int64(c), int64(h), int64(w)}
	default:
		return Tensor{}, fmt.Errorf("unknown tensor layout %q", layout)
	}
	return Tensor{Data: data, Shape: shape, Layout: layout}, nil
}

// ValidateImageShape ensures a shape is rank 4 with positive dimensions.
func ValidateImageShape(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// Dims returns height, width and channels of an image tensor.
func (t Tensor) Dims() (h, w, c int) {
	if len(t.Shape) != 4 {
		return 0, 0, 0
	}
	if t.Layout == LayoutNCHW {
		return int(t.Shape[2]), int(t.Shape[3]), int(t.Shape[1])
	}
	return int(t.Shape[1]), int(t.Shape[2]), int(t.Shape[3])
}

// TensorStats computes simple statistics for debug output.
func TensorStats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	var minVal, maxVal, mean float32
	minVal, maxVal = data[0], data[0]
	var sum float64
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
		sum += float64(v)
	}
	mean = float32(sum / float64(len(data)))
	return minVal, maxVal, mean
}

// VerifyImageTensor checks data length matches the tensor shape.
func VerifyImageTensor(t Tensor) error {
	if err := ValidateImageShape(t.Shape); err != nil {
		return err
	}
	expected := int(t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3])
	if len(t.Data) != expected {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), expected, t.Shape)
	}
	return nil
}
