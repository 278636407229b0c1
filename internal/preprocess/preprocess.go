// Package preprocess turns a decoded RGB image into the model input tensor:
// resize, cast to float32, normalize, add the batch dimension.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/leafcheck/internal/mempool"
	"github.com/MeKo-Tech/leafcheck/internal/onnx"
	"github.com/disintegration/imaging"
)

// DefaultInputSize is the input resolution of the PlantVillage ResNet family.
const DefaultInputSize = 224

// ErrPreprocess is matched by every error returned from Preprocess.
var ErrPreprocess = errors.New("preprocess failed")

// Config is the fixed preprocessing contract of one model artifact.
type Config struct {
	Size          int
	Normalization Normalization
	ChannelOrder  ChannelOrder
	Layout        onnx.Layout
	Filter        Filter
}

// DefaultConfig matches the shipped ResNet101 Keras export.
func DefaultConfig() Config {
	return Config{
		Size:          DefaultInputSize,
		Normalization: ImageNetResNet,
		ChannelOrder:  RGB,
		Layout:        onnx.LayoutNHWC,
		Filter:        Bilinear,
	}
}

// Validate checks every field holds a canonical known value. Names that only
// parse after case folding are rejected, since the transforms compare
// against the canonical constants.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.Size)
	}
	n, err := ParseNormalization(string(c.Normalization))
	if err != nil {
		return err
	}
	if err := canonical("normalization", string(c.Normalization), string(n)); err != nil {
		return err
	}
	order, err := ParseChannelOrder(string(c.ChannelOrder))
	if err != nil {
		return err
	}
	if err := canonical("channel order", string(c.ChannelOrder), string(order)); err != nil {
		return err
	}
	layout, err := onnx.ParseLayout(string(c.Layout))
	if err != nil {
		return err
	}
	if err := canonical("tensor layout", string(c.Layout), string(layout)); err != nil {
		return err
	}
	filter, err := ParseFilter(string(c.Filter))
	if err != nil {
		return err
	}
	return canonical("resize filter", string(c.Filter), string(filter))
}

func canonical(field, got, want string) error {
	if got != want {
		return fmt.Errorf("%s %q is not canonical, use %q", field, got, want)
	}
	return nil
}

// Error records which preprocessing step failed. It matches ErrPreprocess.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("preprocess %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrPreprocess, e.Err} }

func fail(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// Preprocess resizes img to Size x Size and writes the normalized tensor.
// The tensor data comes from a pool; hand it back with Release.
func Preprocess(img image.Image, cfg Config) (*onnx.Tensor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fail("config", err)
	}
	if img == nil {
		return nil, fail("input", errors.New("image is nil"))
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fail("input", fmt.Errorf("invalid image dimensions %dx%d", b.Dx(), b.Dy()))
	}

	resized := imaging.Resize(img, cfg.Size, cfg.Size, cfg.Filter.resample())

	size := cfg.Size
	data := mempool.GetFloat32(3 * size * size)
	fill(data, resized, cfg)

	t, err := onnx.NewImageTensor(data, cfg.Layout, size, size, 3)
	if err != nil {
		mempool.PutFloat32(data)
		return nil, fail("tensor", err)
	}
	return &t, nil
}

// fill writes every pixel of the square NRGBA image into data.
func fill(data []float32, img *image.NRGBA, cfg Config) {
	size := cfg.Size
	plane := size * size

	// src[k] is the RGB channel written to output channel k.
	src := [3]int{0, 1, 2}
	if cfg.ChannelOrder == BGR {
		src = [3]int{2, 1, 0}
	}

	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+size*4]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			for k := 0; k < 3; k++ {
				c := src[k]
				v := cfg.Normalization.Apply(float32(px[c]), c)
				if cfg.Layout == onnx.LayoutNCHW {
					data[k*plane+y*size+x] = v
				} else {
					data[(y*size+x)*3+k] = v
				}
			}
		}
	}
}

// Release returns the tensor buffer to the pool. The tensor must not be used afterwards.
func Release(t *onnx.Tensor) {
	if t == nil {
		return
	}
	mempool.PutFloat32(t.Data)
	t.Data = nil
}
