package preprocess

import (
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
)

// Normalization is the pixel transform the model was trained with. It is a
// deployment setting tied to the model artifact and never chosen per request.
type Normalization string

const (
	// UnitScale maps 0..255 to 0..1.
	UnitScale Normalization = "unit-scale"
	// SignedUnitScale maps 0..255 to -1..1.
	SignedUnitScale Normalization = "signed-unit-scale"
	// ImageNetResNet subtracts the ImageNet channel means in the 0..255 domain.
	ImageNetResNet Normalization = "imagenet-resnet"
)

// ImageNetMeanRGB holds the ImageNet per-channel means in R, G, B order.
var ImageNetMeanRGB = [3]float32{123.68, 116.779, 103.939}

// Normalizations lists every supported scheme.
var Normalizations = []Normalization{UnitScale, SignedUnitScale, ImageNetResNet}

// ParseNormalization validates a scheme name.
func ParseNormalization(s string) (Normalization, error) {
	n := Normalization(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Normalizations {
		if n == known {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown normalization %q (want one of %v)", s, Normalizations)
}

// Apply transforms one 0..255 sample of RGB channel c (0=R, 1=G, 2=B). It
// panics on a value that is not one of the canonical constants; Config.Validate
// rejects those before any pixel is touched.
func (n Normalization) Apply(v float32, c int) float32 {
	switch n {
	case UnitScale:
		return v / 255.0
	case SignedUnitScale:
		return v/127.5 - 1.0
	case ImageNetResNet:
		return v - ImageNetMeanRGB[c]
	default:
		panic(fmt.Sprintf("preprocess: unknown normalization %q", string(n)))
	}
}

// Range returns the closed interval the scheme maps 0..255 into, over all channels.
func (n Normalization) Range() (float32, float32) {
	switch n {
	case UnitScale:
		return 0, 1
	case SignedUnitScale:
		return -1, 1
	case ImageNetResNet:
		return -ImageNetMeanRGB[0], 255 - ImageNetMeanRGB[2]
	default:
		panic(fmt.Sprintf("preprocess: unknown normalization %q", string(n)))
	}
}

// ChannelOrder is the channel order written into the tensor.
type ChannelOrder string

const (
	RGB ChannelOrder = "rgb"
	// BGR is for Caffe-style artifacts trained on BGR input.
	BGR ChannelOrder = "bgr"
)

// ParseChannelOrder validates a channel order name.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch ChannelOrder(strings.ToLower(strings.TrimSpace(s))) {
	case RGB:
		return RGB, nil
	case BGR:
		return BGR, nil
	default:
		return "", fmt.Errorf("unknown channel order %q (want rgb or bgr)", s)
	}
}

// Filter names the resampling filter used for resizing.
type Filter string

const (
	Bilinear Filter = "bilinear"
	Lanczos  Filter = "lanczos"
	Nearest  Filter = "nearest"
)

// ParseFilter validates a filter name.
func ParseFilter(s string) (Filter, error) {
	switch Filter(strings.ToLower(strings.TrimSpace(s))) {
	case Bilinear:
		return Bilinear, nil
	case Lanczos:
		return Lanczos, nil
	case Nearest:
		return Nearest, nil
	default:
		return "", fmt.Errorf("unknown resize filter %q (want bilinear, lanczos or nearest)", s)
	}
}

func (f Filter) resample() imaging.ResampleFilter {
	switch f {
	case Lanczos:
		return imaging.Lanczos
	case Nearest:
		return imaging.NearestNeighbor
	default:
		return imaging.Linear
	}
}
