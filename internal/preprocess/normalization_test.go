package preprocess

import (
	"image/color"
	"testing"

	"github.com/MeKo-Tech/leafcheck/internal/testutil"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNormalization(t *testing.T) {
	for _, n := range Normalizations {
		got, err := ParseNormalization(" " + string(n) + " ")
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
	_, err := ParseNormalization("mean-std")
	assert.Error(t, err)
}

func TestParseChannelOrderAndFilter(t *testing.T) {
	o, err := ParseChannelOrder("BGR")
	require.NoError(t, err)
	assert.Equal(t, BGR, o)
	_, err = ParseChannelOrder("rgba")
	assert.Error(t, err)

	f, err := ParseFilter("Lanczos")
	require.NoError(t, err)
	assert.Equal(t, Lanczos, f)
	_, err = ParseFilter("cubic")
	assert.Error(t, err)
}

func TestApplyEndpoints(t *testing.T) {
	assert.Equal(t, float32(0), UnitScale.Apply(0, 0))
	assert.Equal(t, float32(1), UnitScale.Apply(255, 2))
	assert.Equal(t, float32(-1), SignedUnitScale.Apply(0, 1))
	assert.Equal(t, float32(1), SignedUnitScale.Apply(255, 1))
	assert.InDelta(t, -123.68, ImageNetResNet.Apply(0, 0), 1e-4)
	assert.InDelta(t, 255-103.939, ImageNetResNet.Apply(255, 2), 1e-4)
}

func TestUnknownNormalizationPanics(t *testing.T) {
	assert.Panics(t, func() { Normalization("Unit-Scale").Apply(255, 0) })
	assert.Panics(t, func() { Normalization("caffe").Range() })
}

func TestNormalizationStaysInRange(t *testing.T) {
	properties := gopter.NewProperties(nil)

	for _, n := range Normalizations {
		n := n
		lo, hi := n.Range()
		properties.Property(string(n)+" maps 0..255 into its range", prop.ForAll(
			func(v uint8, c int) bool {
				out := n.Apply(float32(v), c)
				return out >= lo-1e-4 && out <= hi+1e-4
			},
			gen.UInt8(),
			gen.IntRange(0, 2),
		))
	}

	properties.Property("normalization is monotonic per channel", prop.ForAll(
		func(a, b uint8, c int) bool {
			if a > b {
				a, b = b, a
			}
			for _, n := range Normalizations {
				if n.Apply(float32(a), c) > n.Apply(float32(b), c) {
					return false
				}
			}
			return true
		},
		gen.UInt8(),
		gen.UInt8(),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

func TestPreprocessShapeIsIndependentOfInputSize(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("any non-empty image yields a size x size tensor", prop.ForAll(
		func(w, h int) bool {
			cfg := configWith(SignedUnitScale)
			cfg.Size = 16
			tensor, err := Preprocess(testutil.CreateSolidImage(w, h, color.RGBA{R: 9, G: 99, B: 199, A: 255}), cfg)
			if err != nil {
				return false
			}
			defer Release(tensor)
			return len(tensor.Data) == 16*16*3 && tensor.Shape[1] == 16 && tensor.Shape[2] == 16
		},
		gen.IntRange(1, 300),
		gen.IntRange(1, 300),
	))

	properties.TestingRun(t)
}
