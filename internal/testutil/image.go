package testutil

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test image sizes.
	SmallSize  = ImageSize{64, 48}
	MediumSize = ImageSize{320, 240}
	LargeSize  = ImageSize{1024, 768}
)

// LeafImageConfig holds configuration for generating synthetic leaf photos.
type LeafImageConfig struct {
	Size       ImageSize
	Background color.Color
	Leaf       color.Color
	Spot       color.Color
	Spots      int    // number of lesion spots
	Caption    string // optional text drawn in the corner
}

// DefaultLeafImageConfig returns a healthy-looking green leaf on soil brown.
func DefaultLeafImageConfig() LeafImageConfig {
	return LeafImageConfig{
		Size:       MediumSize,
		Background: color.RGBA{R: 110, G: 85, B: 60, A: 255},
		Leaf:       color.RGBA{R: 60, G: 150, B: 50, A: 255},
		Spot:       color.RGBA{R: 90, G: 60, B: 30, A: 255},
		Spots:      0,
	}
}

// GenerateLeafImage draws an elliptical leaf with optional lesion spots.
func GenerateLeafImage(config LeafImageConfig) *image.RGBA {
	w, h := config.Size.Width, config.Size.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{config.Background}, image.Point{}, draw.Src)

	cx, cy := float64(w)/2, float64(h)/2
	rx, ry := float64(w)*0.4, float64(h)*0.3
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := (float64(x)-cx)/rx, (float64(y)-cy)/ry
			if dx*dx+dy*dy <= 1 {
				img.Set(x, y, config.Leaf)
			}
		}
	}

	for i := 0; i < config.Spots; i++ {
		angle := float64(i) * 2 * math.Pi / float64(config.Spots)
		sx := int(cx + rx*0.5*math.Cos(angle))
		sy := int(cy + ry*0.5*math.Sin(angle))
		r := max(2, w/40)
		for y := sy - r; y <= sy+r; y++ {
			for x := sx - r; x <= sx+r; x++ {
				if (x-sx)*(x-sx)+(y-sy)*(y-sy) <= r*r {
					img.Set(x, y, config.Spot)
				}
			}
		}
	}

	if config.Caption != "" {
		d := &font.Drawer{Dst: img, Src: image.NewUniform(color.White), Face: basicfont.Face7x13}
		d.Dot = fixed.P(4, basicfont.Face7x13.Metrics().Height.Ceil())
		d.DrawString(config.Caption)
	}
	return img
}

// CreateSolidImage creates an opaque image filled with c.
func CreateSolidImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// CreateTransparentImage creates an NRGBA image where every pixel has the
// given color and alpha.
func CreateTransparentImage(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// CreatePalettedImage creates a palette-indexed image using the web-safe palette.
func CreatePalettedImage(width, height int, c color.Color) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, width, height), palette.WebSafe)
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// EncodePNG encodes img as PNG.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "Failed to encode PNG image")
	return buf.Bytes()
}

// EncodeJPEG encodes img as JPEG at the given quality.
func EncodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}), "Failed to encode JPEG image")
	return buf.Bytes()
}

// EncodeGIF encodes img as GIF.
func EncodeGIF(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil), "Failed to encode GIF image")
	return buf.Bytes()
}

// Base64 encodes data with standard padding.
func Base64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DataURI wraps data in a data:<mime>;base64, URI.
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + Base64(data)
}

// SaveImage saves an image to path, as JPEG for .jpg/.jpeg and PNG otherwise.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)

	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		data = EncodeJPEG(t, img, 90)
	default:
		data = EncodePNG(t, img)
	}
	require.NoError(t, os.WriteFile(path, data, 0o600), "Failed to write image %s", path)
}

// CompareImages reports whether two images have the same bounds and a mean
// absolute channel difference (0-255 scale) within tolerance.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	b1, b2 := img1.Bounds(), img2.Bounds()
	if b1.Dx() != b2.Dx() || b1.Dy() != b2.Dy() {
		return false
	}

	var total float64
	for y := 0; y < b1.Dy(); y++ {
		for x := 0; x < b1.Dx(); x++ {
			r1, g1, bl1, _ := img1.At(b1.Min.X+x, b1.Min.Y+y).RGBA()
			r2, g2, bl2, _ := img2.At(b2.Min.X+x, b2.Min.Y+y).RGBA()
			total += math.Abs(float64(r1>>8)-float64(r2>>8)) +
				math.Abs(float64(g1>>8)-float64(g2>>8)) +
				math.Abs(float64(bl1>>8)-float64(bl2>>8))
		}
	}
	mean := total / float64(3*b1.Dx()*b1.Dy())
	return mean <= tolerance
}
