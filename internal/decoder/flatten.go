package decoder

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

type opaquer interface {
	Opaque() bool
}

// Flatten converts img to an opaque NRGBA buffer anchored at (0,0).
// Palette images and images with any transparency are composited over
// white; dropping alpha directly would leave dark fringes.
// The boolean reports whether compositing happened.
func Flatten(img image.Image) (*image.NRGBA, bool) {
	_, paletted := img.(*image.Paletted)
	if o, ok := img.(opaquer); ok && o.Opaque() && !paletted {
		return imaging.Clone(img), false
	}

	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst, true
}
