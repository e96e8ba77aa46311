package detection

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Variant is one scaled and rotated copy of a template, prepared for
// correlation.
type Variant struct {
	Scale    float64
	Rotation float64 // degrees counter-clockwise, in [0,360)
	Image    *image.NRGBA
	Gray     *Raster
	Width    int
	Height   int

	zeroMean []float64 // Gray minus its mean
	norm     float64   // sqrt of the sum of squares of zeroMean
}

// GenerateVariants produces one variant per (rotation, scale) pair, in
// rotation-major order. Variants smaller than 3 pixels on a side, or whose
// resampling left no contrast, are omitted.
//
// Rotations by multiples of 90 degrees are lossless. Other angles expand the
// canvas to hold the whole rotated glyph and fill the corners with the
// template's background intensity.
func GenerateVariants(t *Template, scales, rotations []float64) []Variant {
	return generateVariants(t, scales, rotations, 1)
}

// generateVariants resamples by scale*ratio while reporting the nominal
// scale. ratio converts between template and page resolution.
func generateVariants(t *Template, scales, rotations []float64, ratio float64) []Variant {
	var out []Variant
	for _, rot := range rotations {
		rot = normalizeAngle(rot)
		for _, s := range scales {
			f := s * ratio
			w := int(math.Round(float64(t.Width) * f))
			h := int(math.Round(float64(t.Height) * f))
			if w < minTemplateSide || h < minTemplateSide {
				continue
			}
			img := t.Image
			if w != t.Width || h != t.Height {
				img = imaging.Resize(t.Image, w, h, imaging.Lanczos)
			}
			img = rotateImage(img, rot, t.background)
			v, ok := newVariant(img, s, rot)
			if !ok {
				continue
			}
			out = append(out, v)
		}
	}
	return out
}

func newVariant(img *image.NRGBA, scale, rot float64) (Variant, bool) {
	g := RasterFromImage(img)
	mean, variance := g.Stats()
	if variance < 1e-9 {
		return Variant{}, false
	}
	zm := make([]float64, len(g.Pix))
	var sq float64
	for i, v := range g.Pix {
		d := v - mean
		zm[i] = d
		sq += d * d
	}
	return Variant{
		Scale:    scale,
		Rotation: rot,
		Image:    img,
		Gray:     g,
		Width:    g.Width,
		Height:   g.Height,
		zeroMean: zm,
		norm:     math.Sqrt(sq),
	}, true
}

func rotateImage(img *image.NRGBA, deg, bg float64) *image.NRGBA {
	switch deg {
	case 0:
		return img
	case 90:
		return imaging.Rotate90(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate270(img)
	}
	v := uint8(clampByte(bg))
	return imaging.Rotate(img, deg, color.NRGBA{R: v, G: v, B: v, A: 255})
}

// normalizeAngle maps degrees into [0,360).
func normalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}
