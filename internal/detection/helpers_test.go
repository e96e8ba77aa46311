package detection

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
)

// newPaper returns a white grayscale page.
func newPaper(width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

// fillRect paints a solid black rectangle [x0,x1) x [y0,y1).
func fillRect(img *image.Gray, x0, y0, x1, y1 int) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
}

// glyphImage draws an asymmetric test symbol: a thin frame around a heavy L
// and a filled square, so that no rotation or flip maps it onto itself.
func glyphImage(size int) *image.Gray {
	img := newPaper(size, size)
	u := func(f float64) int { return int(f * float64(size)) }
	t := max(2, size/20)
	in := max(1, size/32)
	fillRect(img, in, in, size-in, in+t)
	fillRect(img, in, size-in-t, size-in, size-in)
	fillRect(img, in, in, in+t, size-in)
	fillRect(img, size-in-t, in, size-in, size-in)

	fillRect(img, u(0.19), u(0.19), u(0.31), u(0.81))
	fillRect(img, u(0.19), u(0.69), u(0.69), u(0.81))
	fillRect(img, u(0.59), u(0.22), u(0.81), u(0.44))
	return img
}

// rectGlyph draws a non-square asymmetric symbol.
func rectGlyph(w, h int) *image.Gray {
	img := newPaper(w, h)
	fillRect(img, 1, 1, w-1, 3)
	fillRect(img, 1, 1, 3, h-1)
	fillRect(img, w/2, h/2, w-2, h-2)
	return img
}

// paste overwrites dst with src at (x, y).
func paste(dst *image.Gray, src image.Image, x, y int) {
	b := src.Bounds()
	draw.Draw(dst, image.Rect(x, y, x+b.Dx(), y+b.Dy()), src, b.Min, draw.Src)
}

func mustTemplate(t *testing.T, name string, img image.Image) *Template {
	t.Helper()
	tmpl, err := NewTemplate(name, img, 0)
	if err != nil {
		t.Fatalf("NewTemplate(%s) failed: %v", name, err)
	}
	return tmpl
}

// variantAt returns the generated variant with the given scale and rotation.
func variantAt(t *testing.T, tmpl *Template, scale, rot float64) Variant {
	t.Helper()
	for _, v := range GenerateVariants(tmpl, []float64{scale}, []float64{rot}) {
		return v
	}
	t.Fatalf("no variant at scale %g rotation %g", scale, rot)
	return Variant{}
}

// templateOnlyContext builds a context that runs only the correlation layer.
func templateOnlyContext(t *testing.T, cfg Config, templates ...*Template) *DetectionContext {
	t.Helper()
	dc, err := NewDetectionContext(NewRegistry(templates...), cfg, WithLayers(NewTemplateMatcher(cfg)))
	if err != nil {
		t.Fatalf("NewDetectionContext failed: %v", err)
	}
	return dc
}

func boxNear(b Box, x0, y0, x1, y1, tol float64) bool {
	abs := func(v float64) float64 {
		if v < 0 {
			return -v
		}
		return v
	}
	return abs(b.X0-x0) <= tol && abs(b.Y0-y0) <= tol && abs(b.X1-x1) <= tol && abs(b.Y1-y1) <= tol
}
