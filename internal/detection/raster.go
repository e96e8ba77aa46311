package detection

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
)

// Raster is a single-channel intensity grid with values in [0,255].
//
// Pages and templates are converted to rasters once; every matcher works on
// rasters rather than image.Image so that pixel access is a slice index.
// Values produced by RasterFromImage are whole numbers, which keeps integral
// image sums exact.
type Raster struct {
	Width, Height int
	Pix           []float64
}

// NewRaster allocates a zeroed raster.
func NewRaster(width, height int) *Raster {
	return &Raster{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the intensity at (x, y). Out-of-range coordinates are clamped
// to the nearest edge pixel.
func (r *Raster) At(x, y int) float64 {
	if x < 0 {
		x = 0
	} else if x >= r.Width {
		x = r.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= r.Height {
		y = r.Height - 1
	}
	return r.Pix[y*r.Width+x]
}

// Set stores v at (x, y).
func (r *Raster) Set(x, y int, v float64) {
	r.Pix[y*r.Width+x] = v
}

// Bilinear samples the raster at a sub-pixel position, with pixel centers at
// integer coordinates.
func (r *Raster) Bilinear(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)
	a := r.At(x0, y0)
	b := r.At(x0+1, y0)
	c := r.At(x0, y0+1)
	d := r.At(x0+1, y0+1)
	top := a + (b-a)*fx
	bot := c + (d-c)*fx
	return top + (bot-top)*fy
}

// Stats returns the mean and population variance of all pixels.
func (r *Raster) Stats() (mean, variance float64) {
	n := float64(len(r.Pix))
	if n == 0 {
		return 0, 0
	}
	var s, sq float64
	for _, v := range r.Pix {
		s += v
		sq += v * v
	}
	mean = s / n
	variance = sq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, variance
}

// Image converts the raster back to an 8-bit grayscale image.
func (r *Raster) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	for i, v := range r.Pix {
		img.Pix[i] = uint8(clampByte(v))
	}
	return img
}

// Blur returns a Gaussian-smoothed copy. A non-positive sigma returns the
// receiver unchanged.
func (r *Raster) Blur(sigma float64) *Raster {
	if sigma <= 0 {
		return r
	}
	return rasterFromRGBA(blur.Gaussian(r.Image(), sigma))
}

// Resize returns a copy resampled to width x height.
func (r *Raster) Resize(width, height int) *Raster {
	if width == r.Width && height == r.Height {
		return r
	}
	return RasterFromImage(imaging.Resize(r.Image(), width, height, imaging.Linear))
}

// Pad returns a copy enlarged by n pixels on every side, filled with v.
func (r *Raster) Pad(n int, v float64) *Raster {
	out := NewRaster(r.Width+2*n, r.Height+2*n)
	for i := range out.Pix {
		out.Pix[i] = v
	}
	for y := 0; y < r.Height; y++ {
		copy(out.Pix[(y+n)*out.Width+n:], r.Pix[y*r.Width:(y+1)*r.Width])
	}
	return out
}

// RasterFromImage converts any image to intensities using BT.601 luma.
// Transparent pixels are composited over white, which is the paper color of
// a drawing.
func RasterFromImage(img image.Image) *Raster {
	b := img.Bounds()
	r := NewRaster(b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < r.Height; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+r.Width]
			for x, v := range row {
				r.Pix[y*r.Width+x] = float64(v)
			}
		}
		return r
	case *image.NRGBA:
		for y := 0; y < r.Height; y++ {
			off := y * src.Stride
			for x := 0; x < r.Width; x++ {
				p := src.Pix[off+4*x : off+4*x+4]
				r.Pix[y*r.Width+x] = flatten(p[0], p[1], p[2], p[3])
			}
		}
		return r
	}
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			r.Pix[y*r.Width+x] = flatten(c.R, c.G, c.B, c.A)
		}
	}
	return r
}

func rasterFromRGBA(img *image.RGBA) *Raster {
	b := img.Bounds()
	r := NewRaster(b.Dx(), b.Dy())
	for y := 0; y < r.Height; y++ {
		off := y * img.Stride
		for x := 0; x < r.Width; x++ {
			r.Pix[y*r.Width+x] = float64(img.Pix[off+4*x])
		}
	}
	return r
}

func flatten(r, g, b, a uint8) float64 {
	lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	if a < 255 {
		alpha := float64(a) / 255
		lum = lum*alpha + 255*(1-alpha)
	}
	return math.Round(lum)
}

func clampByte(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return math.Round(v)
}

// integral holds summed-area tables of a raster and of its squares, sized
// (w+1) x (h+1) with a zero first row and column.
type integral struct {
	w, h    int
	sum, sq []float64
}

func newIntegral(r *Raster) *integral {
	w, h := r.Width+1, r.Height+1
	ii := &integral{w: w, h: h, sum: make([]float64, w*h), sq: make([]float64, w*h)}
	for y := 1; y < h; y++ {
		var rs, rq float64
		for x := 1; x < w; x++ {
			v := r.Pix[(y-1)*r.Width+x-1]
			rs += v
			rq += v * v
			ii.sum[y*w+x] = ii.sum[(y-1)*w+x] + rs
			ii.sq[y*w+x] = ii.sq[(y-1)*w+x] + rq
		}
	}
	return ii
}

// window returns the pixel sum and sum of squares of the ww x wh window whose
// top-left corner is (x, y).
func (ii *integral) window(x, y, ww, wh int) (s, sq float64) {
	a := y*ii.w + x
	b := y*ii.w + x + ww
	c := (y+wh)*ii.w + x
	d := (y+wh)*ii.w + x + ww
	s = ii.sum[d] - ii.sum[b] - ii.sum[c] + ii.sum[a]
	sq = ii.sq[d] - ii.sq[b] - ii.sq[c] + ii.sq[a]
	return s, sq
}
