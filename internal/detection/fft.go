package detection

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// fftTile bounds the transform size so memory stays flat on large pages.
// Pages wider or taller than this are correlated tile by tile.
const fftTile = 1024

// smoothSize returns the smallest n' >= n whose only prime factors are 2, 3
// and 5.
func smoothSize(n int) int {
	for m := n; ; m++ {
		r := m
		for _, p := range []int{2, 3, 5} {
			for r%p == 0 {
				r /= p
			}
		}
		if r == 1 {
			return m
		}
	}
}

// fftPlanSize picks the transform dimensions for a w x h variant over a
// W x H page.
func fftPlanSize(W, H, w, h int) (n, m int) {
	n = smoothSize(min(W, max(fftTile, 2*w)))
	m = smoothSize(min(H, max(fftTile, 2*h)))
	return n, m
}

// fft2 is a 2-D complex transform of an n x m row-major grid. It is not safe
// for concurrent use.
type fft2 struct {
	n, m       int
	rows, cols *fourier.CmplxFFT
	line, out  []complex128
}

func newFFT2(n, m int) *fft2 {
	k := max(n, m)
	return &fft2{
		n:    n,
		m:    m,
		rows: fourier.NewCmplxFFT(n),
		cols: fourier.NewCmplxFFT(m),
		line: make([]complex128, k),
		out:  make([]complex128, k),
	}
}

// transform runs the forward transform in place, or the unnormalized
// inverse when inverse is set.
func (f *fft2) transform(data []complex128, inverse bool) {
	out := f.out[:f.n]
	for y := 0; y < f.m; y++ {
		row := data[y*f.n : (y+1)*f.n]
		if inverse {
			f.rows.Sequence(out, row)
		} else {
			f.rows.Coefficients(out, row)
		}
		copy(row, out)
	}
	col := f.line[:f.m]
	out = f.out[:f.m]
	for x := 0; x < f.n; x++ {
		for y := 0; y < f.m; y++ {
			col[y] = data[y*f.n+x]
		}
		if inverse {
			f.cols.Sequence(out, col)
		} else {
			f.cols.Coefficients(out, col)
		}
		for y := 0; y < f.m; y++ {
			data[y*f.n+x] = out[y]
		}
	}
}

// fillTile writes the mean-centred page region starting at (x0, y0) into an
// n x m buffer, zero padded.
func (pp *nccPage) fillTile(buf []complex128, n, m, x0, y0 int) {
	for i := range buf {
		buf[i] = 0
	}
	W, H := pp.r.Width, pp.r.Height
	for y := 0; y < m && y0+y < H; y++ {
		src := pp.r.Pix[(y0+y)*W:]
		for x := 0; x < n && x0+x < W; x++ {
			buf[y*n+x] = complex(src[x0+x]-pp.mean, 0)
		}
	}
}

// spectrum returns the cached transform of the whole page padded to n x m.
// Callers must not modify the result.
func (pp *nccPage) spectrum(n, m int) []complex128 {
	return pp.spectra.get(fmt.Sprintf("%dx%d", n, m), func() any {
		buf := make([]complex128, n*m)
		pp.fillTile(buf, n, m, 0, 0)
		newFFT2(n, m).transform(buf, false)
		return buf
	}).([]complex128)
}

// fftCorrelate evaluates the numerator as a cross-correlation in the
// frequency domain: IFFT(conj(F(T')) * F(I)). The transform is large enough
// that circular wrap never reaches a valid output position.
func fftCorrelate(ctx context.Context, pp *nccPage, v *Variant, thresh float64, emit emitFunc) error {
	W, H := pp.r.Width, pp.r.Height
	w, h := v.Width, v.Height
	outW, outH := W-w+1, H-h+1
	n, m := fftPlanSize(W, H, w, h)
	stepX, stepY := n-w+1, m-h+1
	plan := newFFT2(n, m)

	tspec := make([]complex128, n*m)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			tspec[j*n+i] = complex(v.zeroMean[j*w+i], 0)
		}
	}
	plan.transform(tspec, false)
	for i, c := range tspec {
		tspec[i] = complex(real(c), -imag(c))
	}

	whole := n >= W && m >= H
	buf := make([]complex128, n*m)
	norm := 1 / float64(n*m)
	area := float64(w * h)
	for ty := 0; ty < outH; ty += stepY {
		for tx := 0; tx < outW; tx += stepX {
			if err := ctx.Err(); err != nil {
				return err
			}
			if whole {
				copy(buf, pp.spectrum(n, m))
			} else {
				pp.fillTile(buf, n, m, tx, ty)
				plan.transform(buf, false)
			}
			for i := range buf {
				buf[i] *= tspec[i]
			}
			plan.transform(buf, true)

			for oy := 0; oy < stepY && ty+oy < outH; oy++ {
				for ox := 0; ox < stepX && tx+ox < outW; ox++ {
					x, y := tx+ox, ty+oy
					s, sq := pp.ii.window(x, y, w, h)
					den, ok := windowDenominator(s, sq, area, v.norm, pp.flat)
					if !ok {
						continue
					}
					num := real(buf[oy*n+ox]) * norm
					if score := clampScore(num / den); score >= thresh {
						emit(x, y, score)
					}
				}
			}
		}
	}
	return nil
}

// preferDirect reports whether explicit summation is cheaper than the
// frequency-domain path for this variant.
func preferDirect(W, H, w, h int) bool {
	outW, outH := W-w+1, H-h+1
	direct := float64(outW) * float64(outH) * float64(w*h)
	n, m := fftPlanSize(W, H, w, h)
	tiles := math.Ceil(float64(outW)/float64(n-w+1)) * math.Ceil(float64(outH)/float64(m-h+1))
	size := float64(n * m)
	spectral := tiles * 3 * 6 * size * math.Log2(size)
	return direct <= spectral
}
