package detection

import (
	"context"
	"fmt"
	"math"
)

// flatFraction is the window variance, as a fraction of the variance of the
// whole page, below which a window is treated as flat. Flat windows score 0
// and never become candidates. Tying the floor to the page keeps scores
// unchanged under a*I+b for any a > 0.
const flatFraction = 1e-4

// nccPage is the page data shared by every correlation against one page.
type nccPage struct {
	r       *Raster
	ii      *integral
	mean    float64
	flat    float64 // per-pixel variance floor
	spectra memo
}

// flatFloor returns the per-pixel variance floor of a page with the given
// mean and variance. The mean term only matters on a uniform page, where it
// absorbs rounding in the window sums.
func flatFloor(mean, variance float64) float64 {
	return math.Max(flatFraction*variance, 1e-12*(mean*mean+1))
}

// nccPrep returns the correlation data of a page, blurred by sigma first
// when sigma > 0. The result is cached on the page.
func nccPrep(p *Page, sigma float64) *nccPage {
	return p.cached(fmt.Sprintf("ncc/%g", sigma), func() any {
		r := p.Gray.Blur(sigma)
		mean, variance := r.Stats()
		return &nccPage{r: r, ii: newIntegral(r), mean: mean, flat: flatFloor(mean, variance)}
	}).(*nccPage)
}

// emitFunc receives a position whose score passed the threshold.
type emitFunc func(x, y int, score float64)

// windowDenominator returns the NCC denominator for a window with pixel sum
// s and sum of squares sq over n pixels, or false when the window's variance
// is at or below flat.
func windowDenominator(s, sq, n, tnorm, flat float64) (float64, bool) {
	ss := sq - s*s/n
	if ss <= flat*n {
		return 0, false
	}
	return tnorm * math.Sqrt(ss), true
}

func clampScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// directCorrelate evaluates the numerator by explicit summation at every
// valid position.
func directCorrelate(ctx context.Context, pp *nccPage, v *Variant, thresh float64, emit emitFunc) error {
	W, H := pp.r.Width, pp.r.Height
	w, h := v.Width, v.Height
	n := float64(w * h)
	for y := 0; y <= H-h; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for x := 0; x <= W-w; x++ {
			s, sq := pp.ii.window(x, y, w, h)
			den, ok := windowDenominator(s, sq, n, v.norm, pp.flat)
			if !ok {
				continue
			}
			var num float64
			for j := 0; j < h; j++ {
				row := pp.r.Pix[(y+j)*W+x : (y+j)*W+x+w]
				trow := v.zeroMean[j*w : (j+1)*w]
				for i, t := range trow {
					num += t * row[i]
				}
			}
			if score := clampScore(num / den); score >= thresh {
				emit(x, y, score)
			}
		}
	}
	return nil
}
