//go:build !gocv

package detection

import "context"

// correlate scores every position of v over the page and passes those at or
// above thresh to emit. Small workloads are summed directly; larger ones go
// through the FFT path.
func correlate(ctx context.Context, pp *nccPage, v *Variant, thresh float64, emit emitFunc) error {
	if preferDirect(pp.r.Width, pp.r.Height, v.Width, v.Height) {
		return directCorrelate(ctx, pp, v, thresh, emit)
	}
	return fftCorrelate(ctx, pp, v, thresh, emit)
}
