//go:build gocv

package detection

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"
)

// correlate delegates to OpenCV's TM_CCOEFF_NORMED matcher. Flat page
// windows are still screened with the integral image so both backends agree
// on which positions can score.
func correlate(ctx context.Context, pp *nccPage, v *Variant, thresh float64, emit emitFunc) error {
	img, err := rasterMat(pp.r)
	if err != nil {
		return err
	}
	defer img.Close()
	tpl, err := rasterMat(v.Gray)
	if err != nil {
		return err
	}
	defer tpl.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(img, tpl, &result, gocv.TmCcoeffNormed, mask)

	area := float64(v.Width * v.Height)
	for y := 0; y < result.Rows(); y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for x := 0; x < result.Cols(); x++ {
			s, sq := pp.ii.window(x, y, v.Width, v.Height)
			if _, ok := windowDenominator(s, sq, area, v.norm, pp.flat); !ok {
				continue
			}
			if score := clampScore(float64(result.GetFloatAt(y, x))); score >= thresh {
				emit(x, y, score)
			}
		}
	}
	return nil
}

// rasterMat copies a raster into an 8-bit single-channel Mat. Raster values
// are whole numbers in [0,255], so the copy is lossless.
func rasterMat(r *Raster) (gocv.Mat, error) {
	buf := make([]byte, len(r.Pix))
	for i, v := range r.Pix {
		buf[i] = byte(clampByte(v))
	}
	m, err := gocv.NewMatFromBytes(r.Height, r.Width, gocv.MatTypeCV8U, buf)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("raster to mat: %w", err)
	}
	return m, nil
}
