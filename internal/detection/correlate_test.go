package detection

import (
	"context"
	"math"
	"math/rand"
	"testing"
)

type scoredPos struct {
	x, y  int
	score float64
}

func collect(t *testing.T, run func(emitFunc) error) map[[2]int]float64 {
	t.Helper()
	got := make(map[[2]int]float64)
	if err := run(func(x, y int, s float64) { got[[2]int{x, y}] = s }); err != nil {
		t.Fatalf("correlation failed: %v", err)
	}
	return got
}

func noisyPage(seed int64, w, h int) *Page {
	rng := rand.New(rand.NewSource(seed))
	r := NewRaster(w, h)
	for i := range r.Pix {
		r.Pix[i] = float64(rng.Intn(256))
	}
	return NewPageFromRaster(0, r, 0)
}

func TestSmoothSize(t *testing.T) {
	tests := map[int]int{1: 1, 7: 8, 11: 12, 1000: 1000, 1001: 1024, 97: 100}
	for in, want := range tests {
		if got := smoothSize(in); got != want {
			t.Errorf("smoothSize(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestFFTMatchesDirect(t *testing.T) {
	page := noisyPage(1, 61, 47)
	pp := nccPrep(page, 0)
	tmpl := mustTemplate(t, "g", glyphImage(13))
	v := variantAt(t, tmpl, 1, 0)

	ctx := context.Background()
	direct := collect(t, func(e emitFunc) error { return directCorrelate(ctx, pp, &v, -1, e) })
	spectral := collect(t, func(e emitFunc) error { return fftCorrelate(ctx, pp, &v, -1, e) })

	if len(direct) != (61-13+1)*(47-13+1) {
		t.Fatalf("direct produced %d positions", len(direct))
	}
	if len(spectral) != len(direct) {
		t.Fatalf("fft produced %d positions, direct %d", len(spectral), len(direct))
	}
	for k, d := range direct {
		if math.Abs(spectral[k]-d) > 1e-6 {
			t.Fatalf("position %v: fft %v, direct %v", k, spectral[k], d)
		}
	}
}

func TestFFTMatchesDirect_Tiled(t *testing.T) {
	// Wider than one transform, so the page is processed in tiles.
	page := noisyPage(2, fftTile+150, 40)
	pp := nccPrep(page, 0)
	tmpl := mustTemplate(t, "g", glyphImage(9))
	v := variantAt(t, tmpl, 1, 0)

	ctx := context.Background()
	direct := collect(t, func(e emitFunc) error { return directCorrelate(ctx, pp, &v, 0.2, e) })
	spectral := collect(t, func(e emitFunc) error { return fftCorrelate(ctx, pp, &v, 0.2, e) })
	for k, d := range direct {
		s, ok := spectral[k]
		if !ok && d > 0.2+1e-6 {
			t.Fatalf("fft missed %v (direct %v)", k, d)
		}
		if ok && math.Abs(s-d) > 1e-6 {
			t.Fatalf("position %v: fft %v, direct %v", k, s, d)
		}
	}
}

func TestCorrelate_ExactMatch(t *testing.T) {
	tmpl := mustTemplate(t, "g", glyphImage(24))
	v := variantAt(t, tmpl, 1, 0)
	img := newPaper(120, 90)
	paste(img, v.Image, 37, 21)
	pp := nccPrep(NewPage(0, img, 0), 0)

	best := scoredPos{score: -2}
	err := correlate(context.Background(), pp, &v, -1, func(x, y int, s float64) {
		if s > best.score {
			best = scoredPos{x, y, s}
		}
	})
	if err != nil {
		t.Fatalf("correlate failed: %v", err)
	}
	if best.x != 37 || best.y != 21 {
		t.Errorf("peak at (%d,%d), want (37,21)", best.x, best.y)
	}
	if best.score < 0.999 {
		t.Errorf("peak score %v, want ~1", best.score)
	}
}

func TestCorrelate_AffineIntensityInvariance(t *testing.T) {
	tmpl := mustTemplate(t, "g", glyphImage(16))
	v := variantAt(t, tmpl, 1, 0)
	base := noisyPage(3, 50, 40)

	scaled := NewRaster(50, 40)
	for i, p := range base.Gray.Pix {
		scaled.Pix[i] = 0.5*p + 40
	}
	ctx := context.Background()
	a := collect(t, func(e emitFunc) error { return directCorrelate(ctx, nccPrep(base, 0), &v, -1, e) })
	b := collect(t, func(e emitFunc) error {
		return directCorrelate(ctx, nccPrep(NewPageFromRaster(0, scaled, 0), 0), &v, -1, e)
	})
	for k, s := range a {
		if math.Abs(b[k]-s) > 1e-9 {
			t.Fatalf("position %v: %v vs %v after a*I+b", k, s, b[k])
		}
	}
}

func TestCorrelate_FaintScan(t *testing.T) {
	tmpl := mustTemplate(t, "g", glyphImage(16))
	v := variantAt(t, tmpl, 1, 0)
	img := newPaper(90, 70)
	paste(img, v.Image, 41, 17)
	base := NewPage(0, img, 0)

	// Ink barely a gray level darker than the paper.
	faint := NewRaster(90, 70)
	for i, p := range base.Gray.Pix {
		faint.Pix[i] = 0.004*p + 200
	}
	ctx := context.Background()
	a := collect(t, func(e emitFunc) error { return directCorrelate(ctx, nccPrep(base, 0), &v, -1, e) })
	b := collect(t, func(e emitFunc) error {
		return directCorrelate(ctx, nccPrep(NewPageFromRaster(0, faint, 0), 0), &v, -1, e)
	})
	if len(a) == 0 || len(b) != len(a) {
		t.Fatalf("faint page scored %d positions, original %d", len(b), len(a))
	}
	for k, s := range a {
		got, ok := b[k]
		if !ok || math.Abs(got-s) > 1e-6 {
			t.Fatalf("position %v: %v vs %v on the faint page", k, s, got)
		}
	}
	if a[[2]int{41, 17}] < 0.999 {
		t.Errorf("peak score %v, want ~1", a[[2]int{41, 17}])
	}
}

func TestFlatFloor_ScalesWithPage(t *testing.T) {
	if got := flatFloor(128, 1000); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("flatFloor(128, 1000) = %v, want 0.1", got)
	}
	if a, b := flatFloor(128, 1000), flatFloor(0.01*128+3, 1e-4*1000); math.Abs(b-1e-4*a) > 1e-12 {
		t.Errorf("floor does not scale with page variance: %v vs %v", a, b)
	}
	if got := flatFloor(255, 0); got <= 0 {
		t.Errorf("uniform page floor = %v, want > 0", got)
	}
}

func TestCorrelate_FlatPage(t *testing.T) {
	tmpl := mustTemplate(t, "g", glyphImage(16))
	v := variantAt(t, tmpl, 1, 0)
	pp := nccPrep(NewPage(0, newPaper(80, 80), 0), 0)
	n := 0
	if err := correlate(context.Background(), pp, &v, 0, func(int, int, float64) { n++ }); err != nil {
		t.Fatalf("correlate failed: %v", err)
	}
	if n != 0 {
		t.Errorf("flat page produced %d positions", n)
	}
}

func TestCorrelate_Cancelled(t *testing.T) {
	tmpl := mustTemplate(t, "g", glyphImage(16))
	v := variantAt(t, tmpl, 1, 0)
	pp := nccPrep(noisyPage(4, 64, 64), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := correlate(ctx, pp, &v, 0, func(int, int, float64) {}); err == nil {
		t.Error("expected context error")
	}
}

func TestIntegralWindow(t *testing.T) {
	page := noisyPage(5, 20, 15)
	ii := newIntegral(page.Gray)
	s, sq := ii.window(3, 4, 5, 6)
	var ws, wq float64
	for y := 4; y < 10; y++ {
		for x := 3; x < 8; x++ {
			v := page.Gray.At(x, y)
			ws += v
			wq += v * v
		}
	}
	if s != ws || sq != wq {
		t.Errorf("window sums (%v,%v), want (%v,%v)", s, sq, ws, wq)
	}
}
