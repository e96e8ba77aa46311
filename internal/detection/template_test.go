package detection

import (
	"context"
	"errors"
	"math/rand"
	"testing"
)

func newTestSymbol(t *testing.T, tmpl *Template, cfg Config) *Symbol {
	t.Helper()
	sym, err := NewSymbol(tmpl, cfg, 0)
	if err != nil {
		t.Fatalf("NewSymbol failed: %v", err)
	}
	return sym
}

func TestTemplateMatcher_FindsVariant(t *testing.T) {
	tmpl := mustTemplate(t, "weld", glyphImage(32))
	cfg := DefaultConfig()
	cfg.Scales = []float64{1, 1.25}
	cfg.Rotations = []float64{0, 90}
	cfg.MatchThresh = 0.95
	sym := newTestSymbol(t, tmpl, cfg)

	img := newPaper(200, 160)
	paste(img, variantAt(t, tmpl, 1.25, 90).Image, 60, 50)
	page := NewPage(0, img, 0)

	cands, err := NewTemplateMatcher(cfg).FindCandidates(context.Background(), page, sym)
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	if len(cands) == 0 {
		t.Fatal("no candidates")
	}
	sortCandidates(cands)
	best := cands[0]
	if best.Scale != 1.25 || best.Rotation != 90 {
		t.Errorf("best candidate scale %v rotation %v, want 1.25/90", best.Scale, best.Rotation)
	}
	if best.Box != (Box{60, 50, 100, 90}) {
		t.Errorf("best box %+v, want {60 50 100 90}", best.Box)
	}
	if best.Layer != LayerTemplate || best.Symbol != "weld" {
		t.Errorf("candidate metadata wrong: %+v", best)
	}
	for _, c := range cands {
		if c.Score < cfg.MatchThresh {
			t.Errorf("candidate below threshold: %v", c.Score)
		}
	}
}

func TestTemplateMatcher_SkipsOversizeVariants(t *testing.T) {
	tmpl := mustTemplate(t, "weld", glyphImage(32))
	cfg := DefaultConfig()
	cfg.Scales = []float64{2}
	sym := newTestSymbol(t, tmpl, cfg)

	page := NewPage(0, glyphImage(40), 0)
	cands, err := NewTemplateMatcher(cfg).FindCandidates(context.Background(), page, sym)
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("64px variants cannot fit a 40px page, got %d candidates", len(cands))
	}
}

func TestTemplateMatcher_Cap(t *testing.T) {
	tmpl := mustTemplate(t, "weld", glyphImage(16))
	cfg := DefaultConfig()
	cfg.Scales = []float64{1}
	cfg.Rotations = []float64{0}
	cfg.MatchThresh = 0
	sym := newTestSymbol(t, tmpl, cfg)

	m := NewTemplateMatcher(cfg)
	m.MaxPerVariant = 7
	cands, err := m.FindCandidates(context.Background(), noisyPage(9, 80, 80), sym)
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	if len(cands) != 7 {
		t.Fatalf("got %d candidates, want 7", len(cands))
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].Score > cands[i-1].Score {
			t.Errorf("capped candidates not sorted by score")
		}
	}
}

func TestTemplateMatcher_ThresholdMonotone(t *testing.T) {
	tmpl := mustTemplate(t, "weld", glyphImage(20))
	img := newPaper(160, 120)
	paste(img, variantAt(t, tmpl, 1, 0).Image, 15, 20)
	paste(img, variantAt(t, tmpl, 1.25, 90).Image, 90, 60)
	r := NewPage(0, img, 0).Gray
	rng := rand.New(rand.NewSource(11))
	for i := range r.Pix {
		r.Pix[i] = clampByte(r.Pix[i] + float64(rng.Intn(61)-30))
	}
	page := NewPageFromRaster(0, r, 0)

	cfg := DefaultConfig()
	cfg.Scales = []float64{1, 1.25}
	cfg.Rotations = []float64{0, 90}
	cfg.MaxCandidatesPerVariant = 0

	prev := -1
	var counts []int
	for _, th := range []float64{0, 0.2, 0.4, 0.6, 0.7, 0.8, 0.85, 0.9} {
		cfg.MatchThresh = th
		m := NewTemplateMatcher(cfg)
		if m.MaxPerVariant != 0 {
			t.Fatalf("MaxPerVariant = %d, want uncapped", m.MaxPerVariant)
		}
		cands, err := m.FindCandidates(context.Background(), page, newTestSymbol(t, tmpl, cfg))
		if err != nil {
			t.Fatalf("thresh %v: %v", th, err)
		}
		if prev >= 0 && len(cands) > prev {
			t.Errorf("thresh %v: %d candidates, more than %d at the lower threshold", th, len(cands), prev)
		}
		prev = len(cands)
		counts = append(counts, len(cands))
	}
	if counts[0] <= counts[len(counts)-1] {
		t.Errorf("raising the threshold never pruned anything: %v", counts)
	}
	if counts[len(counts)-1] == 0 {
		t.Errorf("pasted instances lost at the highest threshold: %v", counts)
	}
}

func TestTemplateMatcher_Cancelled(t *testing.T) {
	tmpl := mustTemplate(t, "weld", glyphImage(16))
	cfg := DefaultConfig()
	sym := newTestSymbol(t, tmpl, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTemplateMatcher(cfg).FindCandidates(ctx, noisyPage(1, 64, 64), sym)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
