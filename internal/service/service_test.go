package service

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
	"github.com/ironsheep/symbol-count-mcp/internal/pages"
	"github.com/ironsheep/symbol-count-mcp/internal/store"
)

func paper(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func fill(img *image.Gray, x0, y0, x1, y1 int) {
	draw.Draw(img, image.Rect(x0, y0, x1, y1), image.NewUniform(color.Gray{}), image.Point{}, draw.Src)
}

// glyph is an asymmetric test symbol: a frame around an L and a block.
func glyph() *image.Gray {
	img := paper(48, 48)
	fill(img, 1, 1, 47, 3)
	fill(img, 1, 45, 47, 47)
	fill(img, 1, 1, 3, 47)
	fill(img, 45, 1, 47, 47)
	fill(img, 9, 9, 15, 39)
	fill(img, 9, 33, 33, 39)
	fill(img, 28, 10, 39, 21)
	return img
}

func pageWith(w, h int, at ...image.Point) *image.Gray {
	img := paper(w, h)
	g := glyph()
	for _, p := range at {
		draw.Draw(img, g.Bounds().Add(p), g, image.Point{}, draw.Src)
	}
	return img
}

func newService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cfg := detection.DefaultConfig()
	cfg.MatchThresh = 0.85
	svc, err := New(context.Background(), st, cfg, Settings{Workers: 2}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return svc
}

func TestRegisterDetectDelete(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.RegisterSymbol(ctx, "weld", glyph(), 0); err != nil {
		t.Fatalf("RegisterSymbol failed: %v", err)
	}
	list, err := svc.Symbols(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "weld" {
		t.Fatalf("Symbols = %+v, %v", list, err)
	}

	res, err := svc.DetectImage(ctx, pageWith(300, 200, image.Pt(20, 30), image.Pt(200, 100)), Options{})
	if err != nil {
		t.Fatalf("DetectImage failed: %v", err)
	}
	if res.Count("weld") != 2 {
		t.Errorf("count = %d, want 2", res.Count("weld"))
	}

	if err := svc.DeleteSymbol(ctx, "weld"); err != nil {
		t.Fatalf("DeleteSymbol failed: %v", err)
	}
	if _, err := svc.DetectImage(ctx, paper(50, 50), Options{Symbols: []string{"weld"}}); !errors.Is(err, detection.ErrUnknownSymbol) {
		t.Errorf("after delete: got %v, want ErrUnknownSymbol", err)
	}
	if err := svc.DeleteSymbol(ctx, "weld"); !errors.Is(err, detection.ErrUnknownSymbol) {
		t.Errorf("second delete: got %v", err)
	}
}

func TestRegisterSymbol_Degenerate(t *testing.T) {
	svc := newService(t)
	_, err := svc.RegisterSymbol(context.Background(), "blank", paper(20, 20), 0)
	if !errors.Is(err, detection.ErrDegenerateTemplate) {
		t.Errorf("got %v, want ErrDegenerateTemplate", err)
	}
	if list, _ := svc.Symbols(context.Background()); len(list) != 0 {
		t.Error("rejected template was stored")
	}
}

func TestNew_LoadsStoredTemplates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	svc, err := New(ctx, st, detection.DefaultConfig(), Settings{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RegisterSymbol(ctx, "weld", glyph(), 300); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st, err = store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	svc, err = New(ctx, st, detection.DefaultConfig(), Settings{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Engine(Options{Symbols: []string{"weld"}}); err != nil {
		t.Errorf("stored template not loaded: %v", err)
	}
}

func TestEngine_Overrides(t *testing.T) {
	svc := newService(t)
	bad := 1.5
	if _, err := svc.Engine(Options{IoUThresh: &bad}); !errors.Is(err, detection.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
	if _, err := svc.Engine(Options{Symbols: []string{"nope"}}); !errors.Is(err, detection.ErrUnknownSymbol) {
		t.Errorf("got %v, want ErrUnknownSymbol", err)
	}
}

func TestDetectImage_ExternalLayer(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.RegisterSymbol(ctx, "weld", glyph(), 0); err != nil {
		t.Fatal(err)
	}
	ext := []detection.ExternalDetection{
		{Page: 0, Symbol: "weld", Box: detection.Box{X0: 150, Y0: 20, X1: 190, Y1: 60}, Score: 0.95},
	}
	res, err := svc.DetectImage(ctx, pageWith(300, 200, image.Pt(20, 30)), Options{External: ext})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count("weld") != 2 {
		t.Fatalf("count = %d, want 2 (one matched, one external)", res.Count("weld"))
	}
	ml := 0
	for _, d := range res.Detections["weld"] {
		if d.Layer == detection.LayerML {
			ml++
		}
	}
	if ml != 1 {
		t.Errorf("got %d ML detections, want 1", ml)
	}
}

func TestCount_SavesRun(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.RegisterSymbol(ctx, "weld", glyph(), 0); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	var paths []string
	for i, pts := range [][]image.Point{
		{image.Pt(10, 10)},
		{image.Pt(10, 10), image.Pt(120, 60)},
		nil,
	} {
		p := filepath.Join(dir, "page"+string(rune('a'+i))+".png")
		f, err := os.Create(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, pageWith(200, 150, pts...)); err != nil {
			t.Fatal(err)
		}
		f.Close()
		paths = append(paths, p)
	}
	src, err := pages.Files(paths, 0)
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Count(ctx, src, "three pages", true, Options{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if res.Total("weld") != 3 {
		t.Errorf("total = %d, want 3", res.Total("weld"))
	}
	if res.RunID == "" {
		t.Fatal("no run id for a saved run")
	}

	sum, err := svc.RunSummary(ctx, res.RunID)
	if err != nil {
		t.Fatalf("RunSummary failed: %v", err)
	}
	if sum.Totals["weld"] != 3 || sum.PageCount != 3 || sum.Source != "three pages" {
		t.Errorf("summary %+v", sum)
	}
	counts := []int{1, 2, 0}
	for i, p := range sum.Pages {
		if p.Counts["weld"] != counts[i] {
			t.Errorf("page %d: %d, want %d", i, p.Counts["weld"], counts[i])
		}
	}
}
