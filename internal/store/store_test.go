package store

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func glyph(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for y := 2; y < h-2; y++ {
		img.SetGray(2, y, color.Gray{})
		img.SetGray(3, y, color.Gray{})
	}
	for x := w / 2; x < w-2; x++ {
		img.SetGray(x, h/2, color.Gray{})
	}
	return img
}

func mustTemplate(t *testing.T, name string, w, h int, dpi float64) *detection.Template {
	t.Helper()
	tmpl, err := detection.NewTemplate(name, glyph(w, h), dpi)
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}
	return tmpl
}

func TestTemplates_RoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.PutTemplate(ctx, mustTemplate(t, "weld", 20, 16, 300)); err != nil {
		t.Fatalf("PutTemplate failed: %v", err)
	}
	if err := s.PutTemplate(ctx, mustTemplate(t, "bolt", 12, 12, 0)); err != nil {
		t.Fatalf("PutTemplate failed: %v", err)
	}

	got, err := s.Template(ctx, "weld")
	if err != nil {
		t.Fatalf("Template failed: %v", err)
	}
	if got.Width != 20 || got.Height != 16 || got.DPI != 300 {
		t.Errorf("template geometry %dx%d at %v dpi", got.Width, got.Height, got.DPI)
	}
	want := mustTemplate(t, "weld", 20, 16, 300)
	for i := range want.Gray.Pix {
		if got.Gray.Pix[i] != want.Gray.Pix[i] {
			t.Fatalf("pixel %d differs after storage: %v vs %v", i, got.Gray.Pix[i], want.Gray.Pix[i])
		}
	}

	list, err := s.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("ListTemplates failed: %v", err)
	}
	if len(list) != 2 || list[0].Name != "bolt" || list[1].Name != "weld" {
		t.Errorf("list = %+v", list)
	}
}

func TestTemplates_Replace(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return base }
	if err := s.PutTemplate(ctx, mustTemplate(t, "weld", 20, 16, 0)); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base.Add(time.Hour) }
	if err := s.PutTemplate(ctx, mustTemplate(t, "weld", 30, 10, 150)); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListTemplates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d templates, want 1", len(list))
	}
	ti := list[0]
	if ti.Width != 30 || ti.DPI != 150 {
		t.Errorf("replacement not stored: %+v", ti)
	}
	if !ti.CreatedAt.Equal(base) || !ti.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("timestamps %v / %v", ti.CreatedAt, ti.UpdatedAt)
	}
}

func TestTemplates_NotFound(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if _, err := s.Template(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Template: got %v, want ErrNotFound", err)
	}
	if err := s.DeleteTemplate(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteTemplate: got %v, want ErrNotFound", err)
	}
}

func TestDeleteTemplate(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.PutTemplate(ctx, mustTemplate(t, "weld", 20, 16, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTemplate(ctx, "weld"); err != nil {
		t.Fatalf("DeleteTemplate failed: %v", err)
	}
	names, err := s.TemplateNames(ctx)
	if err != nil || len(names) != 0 {
		t.Errorf("names after delete: %v, %v", names, err)
	}
}

func TestLoadRegistry(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for _, name := range []string{"weld", "bolt", "valve"} {
		if err := s.PutTemplate(ctx, mustTemplate(t, name, 16, 16, 0)); err != nil {
			t.Fatal(err)
		}
	}
	reg, err := s.LoadRegistry(ctx)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if reg.Len() != 3 {
		t.Errorf("registry holds %d templates, want 3", reg.Len())
	}
	if _, ok := reg.Get("valve"); !ok {
		t.Error("valve missing from registry")
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "symbols.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()
	if err := s.PutTemplate(ctx, mustTemplate(t, "weld", 16, 16, 0)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	names, err := s.TemplateNames(ctx)
	if err != nil || len(names) != 1 || names[0] != "weld" {
		t.Errorf("after reopen: %v, %v", names, err)
	}
}

func testDocument(t *testing.T) *detection.DocumentResult {
	t.Helper()
	doc := detection.NewDocumentResult()
	det := func(x float64, layer detection.LayerKind) detection.Detection {
		return detection.Detection{
			Candidate: detection.Candidate{
				Symbol: "weld", Box: detection.Box{X0: x, Y0: 1, X1: x + 10, Y1: 11},
				Score: 0.9, Scale: 1.25, Rotation: 90, Layer: layer,
			},
			Confidence: 0.93, Class: detection.ClassHigh, Agreement: 2, Suppressed: 3,
		}
	}
	pages := []*detection.PageResult{
		detection.NewPageResult(&detection.Page{Index: 0}, []string{"weld", "bolt"},
			map[string][]detection.Detection{"weld": {det(5, detection.LayerTemplate), det(50, detection.LayerFeature)}}),
		detection.NewPageResult(&detection.Page{Index: 1}, []string{"weld", "bolt"},
			map[string][]detection.Detection{"weld": {det(7, detection.LayerML)}}),
	}
	for _, p := range pages {
		if err := doc.Add(p); err != nil {
			t.Fatal(err)
		}
	}
	return doc
}

func TestRuns_SaveAndSummarize(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	doc := testDocument(t)

	id, err := s.SaveRun(ctx, "drawing.pdf", doc)
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	sum, err := s.RunSummary(ctx, id)
	if err != nil {
		t.Fatalf("RunSummary failed: %v", err)
	}
	if sum.Source != "drawing.pdf" || sum.PageCount != 2 || sum.Partial {
		t.Errorf("summary header %+v", sum)
	}
	if sum.Totals["weld"] != 3 || sum.Totals["bolt"] != 0 {
		t.Errorf("totals %v", sum.Totals)
	}
	if _, ok := sum.Totals["bolt"]; !ok {
		t.Error("zero-count symbol missing from totals")
	}
	if len(sum.Pages) != 2 || sum.Pages[0].Counts["weld"] != 2 || sum.Pages[1].Counts["weld"] != 1 {
		t.Errorf("pages %+v", sum.Pages)
	}
	if sum.Detections != 3 {
		t.Errorf("detections = %d, want 3", sum.Detections)
	}

	dets, err := s.RunDetections(ctx, id, 0, "weld")
	if err != nil {
		t.Fatalf("RunDetections failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("got %d detections, want 2", len(dets))
	}
	want := doc.Pages[0].Detections["weld"]
	for i := range dets {
		if dets[i] != want[i] {
			t.Errorf("detection %d:\n got %+v\nwant %+v", i, dets[i], want[i])
		}
	}
}

func TestRuns_ConfidenceSummary(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	low := detection.Detection{
		Candidate:  detection.Candidate{Symbol: "bolt", Box: detection.Box{X0: 1, Y0: 1, X1: 9, Y1: 9}, Score: 0.4},
		Confidence: 0.25, Class: detection.ClassLow, Agreement: 1, NeedsReview: true,
	}
	doc := testDocument(t)
	if err := doc.Add(detection.NewPageResult(&detection.Page{Index: 2}, []string{"weld", "bolt"},
		map[string][]detection.Detection{"bolt": {low}})); err != nil {
		t.Fatal(err)
	}

	id, err := s.SaveRun(ctx, "", doc)
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	sum, err := s.RunSummary(ctx, id)
	if err != nil {
		t.Fatalf("RunSummary failed: %v", err)
	}
	c := sum.Confidence
	if c.Count != 4 || c.High != 3 || c.Low != 1 || c.NeedsReview != 1 {
		t.Errorf("confidence counts %+v", c)
	}
	if c.Min != 0.25 || c.Max != 0.93 || c.Median != 0.93 {
		t.Errorf("confidence spread %+v", c)
	}
	if c.Count != doc.Confidence.Count || c.NeedsReview != doc.Confidence.NeedsReview || c.Median != doc.Confidence.Median {
		t.Errorf("stored summary %+v differs from the document's %+v", c, doc.Confidence)
	}
}

func TestRuns_Unknown(t *testing.T) {
	s := openTest(t)
	if _, err := s.RunSummary(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRuns_DistinctIDs(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	a, err := s.SaveRun(ctx, "", detection.NewDocumentResult())
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.SaveRun(ctx, "", detection.NewDocumentResult())
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("run ids collide")
	}
}
