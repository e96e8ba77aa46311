package detection

import (
	"context"
	"errors"
	"testing"
)

type fixedLayer struct {
	kind  LayerKind
	cands []Candidate
	err   error
}

func (l fixedLayer) Kind() LayerKind { return l.kind }

func (l fixedLayer) FindCandidates(context.Context, *Page, *Symbol) ([]Candidate, error) {
	return l.cands, l.err
}

func TestFuse_LayerOrderAndFailures(t *testing.T) {
	page := &Page{Index: 0, Width: 100, Height: 100}
	sym := &Symbol{Name: "weld"}
	layers := []DetectionLayer{
		fixedLayer{kind: LayerTemplate, cands: []Candidate{cand(0, 0, 10, 10, 0.9, LayerTemplate)}},
		fixedLayer{kind: LayerFeature, cands: []Candidate{cand(5, 5, 9, 9, 0.1, LayerFeature)}, err: errors.New("boom")},
		fixedLayer{kind: LayerML, cands: []Candidate{cand(20, 20, 30, 30, 0.5, LayerML), cand(40, 40, 50, 50, 0.4, LayerML)}},
	}
	got, err := Fuse(context.Background(), layers, page, sym, nil)
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	want := []LayerKind{LayerTemplate, LayerML, LayerML}
	for i, c := range got {
		if c.Layer != want[i] {
			t.Errorf("candidate %d from %v, want %v", i, c.Layer, want[i])
		}
	}
}

func TestFuse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	layers := []DetectionLayer{fixedLayer{kind: LayerML, cands: []Candidate{cand(0, 0, 1, 1, 1, LayerML)}, err: context.Canceled}}
	got, err := Fuse(ctx, layers, &Page{}, &Symbol{Name: "weld"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want Canceled", err)
	}
	if len(got) != 1 {
		t.Errorf("partial candidates dropped: %d", len(got))
	}
}

func TestExternalLayer_FiltersAndClips(t *testing.T) {
	l := NewExternalLayer(StaticDetections{
		{Page: 0, Symbol: "weld", Box: Box{-5, -5, 20, 20}, Score: 1.4},
		{Page: 0, Symbol: "weld", Box: Box{200, 200, 220, 220}, Score: 0.8},
		{Page: 0, Symbol: "bolt", Box: Box{0, 0, 10, 10}, Score: 0.8},
		{Page: 1, Symbol: "weld", Box: Box{0, 0, 10, 10}, Score: 0.8},
	})
	page := &Page{Index: 0, Width: 100, Height: 100}
	got, err := l.FindCandidates(context.Background(), page, &Symbol{Name: "weld"})
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(got), got)
	}
	if got[0].Box != (Box{0, 0, 20, 20}) || got[0].Score != 1 || got[0].Layer != LayerML {
		t.Errorf("unexpected candidate %+v", got[0])
	}

	l.Release(page)
	if len(l.pages) != 0 {
		t.Error("Release kept page state")
	}
	if names := ExternalSymbols([]ExternalDetection{{Symbol: "weld"}, {Symbol: "bolt"}, {Symbol: "weld"}}); len(names) != 2 || names[0] != "bolt" {
		t.Errorf("ExternalSymbols = %v", names)
	}
}
