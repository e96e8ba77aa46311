package detection

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ExternalDetection is one hit reported by a detector running outside the
// engine, typically an ML object detector.
type ExternalDetection struct {
	Page   int     `json:"page"`
	Symbol string  `json:"symbol"`
	Box    Box     `json:"bbox"`
	Score  float64 `json:"score"`
}

// Detector produces external detections for a whole page.
type Detector interface {
	Detect(ctx context.Context, page *Page) ([]ExternalDetection, error)
}

// StaticDetections is a Detector over a fixed list, such as detections a
// client computed in advance and sent with its request.
type StaticDetections []ExternalDetection

// Detect returns the entries for the page's index.
func (s StaticDetections) Detect(_ context.Context, page *Page) ([]ExternalDetection, error) {
	var out []ExternalDetection
	for _, d := range s {
		if d.Page == page.Index {
			out = append(out, d)
		}
	}
	return out, nil
}

// ExternalLayer adapts a Detector to the layer interface so its hits are
// fused, suppressed and scored with the built-in layers. The detector runs
// once per page; its results are shared by every symbol of that page.
type ExternalLayer struct {
	detector Detector

	mu    sync.Mutex
	pages map[*Page]*externalPage
}

type externalPage struct {
	once sync.Once
	dets []ExternalDetection
	err  error
}

// NewExternalLayer wraps d.
func NewExternalLayer(d Detector) *ExternalLayer {
	return &ExternalLayer{detector: d, pages: make(map[*Page]*externalPage)}
}

// Kind identifies the ML layer.
func (l *ExternalLayer) Kind() LayerKind { return LayerML }

// FindCandidates returns the detector's hits for sym on page. Boxes are
// clipped to the page and scores clamped to [0,1]; empty boxes are dropped.
func (l *ExternalLayer) FindCandidates(ctx context.Context, page *Page, sym *Symbol) ([]Candidate, error) {
	l.mu.Lock()
	ep, ok := l.pages[page]
	if !ok {
		ep = &externalPage{}
		l.pages[page] = ep
	}
	l.mu.Unlock()

	ep.once.Do(func() {
		ep.dets, ep.err = l.detector.Detect(ctx, page)
	})
	if ep.err != nil {
		return nil, fmt.Errorf("external detector: %w", ep.err)
	}

	var out []Candidate
	for _, d := range ep.dets {
		if d.Symbol != sym.Name {
			continue
		}
		box := d.Box.Clip(page.Width, page.Height)
		if box.Area() <= 0 {
			continue
		}
		out = append(out, Candidate{
			Symbol:   sym.Name,
			Box:      box,
			Score:    clamp01(d.Score),
			Scale:    1,
			Rotation: 0,
			Layer:    LayerML,
		})
	}
	sortCandidates(out)
	return out, nil
}

// Release drops the cached detections of a page once it has been fully
// evaluated.
func (l *ExternalLayer) Release(page *Page) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pages, page)
}

// ExternalSymbols lists the distinct symbol names in a detection list.
func ExternalSymbols(dets []ExternalDetection) []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range dets {
		if !seen[d.Symbol] {
			seen[d.Symbol] = true
			names = append(names, d.Symbol)
		}
	}
	sort.Strings(names)
	return names
}
