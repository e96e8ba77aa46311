package detection

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ConfidenceSummary describes the confidence spread of a set of detections.
// All fields are zero when the set is empty.
type ConfidenceSummary struct {
	Count       int     `json:"count"`
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	High        int     `json:"high"`
	Medium      int     `json:"medium"`
	Low         int     `json:"low"`
	NeedsReview int     `json:"needs_review"`
}

// SummarizeConfidence computes the confidence statistics of dets, bucketing
// by each detection's reported class.
func SummarizeConfidence(dets []Detection) ConfidenceSummary {
	var sum ConfidenceSummary
	if len(dets) == 0 {
		return sum
	}
	vals := make([]float64, len(dets))
	for i, d := range dets {
		vals[i] = d.Confidence
		switch d.Class {
		case ClassHigh:
			sum.High++
		case ClassMedium:
			sum.Medium++
		case ClassLow:
			sum.Low++
		}
		if d.NeedsReview {
			sum.NeedsReview++
		}
	}
	sort.Float64s(vals)
	n := len(vals)
	sum.Count = n
	sum.Mean = stat.Mean(vals, nil)
	sum.Min = vals[0]
	sum.Max = vals[n-1]
	// Even counts average the middle pair.
	if n%2 == 1 {
		sum.Median = vals[n/2]
	} else {
		sum.Median = (vals[n/2-1] + vals[n/2]) / 2
	}
	return sum
}

// PageResult holds the detections and counts of one page.
type PageResult struct {
	Page       int                    `json:"page"`
	Width      int                    `json:"image_width"`
	Height     int                    `json:"image_height"`
	DPI        float64                `json:"dpi,omitempty"`
	Detections map[string][]Detection `json:"detections"`
	Counts     map[string]int         `json:"counts"`
	Confidence ConfidenceSummary      `json:"confidence"`
	Partial    []string               `json:"partial,omitempty"`
	Elapsed    time.Duration          `json:"elapsed_ns"`
}

// NewPageResult folds per-symbol detections into a page result. Every name
// in symbols gets a count, zero when it has no detections.
func NewPageResult(page *Page, symbols []string, dets map[string][]Detection) *PageResult {
	r := &PageResult{
		Page:       page.Index,
		Width:      page.Width,
		Height:     page.Height,
		DPI:        page.DPI,
		Detections: make(map[string][]Detection, len(symbols)),
		Counts:     make(map[string]int, len(symbols)),
	}
	for _, s := range symbols {
		d := dets[s]
		if d == nil {
			d = []Detection{}
		}
		r.Detections[s] = d
		r.Counts[s] = len(d)
	}
	r.Confidence = SummarizeConfidence(r.all())
	return r
}

func (r *PageResult) all() []Detection {
	var out []Detection
	for _, s := range r.Symbols() {
		out = append(out, r.Detections[s]...)
	}
	return out
}

// Count returns the number of detections of symbol on the page.
func (r *PageResult) Count(symbol string) int { return r.Counts[symbol] }

// Symbols returns the evaluated symbol names in sorted order.
func (r *PageResult) Symbols() []string {
	names := make([]string, 0, len(r.Counts))
	for s := range r.Counts {
		names = append(names, s)
	}
	sort.Strings(names)
	return names
}

// Total returns the number of detections of all symbols on the page.
func (r *PageResult) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// DocumentResult aggregates page results. Totals always equal the sum of the
// per-page counts.
type DocumentResult struct {
	Pages      []*PageResult     `json:"pages"`
	Totals     map[string]int    `json:"total_symbols"`
	Confidence ConfidenceSummary `json:"confidence"`
}

// NewDocumentResult returns an empty document.
func NewDocumentResult() *DocumentResult {
	return &DocumentResult{Totals: make(map[string]int)}
}

// Add folds a page in, keeping pages ordered by index. Adding a page index
// twice returns ErrDuplicatePage and leaves the document unchanged.
func (d *DocumentResult) Add(p *PageResult) error {
	i := sort.Search(len(d.Pages), func(i int) bool { return d.Pages[i].Page >= p.Page })
	if i < len(d.Pages) && d.Pages[i].Page == p.Page {
		return fmt.Errorf("%w: %d", ErrDuplicatePage, p.Page)
	}
	d.Pages = append(d.Pages, nil)
	copy(d.Pages[i+1:], d.Pages[i:])
	d.Pages[i] = p
	for s, c := range p.Counts {
		d.Totals[s] += c
	}
	var all []Detection
	for _, pr := range d.Pages {
		all = append(all, pr.all()...)
	}
	d.Confidence = SummarizeConfidence(all)
	return nil
}

// Total returns the document-wide count of symbol.
func (d *DocumentResult) Total(symbol string) int { return d.Totals[symbol] }

// Partial reports whether any page was cut short by a deadline.
func (d *DocumentResult) Partial() bool {
	for _, p := range d.Pages {
		if len(p.Partial) > 0 {
			return true
		}
	}
	return false
}
