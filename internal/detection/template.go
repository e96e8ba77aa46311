package detection

import (
	"context"
	"runtime"
	"sort"
	"sync"
)

// TemplateMatcher finds symbols by normalized cross-correlation of every
// template variant over the page.
type TemplateMatcher struct {
	// Workers bounds how many variants are correlated at once. Zero means
	// runtime.NumCPU().
	Workers int

	// DenoiseSigma blurs the page before matching when positive.
	DenoiseSigma float64

	// MaxPerVariant keeps only the best-scoring positions of each variant.
	// Zero keeps all.
	MaxPerVariant int
}

// NewTemplateMatcher configures a matcher from a validated config.
func NewTemplateMatcher(cfg Config) *TemplateMatcher {
	return &TemplateMatcher{
		DenoiseSigma:  cfg.DenoiseSigma,
		MaxPerVariant: cfg.MaxCandidatesPerVariant,
	}
}

// Kind identifies the template layer.
func (m *TemplateMatcher) Kind() LayerKind { return LayerTemplate }

// FindCandidates correlates each variant of sym over page and returns every
// position scoring at least the symbol's match threshold.
//
// Variants larger than the page are skipped. When ctx ends, variants not yet
// started are abandoned and the candidates produced so far are returned
// together with the context error.
func (m *TemplateMatcher) FindCandidates(ctx context.Context, page *Page, sym *Symbol) ([]Candidate, error) {
	if len(sym.Variants) == 0 {
		return nil, nil
	}
	pp := nccPrep(page, m.DenoiseSigma)

	workers := m.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	sem := make(chan struct{}, workers)
	results := make([][]Candidate, len(sym.Variants))
	var wg sync.WaitGroup

	for i := range sym.Variants {
		v := &sym.Variants[i]
		if v.Width > page.Width || v.Height > page.Height {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, v *Variant) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = m.matchVariant(ctx, pp, sym, v)
		}(i, v)
	}
	wg.Wait()

	var out []Candidate
	for _, r := range results {
		out = append(out, r...)
	}
	return out, ctx.Err()
}

func (m *TemplateMatcher) matchVariant(ctx context.Context, pp *nccPage, sym *Symbol, v *Variant) []Candidate {
	var cands []Candidate
	limit := m.MaxPerVariant
	emit := func(x, y int, score float64) {
		cands = append(cands, Candidate{
			Symbol:   sym.Name,
			Box:      Box{X0: float64(x), Y0: float64(y), X1: float64(x + v.Width), Y1: float64(y + v.Height)},
			Score:    score,
			Scale:    v.Scale,
			Rotation: v.Rotation,
			Layer:    LayerTemplate,
		})
		if limit > 0 && len(cands) >= 2*limit {
			cands = topCandidates(cands, limit)
		}
	}
	// A cancelled variant keeps whatever it emitted before the deadline.
	_ = correlate(ctx, pp, v, sym.MatchThresh, emit)
	if limit > 0 && len(cands) > limit {
		cands = topCandidates(cands, limit)
	}
	return cands
}

// topCandidates keeps the n best candidates in deterministic order.
func topCandidates(c []Candidate, n int) []Candidate {
	sortCandidates(c)
	return c[:n:n]
}

// sortCandidates orders by score descending, then layer priority, then box
// position, scale and rotation so that equal inputs always sort the same.
func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		a, b := &c[i], &c[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Layer != b.Layer {
			return a.Layer > b.Layer
		}
		if a.Box.Y0 != b.Box.Y0 {
			return a.Box.Y0 < b.Box.Y0
		}
		if a.Box.X0 != b.Box.X0 {
			return a.Box.X0 < b.Box.X0
		}
		if a.Box.Y1 != b.Box.Y1 {
			return a.Box.Y1 < b.Box.Y1
		}
		if a.Box.X1 != b.Box.X1 {
			return a.Box.X1 < b.Box.X1
		}
		if a.Scale != b.Scale {
			return a.Scale < b.Scale
		}
		return a.Rotation < b.Rotation
	})
}
