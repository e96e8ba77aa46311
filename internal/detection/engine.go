package detection

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// PageSource yields the pages of a document in index order.
type PageSource interface {
	Len() int
	Page(ctx context.Context, i int) (*Page, error)
}

// Engine evaluates (page, symbol) units with a bounded worker pool.
type Engine struct {
	dc          *DetectionContext
	workers     int
	pageTimeout time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithWorkers bounds how many units run at once. Values below 1 select
// runtime.NumCPU().
func WithWorkers(n int) EngineOption {
	return func(e *Engine) { e.workers = n }
}

// WithPageTimeout bounds the time spent on one page. Units still running at
// the deadline keep their partial candidates and are reported in
// PageResult.Partial.
func WithPageTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.pageTimeout = d }
}

// NewEngine returns an engine over dc.
func NewEngine(dc *DetectionContext, opts ...EngineOption) *Engine {
	e := &Engine{dc: dc}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = runtime.NumCPU()
	}
	return e
}

// Context returns the engine's detection context.
func (e *Engine) Context() *DetectionContext { return e.dc }

// DetectSymbol runs one unit: every layer, then NMS, then scoring. A non-nil
// error means ctx ended; the detections found up to then are still returned.
func (e *Engine) DetectSymbol(ctx context.Context, page *Page, sym *Symbol) ([]Detection, error) {
	cands, err := Fuse(ctx, e.dc.layers, page, sym, e.dc.log)
	for i := range cands {
		cands[i].Symbol = sym.Name
	}
	dets := e.dc.scorer.Score(Suppress(cands, sym.IoUThresh))
	return dets, err
}

// DetectPage evaluates the named symbols, or all symbols when none are
// named, on one page.
func (e *Engine) DetectPage(ctx context.Context, page *Page, symbols ...string) (*PageResult, error) {
	syms, err := e.dc.resolve(symbols)
	if err != nil {
		return nil, err
	}
	sem := make(chan struct{}, e.workers)
	res := e.detectPage(ctx, page, syms, sem)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// DetectDocument evaluates every page of src. Pages are loaded one after
// another while their units run concurrently on the shared pool; at most
// workers pages are held in memory at once.
func (e *Engine) DetectDocument(ctx context.Context, src PageSource, symbols ...string) (*DocumentResult, error) {
	syms, err := e.dc.resolve(symbols)
	if err != nil {
		return nil, err
	}
	n := src.Len()
	results := make([]*PageResult, n)
	units := make(chan struct{}, e.workers)
	pages := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	var loadErr error

	for i := 0; i < n; i++ {
		select {
		case pages <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		page, err := src.Page(ctx, i)
		if err != nil {
			<-pages
			loadErr = fmt.Errorf("load page %d: %w", i, err)
			break
		}
		wg.Add(1)
		go func(i int, page *Page) {
			defer wg.Done()
			defer func() { <-pages }()
			results[i] = e.detectPage(ctx, page, syms, units)
		}(i, page)
	}
	wg.Wait()

	if loadErr != nil {
		return nil, loadErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc := NewDocumentResult()
	for _, r := range results {
		if err := doc.Add(r); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// detectPage runs one unit per symbol, each holding a slot of sem, and
// assembles the page result in symbol order.
func (e *Engine) detectPage(ctx context.Context, page *Page, syms []*Symbol, sem chan struct{}) *PageResult {
	start := time.Now()
	pageCtx := ctx
	if e.pageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, e.pageTimeout)
		defer cancel()
	}

	dets := make([][]Detection, len(syms))
	partial := make([]bool, len(syms))
	var wg sync.WaitGroup
	for i, sym := range syms {
		wg.Add(1)
		go func(i int, sym *Symbol) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-pageCtx.Done():
				partial[i] = true
				return
			}
			defer func() { <-sem }()
			d, err := e.DetectSymbol(pageCtx, page, sym)
			dets[i] = d
			partial[i] = err != nil
		}(i, sym)
	}
	wg.Wait()
	e.release(page)

	names := make([]string, len(syms))
	bySymbol := make(map[string][]Detection, len(syms))
	var cut []string
	for i, sym := range syms {
		names[i] = sym.Name
		bySymbol[sym.Name] = dets[i]
		if partial[i] {
			cut = append(cut, sym.Name)
		}
	}
	res := NewPageResult(page, names, bySymbol)
	res.Partial = cut
	res.Elapsed = time.Since(start)

	e.dc.log.Debug("page evaluated",
		"page", page.Index,
		"symbols", len(syms),
		"detections", res.Total(),
		"partial", len(cut),
		"elapsed", res.Elapsed)
	if len(cut) > 0 {
		e.dc.log.Warn("page deadline reached", "page", page.Index, "partial", cut)
	}
	return res
}

// release lets layers drop per-page state once every unit of the page has
// finished.
func (e *Engine) release(page *Page) {
	for _, l := range e.dc.layers {
		if r, ok := l.(interface{ Release(*Page) }); ok {
			r.Release(page)
		}
	}
}
