package detection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// DetectionLayer is one independent way of finding symbol candidates on a
// page. Implementations must be safe for concurrent use across pages and
// symbols.
type DetectionLayer interface {
	Kind() LayerKind
	FindCandidates(ctx context.Context, page *Page, sym *Symbol) ([]Candidate, error)
}

// Fuse runs every layer for one (page, symbol) unit and concatenates their
// candidates in layer order.
//
// A failing layer is logged and contributes nothing. If ctx ends, the
// candidates gathered so far are returned together with the context error
// so the caller can record the unit as partial.
func Fuse(ctx context.Context, layers []DetectionLayer, page *Page, sym *Symbol, log *slog.Logger) ([]Candidate, error) {
	if log == nil {
		log = discardLogger
	}
	results := make([][]Candidate, len(layers))
	var wg sync.WaitGroup
	for i, l := range layers {
		wg.Add(1)
		go func(i int, l DetectionLayer) {
			defer wg.Done()
			cands, err := l.FindCandidates(ctx, page, sym)
			if err != nil && !isContextErr(err) {
				log.Debug("layer failed",
					"layer", l.Kind().String(),
					"page", page.Index,
					"symbol", sym.Name,
					"error", err)
				return
			}
			results[i] = cands
		}(i, l)
	}
	wg.Wait()

	var out []Candidate
	for _, r := range results {
		out = append(out, r...)
	}
	return out, ctx.Err()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
