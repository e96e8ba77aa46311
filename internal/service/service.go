// Package service wires the detection engine to the template store. It is
// the layer both front ends call: the MCP server over stdio and the HTTP
// API.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
	"github.com/ironsheep/symbol-count-mcp/internal/pages"
	"github.com/ironsheep/symbol-count-mcp/internal/store"
)

// Settings are the engine-level options that are not part of a detection
// config.
type Settings struct {
	Workers     int
	PageTimeout time.Duration
	DefaultDPI  float64
}

// Service holds the template registry in memory and mirrors every change
// to the store.
type Service struct {
	cfg      detection.Config
	settings Settings
	store    *store.Store
	log      *slog.Logger

	mu  sync.RWMutex
	reg *detection.Registry
}

// New loads every stored template and returns a ready service.
func New(ctx context.Context, st *store.Store, cfg detection.Config, settings Settings, log *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	reg, err := st.LoadRegistry(ctx)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	log.Info("templates loaded", "count", reg.Len())
	return &Service{cfg: cfg, settings: settings, store: st, log: log, reg: reg}, nil
}

// Store returns the backing store.
func (s *Service) Store() *store.Store { return s.store }

// RegisterSymbol validates img as a template and stores it under name,
// replacing any earlier template. dpi 0 falls back to the default DPI.
func (s *Service) RegisterSymbol(ctx context.Context, name string, img image.Image, dpi float64) (*detection.Template, error) {
	if dpi == 0 {
		dpi = s.settings.DefaultDPI
	}
	t, err := detection.NewTemplate(name, img, dpi)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.reg.Put(t)
	s.mu.Unlock()
	s.log.Info("symbol registered", "symbol", name, "width", t.Width, "height", t.Height, "dpi", dpi)
	return t, nil
}

// Symbols describes every registered template.
func (s *Service) Symbols(ctx context.Context) ([]store.TemplateInfo, error) {
	return s.store.ListTemplates(ctx)
}

// DeleteSymbol removes a template. Unknown names return
// detection.ErrUnknownSymbol.
func (s *Service) DeleteSymbol(ctx context.Context, name string) error {
	err := s.store.DeleteTemplate(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", detection.ErrUnknownSymbol, name)
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.reg.Remove(name)
	s.mu.Unlock()
	s.log.Info("symbol deleted", "symbol", name)
	return nil
}

// Options adjust one detection request.
type Options struct {
	// Symbols restricts the run; empty means every registered symbol.
	Symbols []string

	// MatchThresh and IoUThresh override the configured values when set.
	MatchThresh *float64
	IoUThresh   *float64

	// External detections are fused as an additional layer.
	External []detection.ExternalDetection

	// DPI of the pages; 0 uses the default DPI.
	DPI float64
}

// Engine builds an engine for one request. Only the requested templates are
// prepared.
func (s *Service) Engine(opts Options) (*detection.Engine, error) {
	cfg := s.cfg
	if opts.MatchThresh != nil {
		cfg.MatchThresh = *opts.MatchThresh
	}
	if opts.IoUThresh != nil {
		cfg.IoUThresh = *opts.IoUThresh
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg, err := s.subset(opts.Symbols)
	if err != nil {
		return nil, err
	}
	dpi := opts.DPI
	if dpi == 0 {
		dpi = s.settings.DefaultDPI
	}
	ctxOpts := []detection.Option{detection.WithLogger(s.log), detection.WithPageDPI(dpi)}
	if len(opts.External) > 0 {
		ctxOpts = append(ctxOpts, detection.WithLayer(
			detection.NewExternalLayer(detection.StaticDetections(opts.External))))
	}
	dc, err := detection.NewDetectionContext(reg, cfg, ctxOpts...)
	if err != nil {
		return nil, err
	}
	return detection.NewEngine(dc,
		detection.WithWorkers(s.settings.Workers),
		detection.WithPageTimeout(s.settings.PageTimeout)), nil
}

func (s *Service) subset(names []string) (*detection.Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(names) == 0 {
		names = s.reg.Names()
	}
	var ts []*detection.Template
	for _, n := range names {
		t, ok := s.reg.Get(n)
		if !ok {
			return nil, fmt.Errorf("%w: %s", detection.ErrUnknownSymbol, n)
		}
		ts = append(ts, t)
	}
	return detection.NewRegistry(ts...), nil
}

// DetectImage evaluates one page image.
func (s *Service) DetectImage(ctx context.Context, img image.Image, opts Options) (*detection.PageResult, error) {
	e, err := s.Engine(opts)
	if err != nil {
		return nil, err
	}
	dpi := opts.DPI
	if dpi == 0 {
		dpi = s.settings.DefaultDPI
	}
	return e.DetectPage(ctx, detection.NewPage(0, img, dpi))
}

// CountResult is a document result plus the id it was stored under, if
// any.
type CountResult struct {
	RunID string `json:"run_id,omitempty"`
	*detection.DocumentResult
}

// Count evaluates every page of src. With save set the result is stored
// and can be fetched again with RunSummary.
func (s *Service) Count(ctx context.Context, src pages.Source, source string, save bool, opts Options) (*CountResult, error) {
	e, err := s.Engine(opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	doc, err := e.DetectDocument(ctx, src)
	if err != nil {
		return nil, err
	}
	res := &CountResult{DocumentResult: doc}
	if save {
		id, err := s.store.SaveRun(ctx, source, doc)
		if err != nil {
			return nil, err
		}
		res.RunID = id
	}
	s.log.Info("document counted",
		"source", source,
		"pages", len(doc.Pages),
		"totals", doc.Totals,
		"run_id", res.RunID,
		"elapsed", time.Since(start))
	return res, nil
}

// RunSummary returns a stored run.
func (s *Service) RunSummary(ctx context.Context, id string) (*store.RunSummary, error) {
	return s.store.RunSummary(ctx, id)
}
