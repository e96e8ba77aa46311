package detection

import (
	"fmt"
	"io"
	"log/slog"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Symbol is a template prepared for one detection run: its variants,
// resolved thresholds and cached keypoints.
type Symbol struct {
	Name              string
	Template          *Template
	Variants          []Variant
	MatchThresh       float64
	IoUThresh         float64
	MinFeatureInliers int

	cache memo
}

// features returns the template keypoints for the given settings, computed
// on first use.
func (s *Symbol) features(cfg FeatureConfig) []keypoint {
	key := fmt.Sprintf("features/%d/%d/%g", cfg.TemplateKeypoints, cfg.PyramidLevels, cfg.PyramidScale)
	return s.cache.get(key, func() any {
		return templateFeatures(s.Template, cfg)
	}).([]keypoint)
}

// NewSymbol prepares a template with the settings cfg gives its name.
// pageDPI, when positive and the template has a DPI, rescales variants so
// that scale 1 means the symbol's physical size on the page.
func NewSymbol(t *Template, cfg Config, pageDPI float64) (*Symbol, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newSymbol(t, cfg, pageDPI)
}

func newSymbol(t *Template, cfg Config, pageDPI float64) (*Symbol, error) {
	set := cfg.forSymbol(t.Name)
	ratio := 1.0
	if pageDPI > 0 && t.DPI > 0 {
		ratio = pageDPI / t.DPI
	}
	variants := generateVariants(t, set.Scales, set.Rotations, ratio)
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: %s: no usable variant at the configured scales", ErrDegenerateTemplate, t.Name)
	}
	return &Symbol{
		Name:              t.Name,
		Template:          t,
		Variants:          variants,
		MatchThresh:       set.MatchThresh,
		IoUThresh:         set.IoUThresh,
		MinFeatureInliers: set.MinFeatureInliers,
	}, nil
}

// DetectionContext is everything a detection run needs: validated settings,
// prepared symbols and the active layers. It holds no per-page state and is
// safe for concurrent use.
type DetectionContext struct {
	cfg     Config
	symbols map[string]*Symbol
	names   []string
	layers  []DetectionLayer
	extra   []DetectionLayer
	scorer  *Scorer
	pageDPI float64
	log     *slog.Logger
	custom  bool
}

// Option customizes a DetectionContext.
type Option func(*DetectionContext)

// WithLogger sets the logger used for per-unit diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(dc *DetectionContext) { dc.log = l }
}

// WithLayers replaces the default template and feature layers.
func WithLayers(layers ...DetectionLayer) Option {
	return func(dc *DetectionContext) {
		dc.layers = layers
		dc.custom = true
	}
}

// WithLayer appends a layer, such as an ExternalLayer, to the active set.
func WithLayer(l DetectionLayer) Option {
	return func(dc *DetectionContext) { dc.extra = append(dc.extra, l) }
}

// WithPageDPI declares the resolution pages are rasterized at, so that
// templates with a known DPI are rescaled to match.
func WithPageDPI(dpi float64) Option {
	return func(dc *DetectionContext) { dc.pageDPI = dpi }
}

// NewDetectionContext validates cfg and prepares every template in reg.
func NewDetectionContext(reg *Registry, cfg Config, opts ...Option) (*DetectionContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dc := &DetectionContext{
		cfg:     cfg,
		symbols: make(map[string]*Symbol),
		scorer:  NewScorer(cfg),
		log:     discardLogger,
	}
	for _, opt := range opts {
		opt(dc)
	}
	if !dc.custom {
		dc.layers = []DetectionLayer{NewTemplateMatcher(cfg)}
		if cfg.Feature.Enabled {
			dc.layers = append(dc.layers, NewFeatureMatcher(cfg))
		}
	}
	dc.layers = append(dc.layers, dc.extra...)

	for name := range cfg.Symbols {
		if _, ok := reg.Get(name); !ok {
			dc.log.Debug("override for unregistered symbol", "symbol", name)
		}
	}

	for _, name := range reg.Names() {
		t, _ := reg.Get(name)
		sym, err := newSymbol(t, cfg, dc.pageDPI)
		if err != nil {
			return nil, err
		}
		dc.symbols[name] = sym
		dc.names = append(dc.names, name)
		dc.log.Debug("symbol prepared", "symbol", name, "variants", len(sym.Variants))
	}
	return dc, nil
}

// Config returns the validated settings.
func (dc *DetectionContext) Config() Config { return dc.cfg }

// Symbols returns the prepared symbol names in sorted order.
func (dc *DetectionContext) Symbols() []string {
	return append([]string(nil), dc.names...)
}

// Symbol returns a prepared symbol by name.
func (dc *DetectionContext) Symbol(name string) (*Symbol, bool) {
	s, ok := dc.symbols[name]
	return s, ok
}

// Layers returns the active layers in fusion order.
func (dc *DetectionContext) Layers() []DetectionLayer {
	return append([]DetectionLayer(nil), dc.layers...)
}

// resolve maps requested names to symbols, defaulting to all of them.
func (dc *DetectionContext) resolve(names []string) ([]*Symbol, error) {
	if len(names) == 0 {
		names = dc.names
	}
	out := make([]*Symbol, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		s, ok := dc.symbols[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, n)
		}
		out = append(out, s)
	}
	return out, nil
}
