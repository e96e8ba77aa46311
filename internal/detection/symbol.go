package detection

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
)

// minTemplateSide is the smallest template or variant edge that can be
// correlated meaningfully.
const minTemplateSide = 3

// Template is the reference graphic for one symbol.
type Template struct {
	Name   string
	Image  *image.NRGBA // flattened onto white, origin at (0,0)
	Gray   *Raster
	Width  int
	Height int
	DPI    float64 // 0 when unknown

	background float64
}

// NewTemplate validates and prepares a reference image. dpi may be 0.
func NewTemplate(name string, img image.Image, dpi float64) (*Template, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty symbol name", ErrInvalidConfig)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: %s: no image", ErrDegenerateTemplate, name)
	}
	b := img.Bounds()
	if b.Dx() < minTemplateSide || b.Dy() < minTemplateSide {
		return nil, fmt.Errorf("%w: %s: %dx%d is too small", ErrDegenerateTemplate, name, b.Dx(), b.Dy())
	}
	if dpi < 0 {
		return nil, fmt.Errorf("%w: %s: negative dpi", ErrInvalidConfig, name)
	}

	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), imaging.Clone(img), image.Pt(0, 0), 1.0)
	gray := RasterFromImage(flat)
	if _, v := gray.Stats(); v < 1e-9 {
		return nil, fmt.Errorf("%w: %s: image has no contrast", ErrDegenerateTemplate, name)
	}
	return &Template{
		Name:       name,
		Image:      flat,
		Gray:       gray,
		Width:      b.Dx(),
		Height:     b.Dy(),
		DPI:        dpi,
		background: borderMedian(gray),
	}, nil
}

// Background returns the median intensity of the template border, used to
// fill canvas exposed by rotation and padding.
func (t *Template) Background() float64 { return t.background }

func borderMedian(r *Raster) float64 {
	var hist [256]int
	n := 0
	add := func(x, y int) {
		hist[int(clampByte(r.At(x, y)))]++
		n++
	}
	for x := 0; x < r.Width; x++ {
		add(x, 0)
		add(x, r.Height-1)
	}
	for y := 1; y < r.Height-1; y++ {
		add(0, y)
		add(r.Width-1, y)
	}
	half := (n + 1) / 2
	acc := 0
	for v, c := range hist {
		acc += c
		if acc >= half {
			return float64(v)
		}
	}
	return 255
}

// Registry holds the templates available to a detection run, keyed by name.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry returns an empty registry.
func NewRegistry(templates ...*Template) *Registry {
	r := &Registry{templates: make(map[string]*Template)}
	for _, t := range templates {
		r.Put(t)
	}
	return r
}

// Put adds a template, replacing any previous template of the same name.
func (r *Registry) Put(t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name] = t
}

// Get returns the template registered under name.
func (r *Registry) Get(name string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// Remove deletes a template. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.templates, name)
}

// Names returns the registered symbol names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for n := range r.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered templates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// TemplateSource supplies reference images by symbol name. The SQLite store
// implements it.
type TemplateSource interface {
	TemplateNames(ctx context.Context) ([]string, error)
	TemplateImage(ctx context.Context, name string) (img image.Image, dpi float64, err error)
}

// LoadRegistry builds a registry from every template a source holds.
func LoadRegistry(ctx context.Context, src TemplateSource) (*Registry, error) {
	names, err := src.TemplateNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	reg := NewRegistry()
	for _, name := range names {
		img, dpi, err := src.TemplateImage(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load template %s: %w", name, err)
		}
		t, err := NewTemplate(name, img, dpi)
		if err != nil {
			return nil, err
		}
		reg.Put(t)
	}
	return reg, nil
}

// memo caches values derived from an immutable input, computing each key at
// most once even under concurrent callers.
type memo struct {
	mu      sync.Mutex
	entries map[string]*memoEntry
}

type memoEntry struct {
	once sync.Once
	val  any
}

func (m *memo) get(key string, build func() any) any {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*memoEntry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &memoEntry{}
		m.entries[key] = e
	}
	m.mu.Unlock()
	e.once.Do(func() { e.val = build() })
	return e.val
}
