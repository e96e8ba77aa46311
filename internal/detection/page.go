package detection

import "image"

// Page is one rasterized drawing page.
//
// A Page is read-only once built and may be shared by every unit that
// evaluates it. Derived data such as integral images, spectra and keypoints
// is computed lazily, once, and cached on the page.
type Page struct {
	Index  int
	DPI    float64 // 0 when unknown
	Width  int
	Height int
	Gray   *Raster

	cache memo
}

// NewPage converts img to intensities and wraps it as page index.
func NewPage(index int, img image.Image, dpi float64) *Page {
	return NewPageFromRaster(index, RasterFromImage(img), dpi)
}

// NewPageFromRaster wraps an existing raster. The raster must not be
// modified afterwards.
func NewPageFromRaster(index int, r *Raster, dpi float64) *Page {
	return &Page{Index: index, DPI: dpi, Width: r.Width, Height: r.Height, Gray: r}
}

func (p *Page) cached(key string, build func() any) any {
	return p.cache.get(key, build)
}
