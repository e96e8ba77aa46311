// Package pages turns documents into detection pages.
//
// A Source yields pages lazily so a long document is never decoded in full:
// the engine asks for page i only when a worker is free to evaluate it.
// Image files of any registered format (PNG, JPEG, GIF, TIFF, BMP) and
// scanned PDFs are supported.
package pages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
)

// ErrNoPages is returned when a document holds nothing to evaluate.
var ErrNoPages = errors.New("pages: document has no raster pages")

// Source yields the pages of one document in order.
type Source interface {
	Len() int
	Page(ctx context.Context, i int) (*detection.Page, error)
}

var _ detection.PageSource = Source(nil)

// Files is a Source over image files, one page per file, indexed in the
// order given. dpi is recorded on every page; 0 means unknown.
func Files(paths []string, dpi float64) (Source, error) {
	if len(paths) == 0 {
		return nil, ErrNoPages
	}
	return &fileSource{paths: append([]string(nil), paths...), dpi: dpi}, nil
}

type fileSource struct {
	paths []string
	dpi   float64
}

func (s *fileSource) Len() int { return len(s.paths) }

func (s *fileSource) Page(ctx context.Context, i int) (*detection.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(s.paths) {
		return nil, fmt.Errorf("page %d out of range [0,%d)", i, len(s.paths))
	}
	img, err := imaging.Open(s.paths[i], imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.paths[i], err)
	}
	return detection.NewPage(i, img, s.dpi), nil
}

// Open picks a Source by file extension: a PDF is read as a scanned
// document, anything else as a single image.
func Open(path string, dpi float64) (Source, error) {
	if strings.EqualFold(extension(path), ".pdf") {
		return PDF(path, dpi)
	}
	return Files([]string{path}, dpi)
}

func extension(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 && !strings.ContainsAny(path[i:], `/\`) {
		return path[i:]
	}
	return ""
}
