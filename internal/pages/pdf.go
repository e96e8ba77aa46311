package pages

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
)

// pdfImage is the encoded raster chosen for one PDF page.
type pdfImage struct {
	page     int // 0-based PDF page
	fileType string
	width    int
	height   int
	data     []byte
}

type pdfSource struct {
	path   string
	dpi    float64
	images []pdfImage
}

// PDF is a Source over a scanned PDF. Each page contributes its largest
// embedded image; pages without one, such as pure vector pages, are
// skipped. The detection page index is the 0-based PDF page number, so
// indices may have gaps.
//
// The encoded images are extracted once when the source is opened and
// decoded on demand.
func PDF(path string, dpi float64) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	images, err := extractPDFImages(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pdf %s: %w", path, err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("pdf %s: %w", path, ErrNoPages)
	}
	return &pdfSource{path: path, dpi: dpi, images: images}, nil
}

func extractPDFImages(rs io.ReadSeeker) ([]pdfImage, error) {
	conf := model.NewDefaultConfiguration()
	perPage, err := api.ExtractImagesRaw(rs, nil, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu extract: %w", err)
	}

	best := make(map[int]pdfImage)
	for _, objs := range perPage {
		// Map order is random; visit objects by number so ties resolve the
		// same way on every run.
		nrs := make([]int, 0, len(objs))
		for nr := range objs {
			nrs = append(nrs, nr)
		}
		sort.Ints(nrs)
		for _, nr := range nrs {
			img := objs[nr]
			if img.Reader == nil {
				continue
			}
			// pdfcpu does not fill in Width and Height for raw extraction;
			// size comes from the encoded stream itself.
			raw, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("page %d image %d: %w", img.PageNr, nr, err)
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
			if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
				continue
			}
			page := img.PageNr - 1
			if cur, seen := best[page]; seen && cur.width*cur.height >= cfg.Width*cfg.Height {
				continue
			}
			best[page] = pdfImage{
				page:     page,
				fileType: img.FileType,
				width:    cfg.Width,
				height:   cfg.Height,
				data:     raw,
			}
		}
	}

	out := make([]pdfImage, 0, len(best))
	for _, im := range best {
		out = append(out, im)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].page < out[j].page })
	return out, nil
}

func (s *pdfSource) Len() int { return len(s.images) }

func (s *pdfSource) Page(ctx context.Context, i int) (*detection.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(s.images) {
		return nil, fmt.Errorf("page %d out of range [0,%d)", i, len(s.images))
	}
	im := s.images[i]
	img, _, err := image.Decode(bytes.NewReader(im.data))
	if err != nil {
		return nil, fmt.Errorf("pdf %s page %d: decode %s image: %w", s.path, im.page+1, im.fileType, err)
	}
	return detection.NewPage(im.page, img, s.dpi), nil
}
