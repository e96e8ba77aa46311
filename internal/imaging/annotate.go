package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
)

// Mark is one box to draw on an annotated drawing.
type Mark struct {
	Symbol string
	X0, Y0 int
	X1, Y1 int // exclusive

	// Label is drawn above the box's top-left corner. Only digits are
	// rendered.
	Label string

	// Dashed draws the outline with gaps, used for detections that need
	// review.
	Dashed bool
}

// AnnotateResult is the annotated drawing plus the color assigned to each
// symbol.
type AnnotateResult struct {
	EncodedImage
	Legend map[string]string `json:"legend"`
	Marks  int               `json:"marks"`
}

// Palette assigns each symbol a distinct, saturated color. Hues are spaced
// evenly around the wheel in name order, so the same symbol set always gets
// the same colors.
func Palette(symbols []string) map[string]colorful.Color {
	names := append([]string(nil), symbols...)
	sort.Strings(names)
	out := make(map[string]colorful.Color, len(names))
	for i, n := range names {
		h := 360 * float64(i) / float64(max(1, len(names)))
		out[n] = colorful.Hsv(h, 0.8, 0.9)
	}
	return out
}

// Annotate draws every mark on a copy of img, outlined thickness pixels
// wide in its symbol's palette color.
func Annotate(img image.Image, marks []Mark, thickness int) (*AnnotateResult, error) {
	if thickness < 1 {
		thickness = 2
	}
	bounds := img.Bounds()
	result := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(result, result.Bounds(), img, bounds.Min, draw.Src)

	seen := make(map[string]bool)
	var symbols []string
	for _, m := range marks {
		if !seen[m.Symbol] {
			seen[m.Symbol] = true
			symbols = append(symbols, m.Symbol)
		}
	}
	palette := Palette(symbols)
	legend := make(map[string]string, len(palette))
	for name, c := range palette {
		legend[name] = c.Hex()
	}

	labelColor := color.RGBA{255, 255, 255, 255}
	for _, m := range marks {
		r, g, b := palette[m.Symbol].RGB255()
		c := color.RGBA{r, g, b, 255}
		drawBox(result, m, thickness, c)
		if m.Label != "" {
			drawLabel(result, m.X0, m.Y0-8, m.Label, labelColor, c)
		}
	}

	enc, err := EncodePNG(result, 1)
	if err != nil {
		return nil, err
	}
	return &AnnotateResult{EncodedImage: *enc, Legend: legend, Marks: len(marks)}, nil
}

// drawBox outlines m. Dashed outlines alternate 4 pixels on, 3 off.
func drawBox(img *image.RGBA, m Mark, thickness int, c color.RGBA) {
	bounds := img.Bounds()
	on := func(i int) bool { return !m.Dashed || i%7 < 4 }
	set := func(x, y int) {
		if image.Pt(x, y).In(bounds) {
			img.SetRGBA(x, y, c)
		}
	}
	for t := 0; t < thickness; t++ {
		for x := m.X0; x < m.X1; x++ {
			if on(x - m.X0) {
				set(x, m.Y0+t)
				set(x, m.Y1-1-t)
			}
		}
		for y := m.Y0; y < m.Y1; y++ {
			if on(y - m.Y0) {
				set(m.X0+t, y)
				set(m.X1-1-t, y)
			}
		}
	}
}

// drawLabel draws text in a 3x5 pixel digit font on a filled background.
// Characters other than digits leave a blank cell.
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	glyphs := map[rune][]string{
		'0': {"111", "101", "101", "101", "111"},
		'1': {"010", "110", "010", "010", "111"},
		'2': {"111", "001", "111", "100", "111"},
		'3': {"111", "001", "111", "001", "111"},
		'4': {"101", "101", "111", "001", "001"},
		'5': {"111", "100", "111", "001", "111"},
		'6': {"111", "100", "111", "101", "111"},
		'7': {"111", "001", "001", "001", "001"},
		'8': {"111", "101", "111", "101", "111"},
		'9': {"111", "101", "111", "001", "111"},
	}

	bounds := img.Bounds()
	charWidth := 4
	labelWidth := len(text) * charWidth
	labelHeight := 7

	for dy := -1; dy < labelHeight; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			if p := image.Pt(x+dx, y+dy); p.In(bounds) {
				img.SetRGBA(p.X, p.Y, bg)
			}
		}
	}

	cx := x
	for _, ch := range text {
		glyph, ok := glyphs[ch]
		if !ok {
			cx += charWidth
			continue
		}
		for row, line := range glyph {
			for col, pixel := range line {
				if pixel != '1' {
					continue
				}
				if p := image.Pt(cx+col, y+row); p.In(bounds) {
					img.SetRGBA(p.X, p.Y, fg)
				}
			}
		}
		cx += charWidth
	}
}
