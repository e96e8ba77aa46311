package detection

import (
	"encoding/json"
	"fmt"
	"math"
)

// LayerKind identifies which detection layer produced a candidate.
//
// The numeric order doubles as the tie-break priority used by NMS when two
// candidates have the same score: ML outranks feature, feature outranks template.
type LayerKind int

const (
	LayerTemplate LayerKind = iota
	LayerFeature
	LayerML
)

func (k LayerKind) String() string {
	switch k {
	case LayerTemplate:
		return "template"
	case LayerFeature:
		return "feature"
	case LayerML:
		return "ml"
	default:
		return fmt.Sprintf("layer(%d)", int(k))
	}
}

// MarshalText encodes the layer by name.
func (k LayerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a layer name produced by MarshalText.
func (k *LayerKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "template":
		*k = LayerTemplate
	case "feature":
		*k = LayerFeature
	case "ml":
		*k = LayerML
	default:
		return fmt.Errorf("unknown layer %q", string(b))
	}
	return nil
}

// Box is an axis-aligned rectangle in page pixel coordinates.
//
// X0,Y0 is the top-left corner (inclusive) and X1,Y1 the bottom-right corner
// (exclusive), so a box covering a single pixel at (3,4) is {3, 4, 4, 5}.
// Coordinates are floating point because feature-layer boxes come from
// transformed template corners.
type Box struct {
	X0, Y0, X1, Y1 float64
}

// Width returns the horizontal extent, or 0 for an inverted box.
func (b Box) Width() float64 { return math.Max(0, b.X1-b.X0) }

// Height returns the vertical extent, or 0 for an inverted box.
func (b Box) Height() float64 { return math.Max(0, b.Y1-b.Y0) }

// Area returns Width*Height.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Center returns the box midpoint.
func (b Box) Center() (float64, float64) {
	return (b.X0 + b.X1) / 2, (b.Y0 + b.Y1) / 2
}

// Intersect returns the overlapping region of two boxes. The result is empty
// (zero area) when they do not overlap.
func (b Box) Intersect(o Box) Box {
	r := Box{
		X0: math.Max(b.X0, o.X0),
		Y0: math.Max(b.Y0, o.Y0),
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
	}
	if r.X1 < r.X0 {
		r.X1 = r.X0
	}
	if r.Y1 < r.Y0 {
		r.Y1 = r.Y0
	}
	return r
}

// IoU returns intersection-over-union of two boxes in [0,1]. Two empty boxes
// have IoU 0.
func (b Box) IoU(o Box) float64 {
	inter := b.Intersect(o).Area()
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Clip limits the box to a width x height page.
func (b Box) Clip(width, height int) Box {
	return b.Intersect(Box{X0: 0, Y0: 0, X1: float64(width), Y1: float64(height)})
}

// Contains reports whether the point lies inside the box.
func (b Box) Contains(x, y float64) bool {
	return x >= b.X0 && x < b.X1 && y >= b.Y0 && y < b.Y1
}

// MarshalJSON encodes the box as [x0, y0, x1, y1].
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X0, b.Y0, b.X1, b.Y1})
}

// UnmarshalJSON decodes the [x0, y0, x1, y1] form.
func (b *Box) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if len(v) != 4 {
		return fmt.Errorf("bbox: want 4 coordinates, got %d", len(v))
	}
	*b = Box{X0: v[0], Y0: v[1], X1: v[2], Y1: v[3]}
	return nil
}

// Candidate is a single raw hit produced by a detection layer before NMS.
type Candidate struct {
	Symbol   string    `json:"symbol"`
	Box      Box       `json:"bbox"`
	Score    float64   `json:"score"`
	Scale    float64   `json:"scale"`
	Rotation float64   `json:"rotation"`
	Layer    LayerKind `json:"source_layer"`
}

// Class is the coarse confidence bucket reported with each detection.
type Class string

const (
	ClassHigh   Class = "high"
	ClassMedium Class = "medium"
	ClassLow    Class = "low"
)

// Detection is a candidate that survived NMS, annotated by the scorer.
type Detection struct {
	Candidate
	Confidence  float64 `json:"confidence"`
	Class       Class   `json:"confidence_class"`
	Agreement   int     `json:"agreement"`
	Suppressed  int     `json:"suppressed"`
	NeedsReview bool    `json:"needs_review"`
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
