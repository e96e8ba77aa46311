package detection

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// FeatureMatcher finds rotated or rescaled symbols by matching keypoint
// descriptors and fitting a geometric transform with RANSAC. It covers
// angles and scales the template variants do not.
type FeatureMatcher struct {
	cfg FeatureConfig
}

// NewFeatureMatcher configures a matcher from a validated config.
func NewFeatureMatcher(cfg Config) *FeatureMatcher {
	return &FeatureMatcher{cfg: cfg.Feature}
}

// Kind identifies the feature layer.
func (m *FeatureMatcher) Kind() LayerKind { return LayerFeature }

// FindCandidates returns one candidate per transform cluster found between
// the template's keypoints and the page's. Every failure mode (too few
// keypoints, too few matches, a degenerate transform) yields no candidates
// rather than an error. Only context cancellation is returned.
func (m *FeatureMatcher) FindCandidates(ctx context.Context, page *Page, sym *Symbol) ([]Candidate, error) {
	minInliers := sym.MinFeatureInliers
	tk := sym.features(m.cfg)
	if len(tk) < minInliers {
		return nil, nil
	}
	pk := pageFeatures(page, m.cfg)
	if len(pk) < minInliers {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches := matchDescriptors(pk, tk, m.cfg.MaxDescriptorDist, m.cfg.MatchRatio)
	if len(matches) < minInliers {
		return nil, nil
	}

	src := make([]point, len(matches))
	dst := make([]point, len(matches))
	for i, fm := range matches {
		src[i] = point{tk[fm.tmpl].X, tk[fm.tmpl].Y}
		dst[i] = point{pk[fm.page].X, pk[fm.page].Y}
	}

	rng := rand.New(rand.NewSource(unitSeed(page.Index, sym.Name)))
	model := modelFor(m.cfg.Transform)
	alive := make([]int, len(matches))
	for i := range alive {
		alive[i] = i
	}

	var out []Candidate
	for attempt := 0; attempt < 2*m.cfg.MaxInstances && len(out) < m.cfg.MaxInstances; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if len(alive) < minInliers {
			break
		}
		s := make([]point, len(alive))
		d := make([]point, len(alive))
		for i, j := range alive {
			s[i], d[i] = src[j], dst[j]
		}
		t, inliers := ransac(s, d, model, m.cfg.RansacIterations, m.cfg.RansacReprojThresh, rng)
		if len(inliers) < minInliers {
			break
		}

		box, ok := m.accept(t, sym.Template, page)
		var region Box
		if ok {
			region = Box{
				X0: box.X0 - m.cfg.RansacReprojThresh,
				Y0: box.Y0 - m.cfg.RansacReprojThresh,
				X1: box.X1 + m.cfg.RansacReprojThresh,
				Y1: box.Y1 + m.cfg.RansacReprojThresh,
			}
		}

		drop := make(map[int]bool, len(inliers))
		for _, i := range inliers {
			drop[i] = true
		}
		attempted := len(inliers)
		if ok {
			inBox := 0
			for i, p := range d {
				if region.Contains(p.X+0.5, p.Y+0.5) {
					inBox++
					drop[i] = true
				}
			}
			attempted = max(attempted, inBox)
		}

		if ok && m.cfg.VerifyThresh > 0 && verifyTransform(page.Gray, sym.Template.Gray, t, box) < m.cfg.VerifyThresh {
			ok = false
		}
		if ok {
			out = append(out, Candidate{
				Symbol:   sym.Name,
				Box:      box,
				Score:    float64(len(inliers)) / float64(attempted),
				Scale:    t.scale(),
				Rotation: t.rotation(),
				Layer:    LayerFeature,
			})
		}

		next := alive[:0:0]
		for i, j := range alive {
			if !drop[i] {
				next = append(next, j)
			}
		}
		alive = next
	}
	return out, nil
}

// accept checks the transform for degenerate geometry and returns the page
// box of the mapped template.
func (m *FeatureMatcher) accept(t affine, tmpl *Template, page *Page) (Box, bool) {
	if t.det() <= 0 {
		return Box{}, false
	}
	s := t.scale()
	if s < m.cfg.MinScale || s > m.cfg.MaxScale {
		return Box{}, false
	}
	if t.distortion() > m.cfg.MaxAspectDistortion {
		return Box{}, false
	}

	// Template pixel centers sit at integers, so its edges are at -0.5 and
	// size-0.5. Page box edges are half a pixel further out.
	w, h := float64(tmpl.Width), float64(tmpl.Height)
	quad := [4]point{
		t.apply(point{-0.5, -0.5}),
		t.apply(point{w - 0.5, -0.5}),
		t.apply(point{w - 0.5, h - 0.5}),
		t.apply(point{-0.5, h - 0.5}),
	}
	if quadArea(quad) < 16 {
		return Box{}, false
	}
	box := Box{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	for _, p := range quad {
		box.X0 = math.Min(box.X0, p.X+0.5)
		box.Y0 = math.Min(box.Y0, p.Y+0.5)
		box.X1 = math.Max(box.X1, p.X+0.5)
		box.Y1 = math.Max(box.Y1, p.Y+0.5)
	}
	clipped := box.Clip(page.Width, page.Height)
	if clipped.Area() < 0.5*box.Area() {
		return Box{}, false
	}
	return clipped, true
}

func quadArea(q [4]point) float64 {
	var a float64
	for i := range q {
		j := (i + 1) % len(q)
		a += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(a) / 2
}

// verifyTransform back-projects page pixels inside box into the template and
// returns the NCC between page and template samples. Large boxes are
// subsampled.
func verifyTransform(page, tmpl *Raster, t affine, box Box) float64 {
	inv, ok := t.inverse()
	if !ok {
		return 0
	}
	step := max(1, int(math.Max(box.Width(), box.Height())/64))
	var n, sp, st, spp, stt, spt float64
	for y := int(box.Y0); y < int(math.Ceil(box.Y1)); y += step {
		for x := int(box.X0); x < int(math.Ceil(box.X1)); x += step {
			if x < 0 || y < 0 || x >= page.Width || y >= page.Height {
				continue
			}
			q := inv.apply(point{float64(x), float64(y)})
			if q.X < 0 || q.Y < 0 || q.X > float64(tmpl.Width-1) || q.Y > float64(tmpl.Height-1) {
				continue
			}
			p := page.Pix[y*page.Width+x]
			v := tmpl.Bilinear(q.X, q.Y)
			n++
			sp += p
			st += v
			spp += p * p
			stt += v * v
			spt += p * v
		}
	}
	if n < 16 {
		return 0
	}
	cov := spt - sp*st/n
	vp := spp - sp*sp/n
	vt := stt - st*st/n
	// Flat patches carry no evidence; the bound only absorbs rounding.
	if vp <= 1e-12*spp || vt <= 1e-12*stt {
		return 0
	}
	return cov / math.Sqrt(vp*vt)
}

// unitSeed derives the RANSAC seed of one (page, symbol) unit so results do
// not depend on scheduling.
func unitSeed(page int, symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64() ^ uint64(page)*0x9e3779b97f4a7c15)
}
