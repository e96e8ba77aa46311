package detection

import (
	"fmt"
	"math"
	"math/bits"
	"math/rand"
	"sort"
)

const (
	// patchRadius is the radius of the descriptor and orientation patch.
	patchRadius = 15

	descriptorBits = 256

	harrisK     = 0.04
	harrisFloor = 1e4  // absolute minimum corner response
	harrisRel   = 0.01 // fraction of the strongest response on a level

	gradientSigma   = 1.0
	descriptorSigma = 2.0

	patternSeed = 0x5ca1ab1e
)

// keypoint is an oriented corner with its binary descriptor. X and Y are in
// full-resolution pixel coordinates with pixel centers at integers.
type keypoint struct {
	X, Y     float64
	Angle    float64 // radians
	Response float64
	Level    int
	Desc     descriptor
}

type descriptor [descriptorBits / 64]uint64

func hamming(a, b *descriptor) int {
	d := 0
	for i := range a {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	return d
}

// briefPattern holds the sampling pairs of the steered BRIEF descriptor.
// It is generated once from a fixed seed so descriptors are comparable
// across runs and processes.
var briefPattern = newBriefPattern(descriptorBits, patchRadius-2, patternSeed)

type samplePair struct{ x1, y1, x2, y2 float64 }

func newBriefPattern(n, radius int, seed int64) []samplePair {
	rng := rand.New(rand.NewSource(seed))
	sigma := float64(patchRadius) / 2.5
	r2 := float64(radius * radius)
	point := func() (float64, float64) {
		for {
			x := math.Round(rng.NormFloat64() * sigma)
			y := math.Round(rng.NormFloat64() * sigma)
			if x*x+y*y <= r2 {
				return x, y
			}
		}
	}
	pairs := make([]samplePair, n)
	for i := range pairs {
		for {
			x1, y1 := point()
			x2, y2 := point()
			if x1 != x2 || y1 != y2 {
				pairs[i] = samplePair{x1, y1, x2, y2}
				break
			}
		}
	}
	return pairs
}

// pageFeatures returns the keypoints of a page, cached per feature settings.
func pageFeatures(p *Page, cfg FeatureConfig) []keypoint {
	key := fmt.Sprintf("features/%d/%d/%g", cfg.MaxKeypoints, cfg.PyramidLevels, cfg.PyramidScale)
	return p.cached(key, func() any {
		return extractKeypoints(p.Gray, cfg.MaxKeypoints, cfg)
	}).([]keypoint)
}

// templateFeatures extracts keypoints from the template padded with its
// background, so corners on the template border still get full patches.
// Coordinates are returned relative to the unpadded template.
func templateFeatures(t *Template, cfg FeatureConfig) []keypoint {
	pad := patchRadius + 4
	kps := extractKeypoints(t.Gray.Pad(pad, t.background), cfg.TemplateKeypoints, cfg)
	for i := range kps {
		kps[i].X -= float64(pad)
		kps[i].Y -= float64(pad)
	}
	return kps
}

// extractKeypoints detects Harris corners on each pyramid level, orients
// them by intensity centroid and computes their descriptors. The keypoint
// budget is split across levels in proportion to level area.
func extractKeypoints(r *Raster, limit int, cfg FeatureConfig) []keypoint {
	border := patchRadius + 2
	levels := []*Raster{r}
	for l := 1; l < cfg.PyramidLevels; l++ {
		f := math.Pow(cfg.PyramidScale, float64(l))
		w := int(math.Round(float64(r.Width) / f))
		h := int(math.Round(float64(r.Height) / f))
		if w < 2*border+1 || h < 2*border+1 {
			break
		}
		levels = append(levels, r.Resize(w, h))
	}
	if r.Width < 2*border+1 || r.Height < 2*border+1 {
		return nil
	}

	weights := make([]float64, len(levels))
	var total float64
	for l := range levels {
		weights[l] = math.Pow(cfg.PyramidScale, -2*float64(l))
		total += weights[l]
	}

	var out []keypoint
	for l, lvl := range levels {
		quota := int(math.Round(float64(limit) * weights[l] / total))
		if quota == 0 {
			continue
		}
		sx := float64(r.Width) / float64(lvl.Width)
		sy := float64(r.Height) / float64(lvl.Height)
		smooth := lvl.Blur(gradientSigma)
		desc := lvl.Blur(descriptorSigma)
		for _, c := range harrisCorners(smooth, border, quota) {
			kp := keypoint{
				X:        float64(c.x) * sx,
				Y:        float64(c.y) * sy,
				Response: c.r,
				Level:    l,
				Angle:    centroidAngle(smooth, c.x, c.y),
			}
			kp.Desc = describe(desc, float64(c.x), float64(c.y), kp.Angle)
			out = append(out, kp)
		}
	}
	return out
}

type corner struct {
	x, y int
	r    float64
}

// harrisCorners returns up to limit local maxima of the Harris response,
// strongest first, at least border pixels from every edge.
func harrisCorners(r *Raster, border, limit int) []corner {
	w, h := r.Width, r.Height
	ix := make([]float64, w*h)
	iy := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			p := func(dx, dy int) float64 { return r.Pix[(y+dy)*w+x+dx] }
			gx := (p(1, -1) + 2*p(1, 0) + p(1, 1)) - (p(-1, -1) + 2*p(-1, 0) + p(-1, 1))
			gy := (p(-1, 1) + 2*p(0, 1) + p(1, 1)) - (p(-1, -1) + 2*p(0, -1) + p(1, -1))
			ix[y*w+x] = gx / 8
			iy[y*w+x] = gy / 8
		}
	}
	xx := make([]float64, w*h)
	yy := make([]float64, w*h)
	xy := make([]float64, w*h)
	for i := range ix {
		xx[i] = ix[i] * ix[i]
		yy[i] = iy[i] * iy[i]
		xy[i] = ix[i] * iy[i]
	}
	xx = binomial5(xx, w, h)
	yy = binomial5(yy, w, h)
	xy = binomial5(xy, w, h)

	resp := make([]float64, w*h)
	var peak float64
	for i := range resp {
		det := xx[i]*yy[i] - xy[i]*xy[i]
		tr := xx[i] + yy[i]
		resp[i] = det - harrisK*tr*tr
		if resp[i] > peak {
			peak = resp[i]
		}
	}
	floor := math.Max(harrisFloor, harrisRel*peak)

	var cs []corner
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			i := y*w + x
			v := resp[i]
			if v < floor || !localMax(resp, w, x, y, v) {
				continue
			}
			cs = append(cs, corner{x: x, y: y, r: v})
		}
	}
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].r != cs[j].r {
			return cs[i].r > cs[j].r
		}
		if cs[i].y != cs[j].y {
			return cs[i].y < cs[j].y
		}
		return cs[i].x < cs[j].x
	})
	if len(cs) > limit {
		cs = cs[:limit]
	}
	return cs
}

// localMax reports whether v is the maximum of its 3x3 neighbourhood. On a
// plateau the first pixel in raster order wins.
func localMax(resp []float64, w, x, y int, v float64) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := resp[(y+dy)*w+x+dx]
			if n > v {
				return false
			}
			if n == v && (dy < 0 || (dy == 0 && dx < 0)) {
				return false
			}
		}
	}
	return true
}

// binomial5 applies the separable [1 4 6 4 1]/16 window, clamping at edges.
func binomial5(src []float64, w, h int) []float64 {
	k := [5]float64{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for i := -2; i <= 2; i++ {
				xi := min(max(x+i, 0), w-1)
				s += k[i+2] * src[y*w+xi]
			}
			tmp[y*w+x] = s
		}
	}
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for i := -2; i <= 2; i++ {
				yi := min(max(y+i, 0), h-1)
				s += k[i+2] * tmp[yi*w+x]
			}
			out[y*w+x] = s
		}
	}
	return out
}

// centroidAngle returns the direction from (x, y) to the intensity centroid
// of the surrounding disk.
func centroidAngle(r *Raster, x, y int) float64 {
	var m10, m01 float64
	r2 := patchRadius * patchRadius
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		for dx := -patchRadius; dx <= patchRadius; dx++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			v := r.At(x+dx, y+dy)
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	return math.Atan2(m01, m10)
}

func describe(r *Raster, x, y, angle float64) descriptor {
	var d descriptor
	c, s := math.Cos(angle), math.Sin(angle)
	for i, p := range briefPattern {
		a := r.Bilinear(x+c*p.x1-s*p.y1, y+s*p.x1+c*p.y1)
		b := r.Bilinear(x+c*p.x2-s*p.y2, y+s*p.x2+c*p.y2)
		if a < b {
			d[i/64] |= 1 << uint(i%64)
		}
	}
	return d
}

// featureMatch pairs a page keypoint with a template keypoint.
type featureMatch struct {
	page, tmpl int
	dist       int
}

// matchDescriptors finds, for every page keypoint, the nearest template
// keypoint by Hamming distance, keeping it when the distance is within
// maxDist and clearly better than the runner-up.
func matchDescriptors(page, tmpl []keypoint, maxDist int, ratio float64) []featureMatch {
	var out []featureMatch
	for i := range page {
		best, second := math.MaxInt, math.MaxInt
		bestIdx := -1
		for j := range tmpl {
			d := hamming(&page[i].Desc, &tmpl[j].Desc)
			if d < best {
				second = best
				best, bestIdx = d, j
			} else if d < second {
				second = d
			}
		}
		if bestIdx < 0 || best > maxDist {
			continue
		}
		if second != math.MaxInt && float64(best) >= ratio*float64(second) {
			continue
		}
		out = append(out, featureMatch{page: i, tmpl: bestIdx, dist: best})
	}
	return out
}
