package detection

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// point is a 2-D coordinate.
type point struct{ X, Y float64 }

func (p point) dist(q point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

// affine maps (x, y) to (A*x + B*y + TX, C*x + D*y + TY).
type affine struct {
	A, B, TX float64
	C, D, TY float64
}

func (t affine) apply(p point) point {
	return point{t.A*p.X + t.B*p.Y + t.TX, t.C*p.X + t.D*p.Y + t.TY}
}

func (t affine) det() float64 { return t.A*t.D - t.B*t.C }

// scale is the geometric mean scale of the linear part.
func (t affine) scale() float64 { return math.Sqrt(math.Abs(t.det())) }

// rotation returns the counter-clockwise rotation, as seen on screen with y
// pointing down, in degrees within [0,360).
func (t affine) rotation() float64 {
	return normalizeAngle(math.Atan2(-t.C, t.A) * 180 / math.Pi)
}

// distortion is the ratio of the longer to the shorter image of the unit
// axes. It is 1 for a similarity.
func (t affine) distortion() float64 {
	sx := math.Hypot(t.A, t.C)
	sy := math.Hypot(t.B, t.D)
	if sx == 0 || sy == 0 {
		return math.Inf(1)
	}
	return math.Max(sx/sy, sy/sx)
}

func (t affine) inverse() (affine, bool) {
	d := t.det()
	if math.Abs(d) < 1e-12 {
		return affine{}, false
	}
	inv := affine{A: t.D / d, B: -t.B / d, C: -t.C / d, D: t.A / d}
	inv.TX = -(inv.A*t.TX + inv.B*t.TY)
	inv.TY = -(inv.C*t.TX + inv.D*t.TY)
	return inv, true
}

var errDegenerate = errors.New("degenerate point sample")

// similarityFrom2 solves rotation, uniform scale and translation from two
// correspondences.
func similarityFrom2(s0, s1, d0, d1 point) (affine, error) {
	sx, sy := s1.X-s0.X, s1.Y-s0.Y
	dx, dy := d1.X-d0.X, d1.Y-d0.Y
	n := sx*sx + sy*sy
	if n < 1 {
		return affine{}, errDegenerate
	}
	a := (dx*sx + dy*sy) / n
	b := (dy*sx - dx*sy) / n
	t := affine{A: a, B: -b, C: b, D: a}
	t.TX = d0.X - (a*s0.X - b*s0.Y)
	t.TY = d0.Y - (b*s0.X + a*s0.Y)
	return t, nil
}

// affineFrom3 solves a full affine transform from three correspondences.
func affineFrom3(src, dst []point) (affine, error) {
	A := mat.NewDense(6, 6, nil)
	B := mat.NewVecDense(6, nil)
	for i := 0; i < 3; i++ {
		A.Set(2*i, 0, src[i].X)
		A.Set(2*i, 1, src[i].Y)
		A.Set(2*i, 2, 1)
		A.Set(2*i+1, 3, src[i].X)
		A.Set(2*i+1, 4, src[i].Y)
		A.Set(2*i+1, 5, 1)
		B.SetVec(2*i, dst[i].X)
		B.SetVec(2*i+1, dst[i].Y)
	}
	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return affine{}, errDegenerate
	}
	return affineFromParams(&params), nil
}

func affineFromParams(p *mat.VecDense) affine {
	return affine{
		A: p.AtVec(0), B: p.AtVec(1), TX: p.AtVec(2),
		C: p.AtVec(3), D: p.AtVec(4), TY: p.AtVec(5),
	}
}

// fitSimilarity is the least-squares similarity over all pairs.
func fitSimilarity(src, dst []point) (affine, error) {
	n := len(src)
	if n < 2 {
		return affine{}, errDegenerate
	}
	A := mat.NewDense(2*n, 4, nil)
	B := mat.NewVecDense(2*n, nil)
	for i := range src {
		A.Set(2*i, 0, src[i].X)
		A.Set(2*i, 1, -src[i].Y)
		A.Set(2*i, 2, 1)
		A.Set(2*i+1, 0, src[i].Y)
		A.Set(2*i+1, 1, src[i].X)
		A.Set(2*i+1, 3, 1)
		B.SetVec(2*i, dst[i].X)
		B.SetVec(2*i+1, dst[i].Y)
	}
	var qr mat.QR
	qr.Factorize(A)
	var p mat.VecDense
	if err := qr.SolveVecTo(&p, false, B); err != nil {
		return affine{}, errDegenerate
	}
	a, b := p.AtVec(0), p.AtVec(1)
	return affine{A: a, B: -b, TX: p.AtVec(2), C: b, D: a, TY: p.AtVec(3)}, nil
}

// fitAffine is the least-squares affine transform over all pairs.
func fitAffine(src, dst []point) (affine, error) {
	n := len(src)
	if n < 3 {
		return affine{}, errDegenerate
	}
	A := mat.NewDense(2*n, 6, nil)
	B := mat.NewVecDense(2*n, nil)
	for i := range src {
		A.Set(2*i, 0, src[i].X)
		A.Set(2*i, 1, src[i].Y)
		A.Set(2*i, 2, 1)
		A.Set(2*i+1, 3, src[i].X)
		A.Set(2*i+1, 4, src[i].Y)
		A.Set(2*i+1, 5, 1)
		B.SetVec(2*i, dst[i].X)
		B.SetVec(2*i+1, dst[i].Y)
	}
	var qr mat.QR
	qr.Factorize(A)
	var p mat.VecDense
	if err := qr.SolveVecTo(&p, false, B); err != nil {
		return affine{}, errDegenerate
	}
	return affineFromParams(&p), nil
}

// ransacModel fits a transform to a minimal sample and to a full inlier set.
type ransacModel struct {
	sampleSize int
	fromSample func(src, dst []point) (affine, error)
	refine     func(src, dst []point) (affine, error)
}

var (
	similarityModel = ransacModel{
		sampleSize: 2,
		fromSample: func(src, dst []point) (affine, error) {
			return similarityFrom2(src[0], src[1], dst[0], dst[1])
		},
		refine: fitSimilarity,
	}
	affineModel = ransacModel{
		sampleSize: 3,
		fromSample: affineFrom3,
		refine:     fitAffine,
	}
)

func modelFor(transform string) ransacModel {
	if transform == TransformAffine {
		return affineModel
	}
	return similarityModel
}

// ransac estimates the transform supported by the most correspondences and
// refines it by least squares on its inliers. It returns the inlier indices,
// or nil when no sample produced a usable model.
func ransac(src, dst []point, model ransacModel, iterations int, thresh float64, rng *rand.Rand) (affine, []int) {
	n := len(src)
	k := model.sampleSize
	if n < k {
		return affine{}, nil
	}
	var best affine
	var bestInliers []int
	idx := make([]int, k)
	s := make([]point, k)
	d := make([]point, k)

	for iter := 0; iter < iterations; iter++ {
		if !sampleDistinct(rng, n, idx) {
			continue
		}
		for i, j := range idx {
			s[i], d[i] = src[j], dst[j]
		}
		t, err := model.fromSample(s, d)
		if err != nil {
			continue
		}
		inliers := countInliers(src, dst, t, thresh)
		if len(inliers) > len(bestInliers) {
			best, bestInliers = t, inliers
			if len(inliers) == n {
				break
			}
		}
	}
	if len(bestInliers) < k {
		return affine{}, nil
	}

	// Refit on the consensus set while that does not lose support.
	for round := 0; round < 3; round++ {
		is := make([]point, len(bestInliers))
		id := make([]point, len(bestInliers))
		for i, j := range bestInliers {
			is[i], id[i] = src[j], dst[j]
		}
		t, err := model.refine(is, id)
		if err != nil {
			break
		}
		inliers := countInliers(src, dst, t, thresh)
		if len(inliers) < len(bestInliers) {
			break
		}
		grew := len(inliers) > len(bestInliers)
		best, bestInliers = t, inliers
		if !grew {
			break
		}
	}
	return best, bestInliers
}

func sampleDistinct(rng *rand.Rand, n int, idx []int) bool {
	for i := range idx {
		for tries := 0; ; tries++ {
			if tries > 32 {
				return false
			}
			v := rng.Intn(n)
			dup := false
			for _, p := range idx[:i] {
				if p == v {
					dup = true
					break
				}
			}
			if !dup {
				idx[i] = v
				break
			}
		}
	}
	return true
}

func countInliers(src, dst []point, t affine, thresh float64) []int {
	var in []int
	for i := range src {
		if t.apply(src[i]).dist(dst[i]) < thresh {
			in = append(in, i)
		}
	}
	return in
}
