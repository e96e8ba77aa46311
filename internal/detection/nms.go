package detection

import (
	"math"
	"sort"
)

// Cluster is a surviving candidate together with the candidates NMS merged
// into it.
type Cluster struct {
	Best    Candidate
	Members []Candidate
}

// Suppress performs greedy non-maximum suppression. Candidates are visited
// from best to worst (see sortCandidates); each survivor absorbs every
// later candidate whose IoU with it exceeds iouThresh.
//
// Any two survivors have IoU <= iouThresh. The input slice is reordered.
func Suppress(cands []Candidate, iouThresh float64) []Cluster {
	sortCandidates(cands)
	grid := newBoxGrid(cands)
	taken := make([]bool, len(cands))
	var out []Cluster
	for i := range cands {
		if taken[i] {
			continue
		}
		c := Cluster{Best: cands[i]}
		for _, j := range grid.overlapping(cands[i].Box, i) {
			if taken[j] {
				continue
			}
			if cands[i].Box.IoU(cands[j].Box) > iouThresh {
				taken[j] = true
				c.Members = append(c.Members, cands[j])
			}
		}
		out = append(out, c)
	}
	return out
}

// boxGrid buckets candidate indices by the grid cells their boxes touch, so
// a survivor only compares against candidates it can overlap.
type boxGrid struct {
	cell  float64
	cells map[[2]int][]int
	boxes []Box
}

func newBoxGrid(cands []Candidate) *boxGrid {
	g := &boxGrid{cells: make(map[[2]int][]int), boxes: make([]Box, len(cands))}
	for _, c := range cands {
		g.cell = math.Max(g.cell, math.Max(c.Box.Width(), c.Box.Height()))
	}
	if g.cell < 1 {
		g.cell = 1
	}
	for i, c := range cands {
		g.boxes[i] = c.Box
		g.visit(c.Box, func(k [2]int) {
			g.cells[k] = append(g.cells[k], i)
		})
	}
	return g
}

func (g *boxGrid) visit(b Box, fn func([2]int)) {
	x0 := int(math.Floor(b.X0 / g.cell))
	y0 := int(math.Floor(b.Y0 / g.cell))
	x1 := int(math.Floor(b.X1 / g.cell))
	y1 := int(math.Floor(b.Y1 / g.cell))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			fn([2]int{x, y})
		}
	}
}

// overlapping returns, in ascending order, the indices after i whose boxes
// share a cell with b.
func (g *boxGrid) overlapping(b Box, i int) []int {
	seen := make(map[int]bool)
	var out []int
	g.visit(b, func(k [2]int) {
		for _, j := range g.cells[k] {
			if j > i && !seen[j] {
				seen[j] = true
				out = append(out, j)
			}
		}
	})
	sort.Ints(out)
	return out
}
