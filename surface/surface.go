/*package surface extracts instantaneous interfaces from coarse-grained
density fields by marching cubes and answers nearest-point queries against
the resulting triangulations.
*/
package surface

import (
	"math"

	"github.com/intsurf/intsurf/geom"
)

// Side names one of the two free interfaces of a slab.
type Side int

const (
	// Lower is the interface below the liquid, facing -z.
	Lower Side = iota
	// Upper is the interface above the liquid, facing +z.
	Upper
)

func (s Side) String() string {
	switch s {
	case Lower:
		return "lower"
	case Upper:
		return "upper"
	}
	return "unknown"
}

// Surface is a triangulated dividing surface for one side of the slab,
// frame-scoped like the field it came from. Vertices are real-space points
// wrapped into the periodic image of the box; they are not grid-snapped.
type Surface struct {
	Side Side
	// Box holds the side lengths of the box the surface lives in.
	Box geom.Vec

	Verts []geom.Vec
	// Normals holds a unit outward normal per vertex, pointing from the
	// liquid toward the vapor.
	Normals []geom.Vec
	// Tris holds triples of vertex indices.
	Tris [][3]int

	// Clipped counts connected components discarded by the
	// largest-component policy.
	Clipped int
}

// Area returns the total triangulated area, with triangle edges taken
// through the nearest periodic image.
func (s *Surface) Area() float64 {
	g := wrapGrid(s.Box)
	total := 0.0
	for _, tri := range s.Tris {
		total += triArea(g, s.Verts[tri[0]], s.Verts[tri[1]], s.Verts[tri[2]])
	}
	return total
}

func triArea(g *geom.Grid, a, b, c geom.Vec) float64 {
	u := g.MinImage(b.Sub(a))
	v := g.MinImage(c.Sub(a))
	return 0.5 * u.Cross(v).Norm()
}

// wrapGrid builds a single-cell grid that is only used for its periodic
// wrapping arithmetic.
func wrapGrid(box geom.Vec) *geom.Grid {
	g, err := geom.NewGrid(box, math.Max(box[0], math.Max(box[1], box[2])))
	if err != nil {
		panic("surface: invalid box: " + err.Error())
	}
	return g
}

// Index answers nearest-vertex queries against a Surface through a uniform
// bucket grid, periodic in x and y. It replaces a brute-force scan over all
// vertices without changing any answer.
type Index struct {
	surf    *Surface
	grid    *geom.Grid
	buckets [][]int32
	minStep float64
}

// NewIndex builds a spatial index over the surface vertices with buckets of
// roughly the given size.
func (s *Surface) NewIndex(cellSize float64) *Index {
	grid, err := geom.NewGrid(s.Box, cellSize)
	if err != nil {
		panic("surface: invalid index cell size: " + err.Error())
	}

	idx := &Index{
		surf:    s,
		grid:    grid,
		buckets: make([][]int32, grid.Volume),
		minStep: math.Min(grid.Spacing[0], math.Min(grid.Spacing[1], grid.Spacing[2])),
	}
	for vi, v := range s.Verts {
		c := idx.cellOf(v)
		b := grid.Idx(c[0], c[1], c[2])
		idx.buckets[b] = append(idx.buckets[b], int32(vi))
	}
	return idx
}

func (idx *Index) cellOf(p geom.Vec) [3]int {
	g := idx.grid
	p = g.Wrap(p)
	var c [3]int
	for k := 0; k < 3; k++ {
		c[k] = int(p[k] / g.Spacing[k])
		if c[k] >= g.Cells[k] {
			c[k] = g.Cells[k] - 1
		}
		if c[k] < 0 {
			c[k] = 0
		}
	}
	return c
}

// Nearest returns the index of the surface vertex closest to p under the
// periodic metric, and the unsigned distance to it.
func (idx *Index) Nearest(p geom.Vec) (vi int, dist float64) {
	g := idx.grid
	c := idx.cellOf(p)

	best, bestD := -1, math.Inf(1)
	maxRing := g.Cells[0] + g.Cells[1] + g.Cells[2]

	for r := 0; r <= maxRing; r++ {
		// Cells in ring r are at least (r-1) bucket widths away, so once a
		// candidate is closer than that the search is complete.
		if best >= 0 && float64(r-1)*idx.minStep > bestD {
			break
		}
		idx.scanRing(c, r, p, &best, &bestD)
	}
	return best, bestD
}

// scanRing visits every bucket whose Chebyshev cell distance from c is
// exactly r. Rings that wrap all the way around a periodic axis revisit
// buckets; that is wasteful but harmless.
func (idx *Index) scanRing(c [3]int, r int, p geom.Vec, best *int, bestD *float64) {
	g := idx.grid
	for di := -r; di <= r; di++ {
		for dj := -r; dj <= r; dj++ {
			for dk := -r; dk <= r; dk++ {
				if max3(abs(di), abs(dj), abs(dk)) != r {
					continue
				}
				ii, _ := g.WrapCell(0, c[0]+di)
				jj, _ := g.WrapCell(1, c[1]+dj)
				kk, ok := g.WrapCell(2, c[2]+dk)
				if !ok {
					continue
				}
				for _, vi := range idx.buckets[g.Idx(ii, jj, kk)] {
					d := g.MinImage(p.Sub(idx.surf.Verts[vi])).Norm()
					if d < *bestD {
						*best, *bestD = int(vi), d
					}
				}
			}
		}
	}
}

// SignedDistance returns the distance from p to the nearest surface vertex,
// negative on the liquid side and positive on the vapor side, together with
// the outward normal at that vertex.
func (idx *Index) SignedDistance(p geom.Vec) (d float64, normal geom.Vec) {
	vi, dist := idx.Nearest(p)
	n := idx.surf.Normals[vi]
	delta := idx.grid.MinImage(p.Sub(idx.surf.Verts[vi]))
	if delta.Dot(n) < 0 {
		dist = -dist
	}
	return dist, n
}

// nearestBrute is the reference implementation of Nearest used by the tests.
func (s *Surface) nearestBrute(p geom.Vec) (vi int, dist float64) {
	g := wrapGrid(s.Box)
	best, bestD := -1, math.Inf(1)
	for i, v := range s.Verts {
		d := g.MinImage(p.Sub(v)).Norm()
		if d < bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func max3(a, b, c int) int {
	if b > a {
		a = b
	}
	if c > a {
		a = c
	}
	return a
}
