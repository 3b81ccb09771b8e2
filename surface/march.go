package surface

import (
	"errors"
	"fmt"
	"math"

	"github.com/intsurf/intsurf/density"
	"github.com/intsurf/intsurf/geom"
)

// ErrNoCrossing is returned when the isovalue does not intersect the density
// field on the requested side. Callers treat it as a zero-surface frame, not
// as a fatal condition.
var ErrNoCrossing = errors.New("isovalue does not cross the density field")

// DegenerateError reports a cube configuration outside the case table's
// domain. It indicates a defect and is fatal.
type DegenerateError struct {
	Cube   [3]int
	Config int
	Edge   int
}

func (e *DegenerateError) Error() string {
	return fmt.Sprintf(
		"degenerate marching-cubes geometry at cube %v: config %d, edge %d",
		e.Cube, e.Config, e.Edge,
	)
}

// edgeKey identifies a cube edge globally: the grid cell of its lower
// endpoint plus the axis it runs along. Cubes sharing an edge map it to the
// same key, which is what deduplicates vertices at cube boundaries.
type edgeKey struct {
	axis    int
	i, j, k int
}

// Extract runs marching cubes over the half of the field on the given side
// of the slab and returns the triangulated isovalue crossing. The x and y
// cube lattices are periodic, z is bounded. Of the connected components on
// a side, only the largest by area is returned; the rest are counted in
// Surface.Clipped.
func Extract(f *density.Field, iso float64, side Side) (*Surface, error) {
	g := f.Grid

	split, ok := splitPlane(f)
	if !ok {
		return nil, ErrNoCrossing
	}

	surf := &Surface{Side: side, Box: g.Lengths}
	vertAt := map[edgeKey]int{}

	nx, ny, nz := g.Cells[0], g.Cells[1], g.Cells[2]
	var corners [8]float64
	var positions [8]geom.Vec

	for k := 0; k < nz-1; k++ {
		// A cube spans cell centers k and k+1; its midplane sits at cell
		// coordinate k+1. Assign it to the half of the slab it lies in.
		mid := float64(k) + 1
		if (side == Lower) != (mid <= split) {
			continue
		}

		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				config := 0
				for c := 0; c < 8; c++ {
					o := cornerOffsets[c]
					ii, _ := g.WrapCell(0, i+o[0])
					jj, _ := g.WrapCell(1, j+o[1])
					corners[c] = f.At(ii, jj, k+o[2])
					// Geometry uses the unwrapped coordinates so edge
					// interpolation stays continuous across the seam.
					positions[c] = g.Center(i+o[0], j+o[1], k+o[2])
					if corners[c] < iso {
						config |= 1 << c
					}
				}

				edges := triTable[config]
				for t := 0; t+2 < len(edges); t += 3 {
					var tri [3]int
					for v := 0; v < 3; v++ {
						e := edges[t+v]
						if e < 0 || e > 11 {
							return nil, &DegenerateError{
								Cube: [3]int{i, j, k}, Config: config, Edge: e,
							}
						}
						vi, err := surf.edgeVertex(
							g, vertAt, i, j, k, e, corners, positions, iso,
						)
						if err != nil {
							return nil, err
						}
						tri[v] = vi
					}
					surf.Tris = append(surf.Tris, tri)
				}
			}
		}
	}

	if len(surf.Tris) == 0 {
		return nil, ErrNoCrossing
	}

	surf.keepLargestComponent()
	surf.computeNormals(f)
	return surf, nil
}

// edgeVertex returns the index of the interpolated vertex on edge e of the
// cube at (i, j, k), creating it if no neighboring cube has yet.
func (s *Surface) edgeVertex(
	g *geom.Grid, vertAt map[edgeKey]int,
	i, j, k, e int,
	corners [8]float64, positions [8]geom.Vec, iso float64,
) (int, error) {
	ca, cb := edgeCorners[e][0], edgeCorners[e][1]
	oa, ob := cornerOffsets[ca], cornerOffsets[cb]

	axis := -1
	var base [3]int
	for a := 0; a < 3; a++ {
		lo := oa[a]
		if ob[a] < lo {
			lo = ob[a]
		}
		base[a] = lo
		if oa[a] != ob[a] {
			axis = a
		}
	}
	if axis < 0 {
		return 0, &DegenerateError{Cube: [3]int{i, j, k}, Edge: e}
	}

	bi, _ := g.WrapCell(0, i+base[0])
	bj, _ := g.WrapCell(1, j+base[1])
	key := edgeKey{axis, bi, bj, k + base[2]}
	if vi, ok := vertAt[key]; ok {
		return vi, nil
	}

	va, vb := corners[ca], corners[cb]
	t := 0.5
	if va != vb {
		t = (iso - va) / (vb - va)
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	pa, pb := positions[ca], positions[cb]
	pos := g.Wrap(pa.Add(pb.Sub(pa).Scale(t)))

	vi := len(s.Verts)
	s.Verts = append(s.Verts, pos)
	vertAt[key] = vi
	return vi, nil
}

// splitPlane returns the z center of mass of the density in cell
// coordinates, which separates the two halves of the slab. ok is false for
// an identically zero field.
func splitPlane(f *density.Field) (split float64, ok bool) {
	g := f.Grid
	sum, zSum := 0.0, 0.0
	for idx, rho := range f.Rhos {
		_, _, k := g.Coords(idx)
		sum += rho
		zSum += rho * (float64(k) + 0.5)
	}
	if sum == 0 {
		return 0, false
	}
	return zSum / sum, true
}

// computeNormals assigns each vertex the negated, normalized field gradient,
// which points outward, from the liquid toward the vapor.
func (s *Surface) computeNormals(f *density.Field) {
	g := f.Grid
	s.Normals = make([]geom.Vec, len(s.Verts))

	for vi, v := range s.Verts {
		var c [3]int
		for a := 0; a < 3; a++ {
			c[a] = int(v[a] / g.Spacing[a])
			if c[a] >= g.Cells[a] {
				c[a] = g.Cells[a] - 1
			}
			if c[a] < 0 {
				c[a] = 0
			}
		}

		var grad geom.Vec
		for a := 0; a < 3; a++ {
			lo, hi := c, c
			lo[a]--
			hi[a]++
			step := 2.0
			if li, ok := g.WrapCell(a, lo[a]); ok {
				lo[a] = li
			} else {
				lo[a], step = c[a], 1
			}
			if hi2, ok := g.WrapCell(a, hi[a]); ok {
				hi[a] = hi2
			} else {
				hi[a], step = c[a], 1
			}
			grad[a] = (f.At(hi[0], hi[1], hi[2]) - f.At(lo[0], lo[1], lo[2])) /
				(step * g.Spacing[a])
		}

		n, ok := grad.Scale(-1).Unit()
		if !ok {
			// Flat gradient; fall back to the slab axis.
			n = geom.Vec{0, 0, 1}
			if s.Side == Lower {
				n[2] = -1
			}
		}
		s.Normals[vi] = n
	}
}

// keepLargestComponent drops all but the largest-area connected component.
// Corrugated or partially detached interfaces can triangulate into several
// pieces per half-space; the largest one is taken as the interface.
func (s *Surface) keepLargestComponent() {
	n := len(s.Verts)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, tri := range s.Tris {
		union(tri[0], tri[1])
		union(tri[1], tri[2])
	}

	g := wrapGrid(s.Box)
	areas := map[int]float64{}
	for _, tri := range s.Tris {
		root := find(tri[0])
		areas[root] += triArea(g, s.Verts[tri[0]], s.Verts[tri[1]], s.Verts[tri[2]])
	}
	if len(areas) <= 1 {
		return
	}

	bestRoot, bestArea := -1, math.Inf(-1)
	for root, area := range areas {
		if area > bestArea {
			bestRoot, bestArea = root, area
		}
	}
	s.Clipped = len(areas) - 1

	remap := make([]int, n)
	for i := range remap {
		remap[i] = -1
	}
	var verts []geom.Vec
	var tris [][3]int
	for _, tri := range s.Tris {
		if find(tri[0]) != bestRoot {
			continue
		}
		for v := 0; v < 3; v++ {
			if remap[tri[v]] == -1 {
				remap[tri[v]] = len(verts)
				verts = append(verts, s.Verts[tri[v]])
			}
			tri[v] = remap[tri[v]]
		}
		tris = append(tris, tri)
	}
	s.Verts, s.Tris = verts, tris
}
