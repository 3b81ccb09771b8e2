package geom

import (
	"fmt"
	"math"
)

// Grid is a regular lattice over an orthorhombic simulation box. The x and y
// axes are periodic, the z axis is bounded, matching the slab geometry the
// rest of the pipeline assumes. Grid provides an interface for reasoning
// over a 1D slice as if it were a 3D grid.
type Grid struct {
	// Lengths holds the box side lengths.
	Lengths Vec
	// Cells holds the per-axis cell counts. Each count is the smallest
	// integer for which the actual spacing does not exceed the requested
	// spacing, so the field is never under-resolved.
	Cells [3]int
	// Spacing holds the actual per-axis spacing, Lengths[k] / Cells[k].
	Spacing Vec

	Length, Area, Volume int
}

// NewGrid returns a Grid over a box with the given side lengths, with at
// most the requested cell spacing along every axis.
func NewGrid(lengths Vec, spacing float64) (*Grid, error) {
	if spacing <= 0 {
		return nil, fmt.Errorf("grid spacing must be positive, got %g", spacing)
	}
	for k := 0; k < 3; k++ {
		if lengths[k] <= 0 {
			return nil, fmt.Errorf(
				"box length along axis %d must be positive, got %g",
				k, lengths[k],
			)
		}
	}

	g := &Grid{Lengths: lengths}
	for k := 0; k < 3; k++ {
		g.Cells[k] = int(math.Ceil(lengths[k] / spacing))
		if g.Cells[k] < 1 {
			g.Cells[k] = 1
		}
		g.Spacing[k] = lengths[k] / float64(g.Cells[k])
	}

	g.Length = g.Cells[0]
	g.Area = g.Cells[0] * g.Cells[1]
	g.Volume = g.Cells[0] * g.Cells[1] * g.Cells[2]

	return g, nil
}

// Idx returns the flat index corresponding to cell coordinates.
func (g *Grid) Idx(i, j, k int) int {
	return i + j*g.Length + k*g.Area
}

// Coords returns the i, j, k cell coordinates of a point from its flat index.
func (g *Grid) Coords(idx int) (i, j, k int) {
	i = idx % g.Length
	j = (idx % g.Area) / g.Length
	k = idx / g.Area
	return i, j, k
}

// Center returns the real-space coordinates of the center of cell (i, j, k).
func (g *Grid) Center(i, j, k int) Vec {
	return Vec{
		(float64(i) + 0.5) * g.Spacing[0],
		(float64(j) + 0.5) * g.Spacing[1],
		(float64(k) + 0.5) * g.Spacing[2],
	}
}

// WrapCell maps a cell coordinate onto [0, Cells[axis]) for the periodic
// axes. Out-of-range z coordinates are reported via ok = false instead,
// since the slab axis is bounded.
func (g *Grid) WrapCell(axis, c int) (idx int, ok bool) {
	n := g.Cells[axis]
	if axis == 2 {
		return c, c >= 0 && c < n
	}
	return pMod(c, n), true
}

// Wrap maps a position into [0, L) along the periodic axes. The z coordinate
// is left untouched.
func (g *Grid) Wrap(p Vec) Vec {
	for k := 0; k < 2; k++ {
		L := g.Lengths[k]
		p[k] = math.Mod(p[k], L)
		if p[k] < 0 {
			p[k] += L
		}
	}
	return p
}

// MinImage returns the minimal periodic image of the displacement d: the x
// and y components are folded into [-L/2, L/2], the z component is returned
// directly.
func (g *Grid) MinImage(d Vec) Vec {
	for k := 0; k < 2; k++ {
		L := g.Lengths[k]
		d[k] -= L * math.Round(d[k]/L)
	}
	return d
}

// pMod computes the positive modulo x % y.
func pMod(x, y int) int {
	m := x % y
	if m < 0 {
		m += y
	}
	return m
}
