/*package density builds coarse-grained density fields from atomic positions
by splatting a truncated Gaussian kernel onto a grid.
*/
package density

import (
	"fmt"
	"math"

	"github.com/intsurf/intsurf/geom"
)

// Field is a scalar density field on a grid. It is built fresh for every
// frame and discarded after surface extraction.
type Field struct {
	Grid *geom.Grid
	Rhos []float64
}

// NewField returns a zeroed Field over the given grid.
func NewField(g *geom.Grid) *Field {
	return &Field{Grid: g, Rhos: make([]float64, g.Volume)}
}

// At returns the field value at cell (i, j, k).
func (f *Field) At(i, j, k int) float64 {
	return f.Rhos[f.Grid.Idx(i, j, k)]
}

// Builder accumulates Gaussian kernel contributions onto a Field. The kernel
// is the normalized 3D Gaussian of width alpha, truncated at a fixed multiple
// of alpha. Each atom only touches the bounded neighborhood of cells inside
// its cutoff radius, wrapping through the periodic x and y boundaries.
type Builder struct {
	// Width is the Gaussian smoothing length alpha.
	Width float64
	// CutoffMultiple is the truncation radius in units of Width.
	CutoffMultiple float64

	cutoff   float64 // CutoffMultiple * Width
	cutoff2  float64
	peak     float64 // (2*pi*alpha^2)^(-3/2)
	invTwoA2 float64 // 1 / (2*alpha^2)
}

// NewBuilder returns a Builder for a kernel of the given width. A
// cutoffMultiple of 0 selects the default truncation at 3 alpha.
func NewBuilder(width, cutoffMultiple float64) (*Builder, error) {
	if width <= 0 {
		return nil, fmt.Errorf("kernel width must be positive, got %g", width)
	}
	if cutoffMultiple == 0 {
		cutoffMultiple = 3
	}
	if cutoffMultiple < 0 {
		return nil, fmt.Errorf(
			"kernel cutoff multiple must be positive, got %g", cutoffMultiple,
		)
	}

	b := &Builder{Width: width, CutoffMultiple: cutoffMultiple}
	b.cutoff = cutoffMultiple * width
	b.cutoff2 = b.cutoff * b.cutoff
	b.peak = math.Pow(2*math.Pi*width*width, -1.5)
	b.invTwoA2 = 1 / (2 * width * width)
	return b, nil
}

// Peak returns the kernel value at zero displacement.
func (b *Builder) Peak() float64 { return b.peak }

// Cutoff returns the truncation radius.
func (b *Builder) Cutoff() float64 { return b.cutoff }

// Splat adds the kernel contribution of every position in xs to the field.
// Positions are wrapped into the box along the periodic axes first; atoms
// within a cutoff of the x or y boundary contribute to both ends of the
// field. Cells beyond the cutoff receive nothing.
func (b *Builder) Splat(f *Field, xs []geom.Vec) {
	g := f.Grid

	for _, x := range xs {
		p := g.Wrap(x)

		// Bounded neighborhood of cells around the atom. The half-cell
		// offset accounts for values living at cell centers.
		var lo, hi [3]int
		for k := 0; k < 3; k++ {
			lo[k] = int(math.Floor((p[k]-b.cutoff)/g.Spacing[k] - 0.5))
			hi[k] = int(math.Ceil((p[k]+b.cutoff)/g.Spacing[k] - 0.5))
		}

		for ck := lo[2]; ck <= hi[2]; ck++ {
			kk, ok := g.WrapCell(2, ck)
			if !ok {
				continue
			}
			dz := p[2] - (float64(ck)+0.5)*g.Spacing[2]
			dz2 := dz * dz
			if dz2 > b.cutoff2 {
				continue
			}

			for cj := lo[1]; cj <= hi[1]; cj++ {
				jj, _ := g.WrapCell(1, cj)
				dy := p[1] - (float64(cj)+0.5)*g.Spacing[1]
				dyz2 := dz2 + dy*dy
				if dyz2 > b.cutoff2 {
					continue
				}

				for ci := lo[0]; ci <= hi[0]; ci++ {
					ii, _ := g.WrapCell(0, ci)
					dx := p[0] - (float64(ci)+0.5)*g.Spacing[0]
					r2 := dyz2 + dx*dx
					if r2 > b.cutoff2 {
						continue
					}

					f.Rhos[g.Idx(ii, jj, kk)] += b.peak *
						math.Exp(-r2*b.invTwoA2)
				}
			}
		}
	}
}
