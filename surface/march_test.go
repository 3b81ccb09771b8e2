package surface

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/intsurf/intsurf/density"
	"github.com/intsurf/intsurf/geom"
)

// slabField fills a field that depends on z only: a linear ramp from 0 to 1
// between zLo-2 and zLo+2, a plateau, and a ramp back down around zHi. With
// an isovalue of 0.5 the crossings sit exactly at zLo and zHi.
func slabField(t testing.TB, box geom.Vec, spacing, zLo, zHi float64) *density.Field {
	t.Helper()
	g, err := geom.NewGrid(box, spacing)
	if err != nil {
		t.Fatal(err)
	}
	f := density.NewField(g)
	for idx := range f.Rhos {
		_, _, k := g.Coords(idx)
		z := (float64(k) + 0.5) * g.Spacing[2]
		up := (z - (zLo - 2)) / 4
		down := ((zHi + 2) - z) / 4
		v := math.Min(up, down)
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		f.Rhos[idx] = v
	}
	return f
}

func TestExtractFlatSlab(t *testing.T) {
	box := geom.Vec{10, 10, 30}
	f := slabField(t, box, 1.0, 10, 20)

	table := []struct {
		side Side
		z    float64
	}{
		{Lower, 10},
		{Upper, 20},
	}

	for _, test := range table {
		surf, err := Extract(f, 0.5, test.side)
		if err != nil {
			t.Fatalf("%v: Extract: %v", test.side, err)
		}
		if len(surf.Verts) == 0 || len(surf.Tris) == 0 {
			t.Fatalf("%v: empty surface", test.side)
		}
		if surf.Clipped != 0 {
			t.Errorf("%v: clipped %d components from a flat slab",
				test.side, surf.Clipped)
		}

		for vi, v := range surf.Verts {
			if math.Abs(v[2]-test.z) > 1e-10 {
				t.Fatalf("%v: vertex %d at z=%g, want %g", test.side, vi, v[2], test.z)
			}
		}

		// A flat interface periodic in x and y has one vertex per lattice
		// edge crossing, i.e. one per (i, j) cell.
		if len(surf.Verts) != 10*10 {
			t.Errorf("%v: %d vertices, want 100", test.side, len(surf.Verts))
		}

		want := box[0] * box[1]
		if math.Abs(surf.Area()-want) > 1e-8*want {
			t.Errorf("%v: area %g, want %g", test.side, surf.Area(), want)
		}
	}
}

func TestExtractNormalsPointOutward(t *testing.T) {
	f := slabField(t, geom.Vec{10, 10, 30}, 1.0, 10, 20)

	for _, test := range []struct {
		side Side
		nz   float64
	}{
		{Lower, -1},
		{Upper, 1},
	} {
		surf, err := Extract(f, 0.5, test.side)
		if err != nil {
			t.Fatal(err)
		}
		for vi, n := range surf.Normals {
			if math.Abs(n.Norm()-1) > 1e-10 {
				t.Fatalf("%v: normal %d is not unit length: %v", test.side, vi, n)
			}
			if math.Abs(n[2]-test.nz) > 1e-10 {
				t.Fatalf("%v: normal %d = %v, want z component %g",
					test.side, vi, n, test.nz)
			}
		}
	}
}

func TestExtractNoCrossing(t *testing.T) {
	g, err := geom.NewGrid(geom.Vec{10, 10, 30}, 1.0)
	if err != nil {
		t.Fatal(err)
	}

	// Identically zero field: no atoms present.
	f := density.NewField(g)
	if _, err := Extract(f, 0.5, Upper); !errors.Is(err, ErrNoCrossing) {
		t.Errorf("empty field: got %v, want ErrNoCrossing", err)
	}

	// Threshold outside the field's range.
	f = slabField(t, geom.Vec{10, 10, 30}, 1.0, 10, 20)
	if _, err := Extract(f, 100, Upper); !errors.Is(err, ErrNoCrossing) {
		t.Errorf("isovalue above range: got %v, want ErrNoCrossing", err)
	}
}

// Shifting every atom by a full box length along a periodic axis must
// reproduce the same surface.
func TestExtractTranslationPeriodic(t *testing.T) {
	g, err := geom.NewGrid(geom.Vec{12, 12, 24}, 0.6)
	if err != nil {
		t.Fatal(err)
	}
	b, err := density.NewBuilder(1.5, 3)
	if err != nil {
		t.Fatal(err)
	}

	xs := []geom.Vec{
		{2, 3, 10}, {6, 6, 11}, {10, 2, 12}, {4, 9, 13}, {11, 11, 11.5},
	}
	shifted := make([]geom.Vec, len(xs))
	for i, x := range xs {
		shifted[i] = geom.Vec{x[0] + 12, x[1] - 12, x[2]}
	}

	f1, f2 := density.NewField(g), density.NewField(g)
	b.Splat(f1, xs)
	b.Splat(f2, shifted)

	for _, side := range []Side{Lower, Upper} {
		s1, err1 := Extract(f1, 0.01, side)
		s2, err2 := Extract(f2, 0.01, side)
		if err1 != nil || err2 != nil {
			t.Fatalf("%v: Extract: %v, %v", side, err1, err2)
		}

		if len(s1.Verts) != len(s2.Verts) {
			t.Fatalf("%v: vertex counts differ: %d vs %d",
				side, len(s1.Verts), len(s2.Verts))
		}
		v1, v2 := sortedVerts(s1), sortedVerts(s2)
		for i := range v1 {
			d := v1[i].Sub(v2[i]).Norm()
			if d > 1e-10 {
				t.Fatalf("%v: vertex %d differs by %g", side, i, d)
			}
		}
	}
}

func sortedVerts(s *Surface) []geom.Vec {
	vs := append([]geom.Vec{}, s.Verts...)
	sort.Slice(vs, func(a, b int) bool {
		if vs[a][0] != vs[b][0] {
			return vs[a][0] < vs[b][0]
		}
		if vs[a][1] != vs[b][1] {
			return vs[a][1] < vs[b][1]
		}
		return vs[a][2] < vs[b][2]
	})
	return vs
}

// Two well-separated droplets in the same half-space triangulate into two
// components; only the larger one survives.
func TestExtractKeepsLargestComponent(t *testing.T) {
	g, err := geom.NewGrid(geom.Vec{24, 12, 24}, 0.6)
	if err != nil {
		t.Fatal(err)
	}
	b, err := density.NewBuilder(1.0, 3)
	if err != nil {
		t.Fatal(err)
	}

	f := density.NewField(g)
	// A large cluster and a single distant atom at the same height.
	b.Splat(f, []geom.Vec{
		{6, 6, 12}, {7, 6, 12}, {6, 7, 12}, {7, 7, 12},
		{18, 6, 12},
	})

	surf, err := Extract(f, 0.005, Lower)
	if err != nil {
		t.Fatal(err)
	}
	if surf.Clipped != 1 {
		t.Fatalf("clipped %d components, want 1", surf.Clipped)
	}
	// The surviving component wraps the four-atom cluster.
	for _, v := range surf.Verts {
		if v[0] > 14 {
			t.Fatalf("vertex %v belongs to the discarded droplet", v)
		}
	}
}

func TestTriTableInvariants(t *testing.T) {
	for config, edges := range triTable {
		if len(edges)%3 != 0 {
			t.Errorf("config %d: %d edge entries, not a multiple of 3",
				config, len(edges))
		}
		for _, e := range edges {
			if e < 0 || e > 11 {
				t.Errorf("config %d: edge %d out of range", config, e)
			}
		}
	}
	if len(triTable[0]) != 0 || len(triTable[255]) != 0 {
		t.Errorf("fully-inside and fully-outside cubes must produce no triangles")
	}
}
