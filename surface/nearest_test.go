package surface

import (
	"math"
	"math/rand"
	"testing"

	"github.com/intsurf/intsurf/geom"
)

func randomSurface(n int, box geom.Vec, rng *rand.Rand) *Surface {
	s := &Surface{Side: Upper, Box: box}
	for i := 0; i < n; i++ {
		s.Verts = append(s.Verts, geom.Vec{
			rng.Float64() * box[0],
			rng.Float64() * box[1],
			box[2]/2 + (rng.Float64()-0.5)*4,
		})
		s.Normals = append(s.Normals, geom.Vec{0, 0, 1})
	}
	return s
}

// The spatial index must agree with the brute-force reference scan.
func TestIndexMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	box := geom.Vec{15, 12, 30}
	s := randomSurface(400, box, rng)
	idx := s.NewIndex(1.5)

	for q := 0; q < 200; q++ {
		p := geom.Vec{
			rng.Float64()*box[0]*1.5 - 2,
			rng.Float64()*box[1]*1.5 - 2,
			rng.Float64() * box[2],
		}
		gotVi, gotD := idx.Nearest(p)
		wantVi, wantD := s.nearestBrute(p)

		if math.Abs(gotD-wantD) > 1e-12 {
			t.Fatalf("query %v: index distance %g, brute force %g", p, gotD, wantD)
		}
		// Ties can legitimately resolve to different vertices.
		if gotVi != wantVi && gotD != wantD {
			t.Fatalf("query %v: index vertex %d, brute force %d", p, gotVi, wantVi)
		}
	}
}

func TestSignedDistanceSides(t *testing.T) {
	// A flat surface at z = 15 with outward +z normals.
	s := &Surface{Side: Upper, Box: geom.Vec{10, 10, 30}}
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			s.Verts = append(s.Verts, geom.Vec{
				float64(i) + 0.5, float64(j) + 0.5, 15,
			})
			s.Normals = append(s.Normals, geom.Vec{0, 0, 1})
		}
	}
	idx := s.NewIndex(2)

	table := []struct {
		p geom.Vec
		d float64
	}{
		{geom.Vec{2.5, 2.5, 18}, 3},    // vapor side
		{geom.Vec{2.5, 2.5, 11}, -4},   // liquid side
		{geom.Vec{0.5, 0.5, 15}, 0},    // exactly on a vertex
		{geom.Vec{9.7, 0.5, 16}, 1.02}, // nearest image through the seam
	}

	for i, test := range table {
		d, n := idx.SignedDistance(test.p)
		if math.Abs(d-test.d) > 0.05 {
			t.Errorf("%d) SignedDistance(%v) = %g, want about %g", i, test.p, d, test.d)
		}
		if n[2] != 1 {
			t.Errorf("%d) normal = %v, want +z", i, n)
		}
	}
}

func BenchmarkIndexNearest(b *testing.B) {
	rng := rand.New(rand.NewSource(7))
	box := geom.Vec{30, 30, 60}
	s := randomSurface(5000, box, rng)
	idx := s.NewIndex(1.5)
	p := geom.Vec{11, 17, 33}

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		idx.Nearest(p)
	}
}

func BenchmarkNearestBrute(b *testing.B) {
	rng := rand.New(rand.NewSource(7))
	box := geom.Vec{30, 30, 60}
	s := randomSurface(5000, box, rng)
	p := geom.Vec{11, 17, 33}

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		s.nearestBrute(p)
	}
}
