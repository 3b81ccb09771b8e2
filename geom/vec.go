/*package geom contains the vector and grid primitives shared by the density
and surface routines.
*/
package geom

import (
	"math"
)

// Vec is a position or displacement in the simulation box.
type Vec [3]float64

// Add returns v + u.
func (v Vec) Add(u Vec) Vec {
	return Vec{v[0] + u[0], v[1] + u[1], v[2] + u[2]}
}

// Sub returns v - u.
func (v Vec) Sub(u Vec) Vec {
	return Vec{v[0] - u[0], v[1] - u[1], v[2] - u[2]}
}

// Scale returns s*v.
func (v Vec) Scale(s float64) Vec {
	return Vec{s * v[0], s * v[1], s * v[2]}
}

// Dot returns the inner product of v and u.
func (v Vec) Dot(u Vec) float64 {
	return v[0]*u[0] + v[1]*u[1] + v[2]*u[2]
}

// Cross returns the cross product of v and u.
func (v Vec) Cross(u Vec) Vec {
	return Vec{
		v[1]*u[2] - v[2]*u[1],
		v[2]*u[0] - v[0]*u[2],
		v[0]*u[1] - v[1]*u[0],
	}
}

// Norm returns the Euclidean length of v.
func (v Vec) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Unit returns v scaled to unit length. ok is false if v is the zero
// vector, in which case the zero vector is returned unchanged.
func (v Vec) Unit() (u Vec, ok bool) {
	n := v.Norm()
	if n == 0 {
		return v, false
	}
	return v.Scale(1 / n), true
}
