// Package spatial provides the pose and orientation value types used by the
// trajectory, search and compensation loops.
//
// Orientations are unit quaternions stored as (w, x, y, z). All operations
// return new values; nothing in this package mutates its inputs.
package spatial

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// degenerateNorm2 is the squared norm below which a quaternion is treated
// as having no defined inverse.
const degenerateNorm2 = 1e-12

// ErrDegenerateQuaternion is returned when dividing by a quaternion whose
// norm is (numerically) zero.
var ErrDegenerateQuaternion = errors.New("degenerate quaternion: norm is zero")

// Quaternion is an orientation in (w, x, y, z) order.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity is the no-rotation quaternion.
var Identity = Quaternion{W: 1}

// Q builds a quaternion from its components.
func Q(w, x, y, z float64) Quaternion {
	return Quaternion{W: w, X: x, Y: y, Z: z}
}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func fromNumber(n quat.Number) Quaternion {
	return Quaternion{W: n.Real, X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

// Array returns the components as [w, x, y, z].
func (q Quaternion) Array() [4]float64 {
	return [4]float64{q.W, q.X, q.Y, q.Z}
}

// Dot returns the 4D inner product of a and b.
func Dot(a, b Quaternion) float64 {
	return a.W*b.W + a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

// Norm returns the quaternion magnitude.
func (q Quaternion) Norm() float64 {
	return quat.Abs(q.number())
}

// Normalize returns q scaled to unit norm. A zero quaternion normalizes to
// Identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n*n < degenerateNorm2 {
		return Identity
	}
	return fromNumber(quat.Scale(1/n, q.number()))
}

// IsFinite reports whether every component is a finite number.
func (q Quaternion) IsFinite() bool {
	for _, v := range q.Array() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SignCorrect negates all four components. The result represents the same
// rotation on the opposite hemisphere.
func SignCorrect(q Quaternion) Quaternion {
	return Quaternion{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Hemisphere returns q sign-corrected so that Dot(q, ref) >= 0.
func Hemisphere(q, ref Quaternion) Quaternion {
	if Dot(q, ref) < 0 {
		return SignCorrect(q)
	}
	return q
}

// Product returns the Hamilton product q1*q2.
func Product(q1, q2 Quaternion) Quaternion {
	return fromNumber(quat.Mul(q1.number(), q2.number()))
}

// Divide returns q1 composed with the inverse of q2. When the two point into
// opposite hemispheres q2 is flipped first, so the quotient is the shorter
// rotation. The inverse divides by |q2|², so non-unit inputs are handled.
// Because of the flip, Product(Divide(p, q), q) recovers p only up to sign
// when Dot(p, q) < 0.
//
// If q2 has zero norm, Divide returns Identity and ErrDegenerateQuaternion.
func Divide(q1, q2 Quaternion) (Quaternion, error) {
	q2 = Hemisphere(q2, q1)
	n := q2.number()
	if norm2 := Dot(q2, q2); norm2 < degenerateNorm2 || math.IsNaN(norm2) {
		return Identity, ErrDegenerateQuaternion
	}
	return fromNumber(quat.Mul(q1.number(), quat.Inv(n))), nil
}

// AngularDistance returns arccos(|a·b|), the half-angle between two unit
// orientations along the shortest path.
func AngularDistance(a, b Quaternion) float64 {
	d := math.Abs(Dot(a, b))
	if d > 1 {
		d = 1
	}
	return math.Acos(d)
}

// Slerp interpolates between a and b along the great-circle arc. The caller
// is responsible for hemisphere correction; t outside [0,1] is clamped.
func Slerp(a, b Quaternion, t float64) Quaternion {
	if t <= 0 {
		return a
	}
	if t >= 1 || a == b {
		return b
	}

	cos := Dot(a, b)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}

	// Nearly parallel: fall back to normalized lerp to avoid dividing by sin≈0.
	if math.Abs(cos) > 0.9995 {
		return fromNumber(quat.Add(
			quat.Scale(1-t, a.number()),
			quat.Scale(t, b.number()),
		)).Normalize()
	}

	theta := math.Acos(cos)
	sin := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sin
	wb := math.Sin(t*theta) / sin
	return fromNumber(quat.Add(quat.Scale(wa, a.number()), quat.Scale(wb, b.number())))
}
