package spatial

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Rotation is a unit quaternion describing an orientation, following the
// teacher's "store the real thing, expose value-receiver methods that
// return new values" idiom (paulcager-osgridref/vector3d.go).
type Rotation struct {
	q quat.Number
}

// Identity is the no-op rotation.
var Identity = Rotation{q: quat.Number{Real: 1}}

// NewRotation builds a Rotation from an explicit quaternion, normalizing
// it to guard against drift accumulated by repeated composition.
func NewRotation(w, x, y, z float64) Rotation {
	n := math.Sqrt(w*w + x*x + y*y + z*z)
	if n == 0 {
		return Identity
	}
	return Rotation{q: quat.Number{Real: w / n, Imag: x / n, Jmag: y / n, Kmag: z / n}}
}

// FromAxisAngle builds a rotation of angle radians around axis (need not
// be unit length).
func FromAxisAngle(axis Vector3, angle float64) Rotation {
	a := axis.Normalize()
	half := angle / 2
	s := math.Sin(half)
	return NewRotation(math.Cos(half), a.X*s, a.Y*s, a.Z*s)
}

// Components returns (w, x, y, z).
func (r Rotation) Components() (w, x, y, z float64) {
	return r.q.Real, r.q.Imag, r.q.Jmag, r.q.Kmag
}

// Conjugate (== inverse, since r is unit) returns the reverse rotation.
func (r Rotation) Conjugate() Rotation {
	return Rotation{q: quat.Conj(r.q)}
}

// Compose returns the rotation that applies r first, then other —
// matching Transform's left-to-right composition convention.
func (r Rotation) Compose(other Rotation) Rotation {
	return Rotation{q: quat.Mul(other.q, r.q)}
}

// Apply rotates v by r.
func (r Rotation) Apply(v Vector3) Vector3 {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	res := quat.Mul(quat.Mul(r.q, p), quat.Conj(r.q))
	return Vector3{X: res.Imag, Y: res.Jmag, Z: res.Kmag}
}

// ApplyInverse rotates v by the inverse of r.
func (r Rotation) ApplyInverse(v Vector3) Vector3 {
	return r.Conjugate().Apply(v)
}

// Angle returns the rotation angle in radians, in [0, pi].
func (r Rotation) Angle() float64 {
	w := r.q.Real
	if w > 1 {
		w = 1
	}
	if w < -1 {
		w = -1
	}
	return 2 * math.Acos(math.Abs(w))
}

// Slerp spherically interpolates between r and other at t in [0,1].
func Slerp(r, other Rotation, t float64) Rotation {
	w1, x1, y1, z1 := r.Components()
	w2, x2, y2, z2 := other.Components()

	dot := w1*w2 + x1*x2 + y1*y2 + z1*z2
	if dot < 0 {
		w2, x2, y2, z2 = -w2, -x2, -y2, -z2
		dot = -dot
	}
	if dot > 0.9995 {
		return NewRotation(
			w1+(w2-w1)*t,
			x1+(x2-x1)*t,
			y1+(y2-y1)*t,
			z1+(z2-z1)*t,
		)
	}
	theta0 := math.Acos(dot)
	theta := theta0 * t
	sinTheta0 := math.Sin(theta0)
	s0 := math.Cos(theta) - dot*math.Sin(theta)/sinTheta0
	s1 := math.Sin(theta) / sinTheta0
	return NewRotation(
		s0*w1+s1*w2,
		s0*x1+s1*x2,
		s0*y1+s1*y2,
		s0*z1+s1*z2,
	)
}
