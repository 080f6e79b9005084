package spatial

import "time"

// Transform carries a date, a translation, a rotation, and their first
// time-derivatives (velocity, spin), and composes left-to-right (§3).
//
// Applying a Transform maps a vector expressed in the transform's origin
// frame into its destination frame: first translate to the new origin,
// then rotate. Velocity is the time-derivative of Translation; Spin is
// the instantaneous rotation axis scaled by angular rate, used by
// ShiftedBy to extrapolate both linearly over a short time span.
type Transform struct {
	Date        time.Time
	Translation Vector3
	Rotation    Rotation
	Velocity    Vector3
	Spin        Vector3
}

// IdentityTransform is the no-op transform at the given date.
func IdentityTransform(date time.Time) Transform {
	return Transform{Date: date, Rotation: Identity}
}

// TransformPosition maps a position vector through the transform.
func (t Transform) TransformPosition(p Vector3) Vector3 {
	return t.Rotation.Apply(p.Minus(t.Translation))
}

// TransformVector maps a free (direction-only) vector through the
// transform's rotation, ignoring translation.
func (t Transform) TransformVector(v Vector3) Vector3 {
	return t.Rotation.Apply(v)
}

// TransformVelocity maps a velocity vector co-located with position p
// (expressed in the origin frame) into the destination frame, including
// the rigid-body term from the transform's own translation/rotation
// rates: v' = R(v - V - spin x (p - T)).
func (t Transform) TransformVelocity(p, v Vector3) Vector3 {
	rel := p.Minus(t.Translation)
	rigid := v.Minus(t.Velocity).Minus(t.Spin.Cross(rel))
	return t.Rotation.Apply(rigid)
}

// Inverse returns the transform mapping destination-frame vectors back
// to the origin frame.
func (t Transform) Inverse() Transform {
	rInv := t.Rotation.Conjugate()
	return Transform{
		Date:        t.Date,
		Translation: t.Rotation.Apply(t.Translation.Negate()),
		Rotation:    rInv,
		Velocity:    t.Rotation.Apply(t.Velocity.Negate()),
		Spin:        rInv.Apply(t.Spin.Negate()),
	}
}

// Compose returns the transform equivalent to applying t first, then
// other — t.Compose(other).TransformPosition(p) ==
// other.TransformPosition(t.TransformPosition(p)).
func (t Transform) Compose(date time.Time, other Transform) Transform {
	rotation := t.Rotation.Compose(other.Rotation)
	otherTranslationInT := t.Rotation.ApplyInverse(other.Translation)
	translation := t.Translation.Plus(otherTranslationInT)

	otherVelocityInT := t.Rotation.ApplyInverse(other.Velocity)
	velocity := t.Velocity.Plus(otherVelocityInT).Minus(t.Spin.Cross(otherTranslationInT))
	spin := t.Spin.Plus(t.Rotation.ApplyInverse(other.Spin))

	return Transform{
		Date:        date,
		Translation: translation,
		Rotation:    rotation,
		Velocity:    velocity,
		Spin:        spin,
	}
}

// ShiftedBy linearly extrapolates translation by velocity*dt and applies
// spin*dt as an incremental rotation, used for light-time compensation
// (§3, §4.6). Velocity and spin are carried over unchanged (first order).
func (t Transform) ShiftedBy(dt float64) Transform {
	shifted := Transform{
		Date:        t.Date.Add(time.Duration(dt * float64(time.Second))),
		Translation: t.Translation.Plus(t.Velocity.Scale(dt)),
		Velocity:    t.Velocity,
		Spin:        t.Spin,
	}
	angle := t.Spin.Norm() * dt
	if angle == 0 {
		shifted.Rotation = t.Rotation
		return shifted
	}
	incremental := FromAxisAngle(t.Spin, angle)
	shifted.Rotation = t.Rotation.Compose(incremental)
	return shifted
}
