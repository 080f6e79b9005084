// Package corrections implements C8: classical aberration of light and
// the two-pass light-time fixed point, both applied around the C5/C6
// boundary rather than owning any geometry themselves.
//
// Grounded on the small, stateless, pure-function style of
// pushbroom/ellipsoid (no package-level state, every operation a value
// in, value out call), since both aberration and light-time are
// corrections applied to values the caller already holds rather than
// owners of their own resources.
package corrections

import (
	"errors"
	"math"
	"time"

	"pushbroom/spatial"
)

// SpeedOfLight is c in meters per second (§4.6).
const SpeedOfLight = 299792458.0

// ErrNoPositiveRoot signals that the aberration quadratic had no
// positive root, which should not happen for any velocity below c but
// is checked defensively since the formula divides by a discriminant
// that could be pathological for corrupt input.
var ErrNoPositiveRoot = errors.New("corrections: aberration equation has no positive root")

// Aberration returns the true line of sight given the observed line of
// sight losObs (unit, inertial frame) and the spacecraft velocity v
// (inertial frame), solving c*l + v = k*losObs for the positive root k
// and returning l = (k*losObs - v) / c (§4.6).
func Aberration(losObs, v spatial.Vector3) (spatial.Vector3, error) {
	dot := losObs.Dot(v)
	vSq := v.Dot(v)
	c := SpeedOfLight

	discriminant := dot*dot - vSq + c*c
	if discriminant < 0 {
		return spatial.Vector3{}, ErrNoPositiveRoot
	}
	k := dot + math.Sqrt(discriminant)
	if k <= 0 {
		return spatial.Vector3{}, ErrNoPositiveRoot
	}

	los := losObs.Scale(k).Minus(v).Scale(1 / c)
	return los.Normalize(), nil
}

// IntersectAt re-runs the ray/DEM intersection (C5) with the
// inertial-to-body transform shifted by shift seconds (negative for a
// light-time correction looking backward in time), returning the
// resulting ground point.
type IntersectAt func(shift time.Duration) (ground spatial.Vector3, err error)

// LightTime performs the two-pass fixed point from §4.6: an uncorrected
// intersection establishes a first travel-time estimate, one corrected
// pass refines it, and a second corrected pass applies the refined
// estimate. Returns the final ground point and the converged one-way
// light travel time.
func LightTime(position spatial.Vector3, intersectAt IntersectAt) (ground spatial.Vector3, travelTime time.Duration, err error) {
	ground0, err := intersectAt(0)
	if err != nil {
		return spatial.Vector3{}, 0, err
	}
	dt1 := position.Distance(ground0) / SpeedOfLight

	ground1, err := intersectAt(-secondsToDuration(dt1))
	if err != nil {
		return spatial.Vector3{}, 0, err
	}
	dt2 := position.Distance(ground1) / SpeedOfLight

	ground2, err := intersectAt(-secondsToDuration(dt2))
	if err != nil {
		return spatial.Vector3{}, 0, err
	}

	return ground2, secondsToDuration(dt2), nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
