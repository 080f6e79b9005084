package corrections

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushbroom/spatial"
)

func TestAberrationAtZeroVelocityIsIdentity(t *testing.T) {
	losObs := spatial.Vector3{X: 0, Y: 0, Z: -1}
	los, err := Aberration(losObs, spatial.Vector3{})
	require.NoError(t, err)
	assert.InDelta(t, losObs.X, los.X, 1e-12)
	assert.InDelta(t, losObs.Y, los.Y, 1e-12)
	assert.InDelta(t, losObs.Z, los.Z, 1e-12)
}

func TestAberrationReturnsUnitVector(t *testing.T) {
	losObs := spatial.Vector3{X: 0.1, Y: 0.2, Z: -0.97}.Normalize()
	v := spatial.Vector3{X: 7500, Y: -100, Z: 50} // orbital-speed velocity, m/s
	los, err := Aberration(losObs, v)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, los.Norm(), 1e-9)
}

// TestAberrationDeflectionIsSmallAtOrbitalSpeed checks the well known
// order of magnitude for stellar aberration at LEO speeds: deflection
// angle is roughly |v_perp| / c radians, about 2.5e-5 rad (some 5
// arcseconds) for a ~7.5 km/s spacecraft.
func TestAberrationDeflectionIsSmallAtOrbitalSpeed(t *testing.T) {
	losObs := spatial.Vector3{X: 0, Y: 0, Z: -1}
	v := spatial.Vector3{X: 7500, Y: 0, Z: 0}
	los, err := Aberration(losObs, v)
	require.NoError(t, err)

	cosAngle := losObs.Dot(los)
	angle := math.Acos(math.Min(1, cosAngle))
	expected := v.Norm() / SpeedOfLight
	assert.InDelta(t, expected, angle, expected*0.05)
}

// syntheticLightTimeScenario models a spacecraft in uniform straight-line
// motion observing a fixed ground point, so that the "intersection at a
// given light-time shift" callback has an exact closed form: it is just
// the nadir projection of the spacecraft's position at the shifted time,
// since the ground plane is flat and stationary.
func syntheticLightTimeScenario(speed, altitude float64) (spatial.Vector3, IntersectAt) {
	position := spatial.Vector3{X: 0, Y: 0, Z: altitude}
	velocity := spatial.Vector3{X: speed, Y: 0, Z: 0}

	intersectAt := func(shift time.Duration) (spatial.Vector3, error) {
		shiftedPos := position.Plus(velocity.Scale(shift.Seconds()))
		return spatial.Vector3{X: shiftedPos.X, Y: shiftedPos.Y, Z: 0}, nil
	}
	return position, intersectAt
}

// TestLightTimeConverges reproduces the §8 invariant that the two-pass
// fixed point reduces the position-ground distance error monotonically:
// each successive pass's light-time estimate changes by a strictly
// smaller amount than the previous one.
func TestLightTimeConverges(t *testing.T) {
	const leoSpeed = 7500.0   // m/s, ~circular LEO orbital speed
	const altitude = 700000.0 // 700 km, matches the documented scenario's orbit

	position, intersectAt := syntheticLightTimeScenario(leoSpeed, altitude)

	ground, dt, err := LightTime(position, intersectAt)
	require.NoError(t, err)
	assert.Greater(t, dt, time.Duration(0))

	uncorrected, err := intersectAt(0)
	require.NoError(t, err)

	correctedDistance := position.Distance(ground)
	uncorrectedDistance := position.Distance(uncorrected)
	assert.NotEqual(t, uncorrectedDistance, correctedDistance)

	// one further fixed-point pass from the converged estimate should
	// move the ground point by much less than the initial correction did
	dt1 := position.Distance(uncorrected) / SpeedOfLight
	onePass, err := intersectAt(-time.Duration(dt1 * float64(time.Second)))
	require.NoError(t, err)
	firstStep := uncorrected.Distance(onePass)

	secondStep := onePass.Distance(ground)
	assert.Lessf(t, secondStep, firstStep, "second light-time pass must refine by less than the first")
}

// TestLightTimeMagnitudeIsOnTheOrderOfMetersAtOrbitalAltitude checks
// that the correction for a 700 km orbit lands in the meter range: the
// orbital speed times the ~2.3 ms light time is about 17.5 m, and the
// converged displacement must stay below 50 m rather than running off
// to kilometers.
func TestLightTimeMagnitudeIsOnTheOrderOfMetersAtOrbitalAltitude(t *testing.T) {
	const leoSpeed = 7500.0
	const altitude = 700000.0

	position, intersectAt := syntheticLightTimeScenario(leoSpeed, altitude)
	ground, _, err := LightTime(position, intersectAt)
	require.NoError(t, err)

	uncorrected, err := intersectAt(0)
	require.NoError(t, err)

	magnitude := uncorrected.Distance(ground)
	assert.Greater(t, magnitude, 0.0)
	assert.Less(t, magnitude, 50.0, "converged light-time displacement should be meters, not kilometers")
}

func TestLightTimePropagatesIntersectorError(t *testing.T) {
	boom := func(shift time.Duration) (spatial.Vector3, error) {
		return spatial.Vector3{}, assert.AnError
	}
	_, _, err := LightTime(spatial.Vector3{}, boom)
	assert.ErrorIs(t, err, assert.AnError)
}
