package georef

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushbroom/dem"
	"pushbroom/ellipsoid"
	"pushbroom/engineconfig"
	"pushbroom/frames"
	"pushbroom/intersect"
	"pushbroom/sensor"
	"pushbroom/spatial"
	"pushbroom/tilecache"
)

// buildTestEngine assembles a minimal but internally consistent scene:
// a non-rotating spacecraft/body frame pair (so ScToInertial/
// InertialToBody reduce to pure translation), a spacecraft moving along
// +Y at constant altitude, a nadir-fanned pushbroom sensor, and the
// ellipsoid-only intersection algorithm (no DEM geometry needed).
func buildTestEngine(t *testing.T, n int) (*Engine, string) {
	t.Helper()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	const altitude = 700000.0
	const speed = 7500.0

	var pv []frames.PVSample
	for i := 0; i <= 40; i++ {
		dt := float64(i)
		pv = append(pv, frames.PVSample{
			Date:     base.Add(time.Duration(dt * float64(time.Second))),
			Position: spatial.Vector3{X: 0, Y: speed * dt, Z: ellipsoid.WGS84.A + altitude},
			Velocity: spatial.Vector3{X: 0, Y: speed, Z: 0},
		})
	}
	identity := []frames.AttitudeSample{
		{Date: base, Rotation: spatial.Identity, Spin: spatial.Vector3{}},
		{Date: base.Add(40 * time.Second), Rotation: spatial.Identity, Spin: spatial.Vector3{}},
	}

	provider, err := frames.NewProvider(pv, identity, identity, frames.DefaultConfig())
	require.NoError(t, err)

	datation, err := sensor.NewLinearDatation(base, 0, 100) // 100 lines/second
	require.NoError(t, err)

	const halfFOV = 0.05 // radians, narrow swath
	builder := sensor.NewBuilder(n, func(pixel int) spatial.Vector3 {
		frac := float64(pixel)/float64(n-1)*2 - 1
		angle := frac * halfFOV
		return spatial.Vector3{X: math.Sin(angle), Y: 0, Z: -math.Cos(angle)}
	})
	los := builder.Build()

	s := sensor.NewSensor("nadir", spatial.Vector3{}, datation, los)

	cache, err := tilecache.New(4, tilecache.UpdaterFunc(func(lat, lon float64, tile *dem.Tile) error {
		return tile.SetGeometry(-0.05, -0.05, 0.01, 0.01, 11, 11)
	}))
	require.NoError(t, err)

	it := intersect.New(ellipsoid.WGS84, cache, intersect.IgnoreDEMUseEllipsoid, 1000)

	cfg := engineconfig.DefaultConfig()
	cfg.LightTimeCorrection = false
	cfg.AberrationCorrection = false

	e, err := NewEngine(ellipsoid.WGS84, it, provider, map[string]sensor.Sensor{"nadir": s}, cfg)
	require.NoError(t, err)

	return e, "nadir"
}

func TestDirectLocationLineReturnsOnePointPerPixel(t *testing.T) {
	e, name := buildTestEngine(t, 21)

	results, err := e.DirectLocationLine(name, 500)
	require.NoError(t, err)
	require.Len(t, results, 21)

	for _, gp := range results {
		assert.InDelta(t, 0, gp.Altitude, 1e-3)
	}
}

func TestDirectLocationLineUnknownSensor(t *testing.T) {
	e, _ := buildTestEngine(t, 21)
	_, err := e.DirectLocationLine("missing", 0)
	assert.ErrorIs(t, err, ErrUnknownSensor)
}

func TestDirectLocationRayMatchesLinePixel(t *testing.T) {
	e, name := buildTestEngine(t, 21)

	s, err := e.Sensor(name)
	require.NoError(t, err)

	const line = 300.0
	const pixel = 7.0
	date, losSc, err := s.LOSAtLine(line, pixel)
	require.NoError(t, err)

	scT, err := e.ScToInertial(date)
	require.NoError(t, err)
	position := scT.TransformPosition(s.PositionOffset)
	los := scT.TransformVector(losSc)

	direct, err := e.DirectLocationRay(date, position, los)
	require.NoError(t, err)

	line21, err := e.DirectLocationLine(name, line)
	require.NoError(t, err)
	assert.InDelta(t, direct.Latitude, line21[7].Latitude, 1e-12)
	assert.InDelta(t, direct.Longitude, line21[7].Longitude, 1e-12)
}

// TestInverseLocationRoundTripsWithDirectLocation reproduces the §8
// invariant inverseLocation(directLocation(line, pixel)) == (line,
// pixel), with both corrections disabled so the geometry is exact.
func TestInverseLocationRoundTripsWithDirectLocation(t *testing.T) {
	e, name := buildTestEngine(t, 401)

	const line = 1234.0
	const pixel = 180.0

	s, err := e.Sensor(name)
	require.NoError(t, err)
	date, losSc, err := s.LOSAtLine(line, pixel)
	require.NoError(t, err)
	scT, err := e.ScToInertial(date)
	require.NoError(t, err)
	position := scT.TransformPosition(s.PositionOffset)
	los := scT.TransformVector(losSc)

	gp, err := e.DirectLocationRay(date, position, los)
	require.NoError(t, err)

	latDeg := gp.Latitude * 180 / math.Pi
	lonDeg := gp.Longitude * 180 / math.Pi

	foundLine, foundPixel, found, err := e.InverseLocation(name, latDeg, lonDeg, 0, 3900)
	require.NoError(t, err)
	require.True(t, found)

	assert.InDelta(t, line, foundLine, 1e-5)
	assert.InDelta(t, pixel, foundPixel, 3e-7)
}

func TestDateLocationMatchesLineDatation(t *testing.T) {
	e, name := buildTestEngine(t, 401)

	const line = 800.0
	const pixel = 200.0

	s, err := e.Sensor(name)
	require.NoError(t, err)
	date, losSc, err := s.LOSAtLine(line, pixel)
	require.NoError(t, err)
	scT, err := e.ScToInertial(date)
	require.NoError(t, err)
	position := scT.TransformPosition(s.PositionOffset)
	los := scT.TransformVector(losSc)

	gp, err := e.DirectLocationRay(date, position, los)
	require.NoError(t, err)

	latDeg := gp.Latitude * 180 / math.Pi
	lonDeg := gp.Longitude * 180 / math.Pi

	foundDate, found, err := e.DateLocation(name, latDeg, lonDeg, 0, 3900)
	require.NoError(t, err)
	require.True(t, found)
	assert.WithinDuration(t, date, foundDate, 50*time.Millisecond)
}

func TestInverseLocationReturnsNotFoundOutsideRange(t *testing.T) {
	e, name := buildTestEngine(t, 21)

	// a point far from the spacecraft's ground track, well outside any
	// line in [0, 100]
	_, _, found, err := e.InverseLocation(name, 80, 80, 0, 100)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInverseLocationUnknownSensor(t *testing.T) {
	e, _ := buildTestEngine(t, 21)
	_, _, _, err := e.InverseLocation("missing", 0, 0, 0, 100)
	assert.ErrorIs(t, err, ErrUnknownSensor)
}
