package intersect

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushbroom/dem"
	"pushbroom/ellipsoid"
	"pushbroom/spatial"
	"pushbroom/tilecache"
)

const metresPerDegree = 111320.0

// coneUpdater builds a tile shaped like a volcanic cone: a summit at
// (summitLat, summitLon) sloping down at slopeDeg to a flat baseElev,
// the §8 scenario-1 terrain shape (see dem/tile_test.go's
// TestVolcanicConeMinMaxTree). With the summit and slope used here the
// cone's radius is about 4.2 km (some 0.038 degrees), so only rays aimed
// within that distance of the summit cross sloped relief; the rest of
// the tile is the flat base plain.
func coneUpdater(summitLat, summitLon, summitElev, baseElev, slopeDeg float64, rows, cols int, step float64) tilecache.UpdaterFunc {
	return func(lat, lon float64, tile *dem.Tile) error {
		center := rows / 2
		if err := tile.SetGeometry(summitLat-float64(center)*step, summitLon-float64(cols/2)*step, step, step, rows, cols); err != nil {
			return err
		}
		tanSlope := math.Tan(slopeDeg * math.Pi / 180)
		cosSummitLat := math.Cos(summitLat * math.Pi / 180)
		for i := 0; i < rows; i++ {
			nodeLat, _ := tile.NodeLatLon(i, 0)
			dy := (nodeLat - summitLat) * metresPerDegree
			for j := 0; j < cols; j++ {
				_, nodeLon := tile.NodeLatLon(i, j)
				dx := (nodeLon - summitLon) * metresPerDegree * cosSummitLat
				dist := math.Hypot(dx, dy)
				elev := math.Max(baseElev, summitElev-dist*tanSlope)
				if err := tile.SetElevation(i, j, elev); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// randomTerrainUpdater builds a tile of independent random elevations,
// the §8 scenario-2 "random landscape" shape (see dem/tile_test.go's
// TestQuadTreeNeverUnderOrOverEstimates, same seed).
func randomTerrainUpdater(seed uint64, rows, cols int, step, minElev, maxElev float64) tilecache.UpdaterFunc {
	return func(lat, lon float64, tile *dem.Tile) error {
		if err := tile.SetGeometry(-float64(rows/2)*step, -float64(cols/2)*step, step, step, rows, cols); err != nil {
			return err
		}
		rnd := rand.New(rand.NewSource(int64(seed)))
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				elev := minElev + rnd.Float64()*(maxElev-minElev)
				if err := tile.SetElevation(i, j, elev); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// groundDistance approximates the great-circle-ish distance in metres
// between two nearby geodetic points, treating latitude/longitude
// degrees as locally flat, which is adequate at the sub-kilometre scale
// these tests operate at.
func groundDistance(a, b ellipsoid.GeodeticPoint) float64 {
	latA, lonA := a.Latitude*180/math.Pi, a.Longitude*180/math.Pi
	latB, lonB := b.Latitude*180/math.Pi, b.Longitude*180/math.Pi
	dy := (latA - latB) * metresPerDegree
	dx := (lonA - lonB) * metresPerDegree * math.Cos(latA*math.Pi/180)
	return math.Hypot(dx, dy)
}

// flatPatchUpdater always returns the same small flat-elevation patch
// around the equator/prime-meridian intersection, regardless of the
// queried point, so a nadir-looking ray from directly above always
// lands inside it.
func flatPatchUpdater(elevation float64) tilecache.UpdaterFunc {
	return func(lat, lon float64, tile *dem.Tile) error {
		const half = 21
		const step = 0.1
		if err := tile.SetGeometry(-half*step, -half*step, step, step, 2*half+1, 2*half+1); err != nil {
			return err
		}
		for i := 0; i < 2*half+1; i++ {
			for j := 0; j < 2*half+1; j++ {
				if err := tile.SetElevation(i, j, elevation); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

func nadirRay(altitude float64) (spatial.Vector3, spatial.Vector3) {
	p := spatial.Vector3{X: ellipsoid.WGS84.A + altitude, Y: 0, Z: 0}
	los := spatial.Vector3{X: -1, Y: 0, Z: 0}
	return p, los
}

func TestDuvenhageIntersectionFindsFlatPatch(t *testing.T) {
	cache, err := tilecache.New(4, flatPatchUpdater(100))
	require.NoError(t, err)
	it := New(ellipsoid.WGS84, cache, Duvenhage, 1000)

	p, los := nadirRay(700000)
	gp, err := it.Intersection(p, los)
	require.NoError(t, err)

	assert.InDelta(t, 100, gp.Altitude, 1e-3)
	assert.InDelta(t, 0, gp.Latitude, 1e-6)
	assert.InDelta(t, 0, gp.Longitude, 1e-6)
}

func TestExhaustiveAlgorithmAgreesWithDuvenhage(t *testing.T) {
	cache1, err := tilecache.New(4, flatPatchUpdater(250))
	require.NoError(t, err)
	fast := New(ellipsoid.WGS84, cache1, Duvenhage, 1000)

	cache2, err := tilecache.New(4, flatPatchUpdater(250))
	require.NoError(t, err)
	slow := New(ellipsoid.WGS84, cache2, BasicSlowExhaustive, 1000)

	p, los := nadirRay(700000)
	gpFast, err := fast.Intersection(p, los)
	require.NoError(t, err)
	gpSlow, err := slow.Intersection(p, los)
	require.NoError(t, err)

	assert.InDelta(t, gpSlow.Altitude, gpFast.Altitude, 0.5)
	assert.InDelta(t, gpSlow.Latitude, gpFast.Latitude, 1e-7)
	assert.InDelta(t, gpSlow.Longitude, gpFast.Longitude, 1e-7)
}

func TestIgnoreDEMIgnoresElevation(t *testing.T) {
	cache, err := tilecache.New(4, flatPatchUpdater(5000))
	require.NoError(t, err)
	it := New(ellipsoid.WGS84, cache, IgnoreDEMUseEllipsoid, 1000)

	p, los := nadirRay(700000)
	gp, err := it.Intersection(p, los)
	require.NoError(t, err)
	assert.InDelta(t, 0, gp.Altitude, 1e-6)
}

func TestFlatBodyConvergesNearDuvenhage(t *testing.T) {
	cache1, err := tilecache.New(4, flatPatchUpdater(80))
	require.NoError(t, err)
	duv := New(ellipsoid.WGS84, cache1, Duvenhage, 1000)

	cache2, err := tilecache.New(4, flatPatchUpdater(80))
	require.NoError(t, err)
	flat := New(ellipsoid.WGS84, cache2, DuvenhageFlatBody, 1000)

	p, los := nadirRay(700000)
	gpDuv, err := duv.Intersection(p, los)
	require.NoError(t, err)
	gpFlat, err := flat.Intersection(p, los)
	require.NoError(t, err)

	assert.InDelta(t, gpDuv.Altitude, gpFlat.Altitude, 1.0)
}

func TestRayMissingTheEllipsoidReturnsNoIntersection(t *testing.T) {
	cache, err := tilecache.New(4, flatPatchUpdater(0))
	require.NoError(t, err)
	it := New(ellipsoid.WGS84, cache, Duvenhage, 1000)

	p := spatial.Vector3{X: ellipsoid.WGS84.A + 700000, Y: 0, Z: 0}
	los := spatial.Vector3{X: 1, Y: 0, Z: 0} // pointing away from the body
	_, err = it.Intersection(p, los)
	assert.ErrorIs(t, err, ErrNoIntersection)
}

// alwaysWrongTileUpdater builds a geometrically valid tile that never
// contains the coordinates the marching walk actually visits near the
// equator/prime-meridian, forcing endless tile-switch attempts.
func alwaysWrongTileUpdater() tilecache.UpdaterFunc {
	return func(lat, lon float64, tile *dem.Tile) error {
		if err := tile.SetGeometry(10, 10, 1, 1, 3, 3); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				if err := tile.SetElevation(i, j, 0); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

func TestWatchdogTripsOnPersistentTileMismatch(t *testing.T) {
	cache, err := tilecache.New(4, alwaysWrongTileUpdater())
	require.NoError(t, err)
	it := New(ellipsoid.WGS84, cache, Duvenhage, 5)

	p, los := nadirRay(700000)
	_, err = it.Intersection(p, los)
	assert.ErrorIs(t, err, ErrIntersectionDoesNotConverge)
}

func TestElevationQueriesDEMDirectly(t *testing.T) {
	cache, err := tilecache.New(4, flatPatchUpdater(42))
	require.NoError(t, err)
	it := New(ellipsoid.WGS84, cache, Duvenhage, 1000)

	h, err := it.Elevation(0.05, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 42, h, 1e-6)
}

func TestRefineIntersectionStaysCloseToGuess(t *testing.T) {
	cache, err := tilecache.New(4, flatPatchUpdater(60))
	require.NoError(t, err)
	it := New(ellipsoid.WGS84, cache, Duvenhage, 1000)

	p, los := nadirRay(700000)
	gp, err := it.Intersection(p, los)
	require.NoError(t, err)

	refined, err := it.RefineIntersection(p, los, gp)
	require.NoError(t, err)
	assert.InDelta(t, gp.Altitude, refined.Altitude, 1e-2)
	assert.InDelta(t, gp.Latitude, refined.Latitude, 1e-9)
	assert.InDelta(t, gp.Longitude, refined.Longitude, 1e-9)
}

// rayAt builds a near-nadir ray looking down at (latDeg, lonDeg) from
// altitude metres above the ellipsoid, so a cast from it lands inside a
// tile centered on that point.
func rayAt(latDeg, lonDeg, altitude float64) (spatial.Vector3, spatial.Vector3) {
	surface := ellipsoid.WGS84.ToCartesian(ellipsoid.GeodeticPoint{
		Latitude:  latDeg * math.Pi / 180,
		Longitude: lonDeg * math.Pi / 180,
	})
	p := surface.Scale((ellipsoid.WGS84.A + altitude) / surface.Norm())
	los := surface.Scale(-1).Normalize()
	return p, los
}

// TestDuvenhageIntersectsVolcanicConeFlank exercises the quad-tree
// descent over the §8 scenario-1 terrain shape, offset from the summit
// so the ray crosses sloped relief rather than landing on a single
// node, and checks the result against the exhaustive per-cell scan.
func TestDuvenhageIntersectsVolcanicConeFlank(t *testing.T) {
	const summitLat, summitLon = 13.25667, 123.685
	const summitElev, baseElev, slopeDeg = 2463.0, 16.0, 30.0
	const rows, cols, step = 257, 257, 0.001

	// about 2.5 km from the summit, on the flank at roughly 1030 m
	targetLat := summitLat + 0.02
	targetLon := summitLon + 0.01

	cache1, err := tilecache.New(4, coneUpdater(summitLat, summitLon, summitElev, baseElev, slopeDeg, rows, cols, step))
	require.NoError(t, err)
	duv := New(ellipsoid.WGS84, cache1, Duvenhage, 1000)

	cache2, err := tilecache.New(4, coneUpdater(summitLat, summitLon, summitElev, baseElev, slopeDeg, rows, cols, step))
	require.NoError(t, err)
	exhaustive := New(ellipsoid.WGS84, cache2, BasicSlowExhaustive, 1000)

	p, los := rayAt(targetLat, targetLon, 700000)

	gpDuv, err := duv.Intersection(p, los)
	require.NoError(t, err)
	gpExhaustive, err := exhaustive.Intersection(p, los)
	require.NoError(t, err)

	assert.Greater(t, gpDuv.Altitude, baseElev-1e-6)
	assert.Less(t, gpDuv.Altitude, summitElev+1e-6)
	assert.Less(t, groundDistance(gpDuv, gpExhaustive), 5.1e-4)
}

// TestDuvenhageAgreesWithExhaustiveOverRandomTerrain reproduces the §8
// scenario-2 cross-check: on a genuinely independent random-landscape
// tile, the quad-tree descent and the brute-force per-cell scan must
// agree to within a small ground distance across many rays, not merely
// against a finer-strided copy of the same marching walk.
func TestDuvenhageAgreesWithExhaustiveOverRandomTerrain(t *testing.T) {
	const rows, cols, step = 65, 65, 0.002
	const seed = 0xe12ef744f224cf43

	cache1, err := tilecache.New(4, randomTerrainUpdater(seed, rows, cols, step, 0, 800))
	require.NoError(t, err)
	duv := New(ellipsoid.WGS84, cache1, Duvenhage, 1000)

	cache2, err := tilecache.New(4, randomTerrainUpdater(seed, rows, cols, step, 0, 800))
	require.NoError(t, err)
	exhaustive := New(ellipsoid.WGS84, cache2, BasicSlowExhaustive, 1000)

	rnd := rand.New(rand.NewSource(seed))
	var distances []float64
	for i := 0; i < 40; i++ {
		latDeg := (rnd.Float64() - 0.5) * float64(rows) * step * 0.6
		lonDeg := (rnd.Float64() - 0.5) * float64(cols) * step * 0.6

		p, los := rayAt(latDeg, lonDeg, 700000)
		gpDuv, err := duv.Intersection(p, los)
		require.NoError(t, err)
		gpExhaustive, err := exhaustive.Intersection(p, los)
		require.NoError(t, err)

		distances = append(distances, groundDistance(gpDuv, gpExhaustive))
	}

	sort.Float64s(distances)
	p99 := distances[int(math.Ceil(float64(len(distances))*0.99))-1]
	assert.LessOrEqual(t, p99, 5.1e-4)
}
