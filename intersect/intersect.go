// Package intersect implements C5: the Duvenhage-style ray/DEM
// intersection, plus its flat-body and ellipsoid-only sibling
// algorithms used for testing and debugging (§4.3).
//
// Grounded on the cache-then-compute call shape of
// internal/cache/tilecache.go (a miss falls through to a factory, a hit
// returns directly) composed with pushbroom/dem's quad-tree extrema:
// the intersector descends that quad-tree top-down, pruning nodes whose
// (φ, λ) × elevation box the ray cannot cross, switching tiles at the
// cache's behest until the DEM surface is reached or the watchdog
// trips.
package intersect

import (
	"errors"
	"fmt"
	"math"

	"pushbroom/dem"
	"pushbroom/ellipsoid"
	"pushbroom/spatial"
	"pushbroom/tilecache"
)

// Algorithm selects one of the capability variants from §4.3 (modeled
// as a value set, not a type hierarchy, per §9 "Polymorphism").
type Algorithm int

const (
	// Duvenhage descends the tile's min-max quad-tree top-down: a node
	// is skipped whenever the ray segment crossing its (φ, λ) block
	// cannot reach its [eMin, eMax] elevation range, and otherwise its
	// children are visited in ray order. At a leaf cell the crossing is
	// bisected against the bilinear patch directly.
	Duvenhage Algorithm = iota
	// DuvenhageFlatBody linearizes local curvature: it iterates the
	// ray/ellipsoid intersection at successive altitude estimates taken
	// from the DEM at the current footprint, rather than descending the
	// quad-tree.
	DuvenhageFlatBody
	// IgnoreDEMUseEllipsoid returns the ray/ellipsoid intersection at
	// zero altitude, bypassing the DEM entirely.
	IgnoreDEMUseEllipsoid
	// BasicSlowExhaustive is the independent reference scan: it visits
	// every raw cell the ray's footprint touches, in tile row/column
	// order, without ever consulting the quad-tree's pruning extrema,
	// and keeps the earliest valid crossing. It exists to catch mistakes
	// the pruning itself could hide, not to be a finer-strided copy of
	// Duvenhage.
	BasicSlowExhaustive
)

func (a Algorithm) String() string {
	switch a {
	case Duvenhage:
		return "DUVENHAGE"
	case DuvenhageFlatBody:
		return "DUVENHAGE_FLAT_BODY"
	case IgnoreDEMUseEllipsoid:
		return "IGNORE_DEM_USE_ELLIPSOID"
	case BasicSlowExhaustive:
		return "BASIC_SLOW_EXHAUSTIVE"
	default:
		return "UNKNOWN_ALGORITHM"
	}
}

// ErrNoIntersection is raised when the ray never reaches the DEM
// surface (§7 NO_INTERSECTION).
var ErrNoIntersection = ellipsoid.ErrNoIntersection

// ErrIntersectionDoesNotConverge is raised when the tile-switch watchdog
// trips (§7 INTERSECTION_DOES_NOT_CONVERGE).
var ErrIntersectionDoesNotConverge = errors.New("intersect: ray/DEM intersection did not converge")

const entryAltitudeMargin = 1e-3 // metres added above/below a tile's elevation extrema for entry/exit (§4.3 step 1)

// Intersector is the Duvenhage intersector (C5), bound to one ellipsoid,
// one tile cache and one algorithm selection.
type Intersector struct {
	ell       ellipsoid.Ellipsoid
	cache     *tilecache.Cache
	algorithm Algorithm
	watchdog  uint64
}

// New builds an Intersector. watchdogThreshold bounds how many tile
// switches a single intersection call may perform before it is declared
// non-convergent (§4.2 "threshold = small constant, e.g. 1000").
func New(ell ellipsoid.Ellipsoid, cache *tilecache.Cache, algorithm Algorithm, watchdogThreshold uint64) *Intersector {
	return &Intersector{ell: ell, cache: cache, algorithm: algorithm, watchdog: watchdogThreshold}
}

func toDegrees(gp ellipsoid.GeodeticPoint) (lat, lon float64) {
	return gp.Latitude * 180 / math.Pi, gp.Longitude * 180 / math.Pi
}

// Elevation returns the DEM elevation at (latDeg, lonDeg), regardless of
// the selected ray-intersection algorithm.
func (it *Intersector) Elevation(latDeg, lonDeg float64) (float64, error) {
	tile, err := it.cache.GetTile(latDeg, lonDeg)
	if err != nil {
		return 0, err
	}
	return tile.Interpolated(latDeg, lonDeg)
}

// Intersection returns the first intersection (t >= 0) of the ray
// p + t*los with the DEM surface, per the selected Algorithm (§4.3).
func (it *Intersector) Intersection(p, los spatial.Vector3) (ellipsoid.GeodeticPoint, error) {
	los = los.Normalize()

	switch it.algorithm {
	case IgnoreDEMUseEllipsoid:
		ground, err := it.ell.PointOnGround(p, los, 0)
		if err != nil {
			return ellipsoid.GeodeticPoint{}, err
		}
		return it.ell.ToGeodetic(ground), nil
	case DuvenhageFlatBody:
		return it.flatBodyIntersection(p, los)
	default:
		return it.tileByTileIntersection(p, los, it.algorithm == BasicSlowExhaustive)
	}
}

// flatBodyIntersection fixed-point iterates the ray/ellipsoid
// intersection at the DEM elevation of its own previous footprint,
// converging quickly for terrain with gentle relief (§4.3 step 5).
func (it *Intersector) flatBodyIntersection(p, los spatial.Vector3) (ellipsoid.GeodeticPoint, error) {
	h := 0.0
	for iter := 0; iter < 8; iter++ {
		ground, err := it.ell.PointOnGround(p, los, h)
		if err != nil {
			return ellipsoid.GeodeticPoint{}, err
		}
		gp := it.ell.ToGeodetic(ground)
		lat, lon := toDegrees(gp)

		tile, err := it.cache.GetTile(lat, lon)
		if err != nil {
			return ellipsoid.GeodeticPoint{}, err
		}
		newH, err := tile.Interpolated(lat, lon)
		if err != nil {
			return gp, nil
		}
		if math.Abs(newH-h) < 1e-6 {
			return ellipsoid.GeodeticPoint{Latitude: gp.Latitude, Longitude: gp.Longitude, Altitude: newH}, nil
		}
		h = newH
	}
	ground, err := it.ell.PointOnGround(p, los, h)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, err
	}
	return it.ell.ToGeodetic(ground), nil
}

// tileByTileIntersection implements §4.3 steps 1-4: find the entry
// point at the current tile's ceiling, search the tile for a crossing
// (quad-tree descent, or the exhaustive per-cell scan), switching tiles
// at the boundary and bailing out via the cache's access-count watchdog
// if that never terminates.
func (it *Intersector) tileByTileIntersection(p, los spatial.Vector3, exhaustive bool) (ellipsoid.GeodeticPoint, error) {
	ground0, err := it.ell.PointOnGround(p, los, 0)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, err
	}
	gp0 := it.ell.ToGeodetic(ground0)
	lat0, lon0 := toDegrees(gp0)

	tile, err := it.cache.GetTile(lat0, lon0)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, err
	}

	startAccess := it.cache.AccessCount()

	for {
		if it.cache.AccessCount()-startAccess > it.watchdog {
			return ellipsoid.GeodeticPoint{}, ErrIntersectionDoesNotConverge
		}

		entry, err := it.ell.PointOnGround(p, los, tile.MaxElevation()+entryAltitudeMargin)
		if err != nil {
			return ellipsoid.GeodeticPoint{}, ErrNoIntersection
		}
		entryGP := it.ell.ToGeodetic(entry)
		entryLat, entryLon := toDegrees(entryGP)

		if tile.Classify(entryLat, entryLon) != dem.HasInterpolationNeighbours {
			next, err := it.cache.GetTile(entryLat, entryLon)
			if err != nil {
				return ellipsoid.GeodeticPoint{}, err
			}
			tile = next
			continue
		}

		var (
			gp               ellipsoid.GeodeticPoint
			found            bool
			exitLat, exitLon float64
		)
		if exhaustive {
			gp, found, exitLat, exitLon, err = it.exhaustiveWithinTile(p, los, tile, entry)
		} else {
			gp, found, exitLat, exitLon, err = it.quadTreeWithinTile(p, los, tile, entry)
		}
		if err != nil {
			return ellipsoid.GeodeticPoint{}, err
		}
		if found {
			return gp, nil
		}

		next, err := it.cache.GetTile(exitLat, exitLon)
		if err != nil {
			return ellipsoid.GeodeticPoint{}, err
		}
		tile = next
	}
}

// tileExtent computes the entry/exit parametrization shared by both the
// quad-tree descent and the exhaustive scan: the ray's t-range spanning
// the tile from its ceiling to its floor, and the row/col/altitude
// functions of t used to clip that range against cell and node boxes.
// Each function evaluates the true geodetic conversion at t; the
// clipping treats row and column as linear between the ends of the
// range being clipped, which only affects pruning. The final crossing
// is always bisected against the true ellipsoidal altitude function,
// so this never affects the returned point's accuracy, only which
// nodes get visited in which order.
func (it *Intersector) tileExtent(p, los spatial.Vector3, tile *dem.Tile, entry spatial.Vector3) (entryT, exitT, exitLat, exitLon float64, rowAt, colAt, altAt func(float64) float64, err error) {
	entryT = entry.Minus(p).Dot(los)

	exit, err := it.ell.PointOnGround(p, los, tile.MinElevation()-entryAltitudeMargin)
	if err != nil {
		return 0, 0, 0, 0, nil, nil, nil, ErrNoIntersection
	}
	exitT = exit.Minus(p).Dot(los)
	if exitT <= entryT {
		exitT = entryT + entryAltitudeMargin
	}
	exitGeo := it.ell.ToGeodetic(exit)
	exitLat, exitLon = toDegrees(exitGeo)

	altAt = func(t float64) float64 {
		return it.ell.ToGeodetic(p.Plus(los.Scale(t))).Altitude
	}
	rowAt = func(t float64) float64 {
		geo := it.ell.ToGeodetic(p.Plus(los.Scale(t)))
		lat, _ := toDegrees(geo)
		return (lat - tile.MinLatitude()) / tile.LatitudeStep()
	}
	colAt = func(t float64) float64 {
		geo := it.ell.ToGeodetic(p.Plus(los.Scale(t)))
		_, lon := toDegrees(geo)
		return (lon - tile.MinLongitude()) / tile.LongitudeStep()
	}
	return entryT, exitT, exitLat, exitLon, rowAt, colAt, altAt, nil
}

// clip1D finds the sub-range of t in [tA, tB] for which the value that
// varies linearly from valA (at tA) to valB (at tB) falls in [lo, hi].
func clip1D(tA, tB, valA, valB, lo, hi float64) (t0, t1 float64, ok bool) {
	if valA == valB {
		if valA < lo || valA > hi {
			return 0, 0, false
		}
		return tA, tB, true
	}
	s0 := tA + (lo-valA)/(valB-valA)*(tB-tA)
	s1 := tA + (hi-valA)/(valB-valA)*(tB-tA)
	if s0 > s1 {
		s0, s1 = s1, s0
	}
	t0 = math.Max(tA, s0)
	t1 = math.Min(tB, s1)
	if t0 > t1 {
		return 0, 0, false
	}
	return t0, t1, true
}

// quadTreeWithinTile descends the tile's min-max quad-tree top-down
// from its root (§4.3 step 3).
func (it *Intersector) quadTreeWithinTile(p, los spatial.Vector3, tile *dem.Tile, entry spatial.Vector3) (gp ellipsoid.GeodeticPoint, found bool, exitLat, exitLon float64, err error) {
	entryT, exitT, exitLat, exitLon, rowAt, colAt, altAt, err := it.tileExtent(p, los, tile, entry)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, false, 0, 0, err
	}

	root := tile.LevelCount() - 1
	if root < 0 {
		return ellipsoid.GeodeticPoint{}, false, 0, 0, fmt.Errorf("intersect: tile has no quad-tree")
	}

	gp, found, err = it.descend(p, los, tile, root, 0, 0, entryT, exitT, rowAt, colAt, altAt)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, false, 0, 0, err
	}
	return gp, found, exitLat, exitLon, nil
}

// descend tests one quad-tree node: the ray segment inside the node's
// (φ, λ) bounds must reach its [eMin, eMax] elevation range, or the
// whole subtree is skipped; otherwise its children are visited in ray
// order, or, at a leaf, the crossing is bisected directly.
func (it *Intersector) descend(p, los spatial.Vector3, tile *dem.Tile, level, row, col int, tA, tB float64, rowAt, colAt, altAt func(float64) float64) (ellipsoid.GeodeticPoint, bool, error) {
	minSubRow, minSubCol, subRows, subCols, eMin, eMax, ok := tile.ExtentAt(level, row, col)
	if !ok {
		return ellipsoid.GeodeticPoint{}, false, nil
	}

	t0, t1, ok := clip1D(tA, tB, rowAt(tA), rowAt(tB), float64(minSubRow), float64(minSubRow+subRows))
	if !ok {
		return ellipsoid.GeodeticPoint{}, false, nil
	}
	t0, t1, ok = clip1D(t0, t1, colAt(t0), colAt(t1), float64(minSubCol), float64(minSubCol+subCols))
	if !ok {
		return ellipsoid.GeodeticPoint{}, false, nil
	}

	altA, altB := altAt(t0), altAt(t1)
	lo, hi := altA, altB
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi < eMin || lo > eMax {
		return ellipsoid.GeodeticPoint{}, false, nil
	}

	if level == 0 {
		return it.solveLeafCell(p, los, tile, minSubRow, minSubCol, t0, t1)
	}

	rowOrder := [2]int{0, 1}
	if rowAt(t1) < rowAt(t0) {
		rowOrder = [2]int{1, 0}
	}
	colOrder := [2]int{0, 1}
	if colAt(t1) < colAt(t0) {
		colOrder = [2]int{1, 0}
	}

	for _, dr := range rowOrder {
		for _, dc := range colOrder {
			gp, found, err := it.descend(p, los, tile, level-1, row*2+dr, col*2+dc, t0, t1, rowAt, colAt, altAt)
			if err != nil {
				return ellipsoid.GeodeticPoint{}, false, err
			}
			if found {
				return gp, true, nil
			}
		}
	}
	return ellipsoid.GeodeticPoint{}, false, nil
}

// solveLeafCell bisects the crossing of f(t) = altitude(t) -
// demElevation(t) within a single raw cell (i, j), given the t-range
// over which the ray's footprint actually lies inside that cell. It
// returns found = false when the ray's altitude doesn't bracket the
// cell's bilinear surface across that range (§4.3 step 3, "at a leaf
// cell, bilinearly solve the ray/bilinear-patch equation").
func (it *Intersector) solveLeafCell(p, los spatial.Vector3, tile *dem.Tile, i, j int, tLo, tHi float64) (ellipsoid.GeodeticPoint, bool, error) {
	evalF := func(t float64) (float64, bool) {
		point := p.Plus(los.Scale(t))
		geo := it.ell.ToGeodetic(point)
		lat, lon := toDegrees(geo)
		demElev, err := tile.Interpolated(lat, lon)
		if err != nil {
			return 0, false
		}
		return geo.Altitude - demElev, true
	}
	fLo, okLo := evalF(tLo)
	fHi, okHi := evalF(tHi)
	if !okLo || !okHi || !(fLo > 0 && fHi <= 0) {
		return ellipsoid.GeodeticPoint{}, false, nil
	}
	gp, err := it.bisect(p, los, tile, tLo, tHi, fLo, fHi)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, false, err
	}
	return gp, true, nil
}

// exhaustiveWithinTile is the independent reference scan behind
// BasicSlowExhaustive: it enumerates every raw cell the ray's footprint
// touches, directly from the tile's row/column grid, and never reads
// the quad-tree's pyramid at all. It keeps the earliest valid crossing
// it finds, so it can catch a crossing the pruning search (Duvenhage)
// might miss through a logic error in the pyramid walk.
func (it *Intersector) exhaustiveWithinTile(p, los spatial.Vector3, tile *dem.Tile, entry spatial.Vector3) (gp ellipsoid.GeodeticPoint, found bool, exitLat, exitLon float64, err error) {
	entryT, exitT, exitLat, exitLon, rowAt, colAt, _, err := it.tileExtent(p, los, tile, entry)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, false, 0, 0, err
	}

	cellRows := tile.Rows() - 1
	cellCols := tile.Cols() - 1

	t0, t1, ok := clip1D(entryT, exitT, rowAt(entryT), rowAt(exitT), 0, float64(cellRows))
	if ok {
		t0, t1, ok = clip1D(t0, t1, colAt(t0), colAt(t1), 0, float64(cellCols))
	}
	if !ok {
		return ellipsoid.GeodeticPoint{}, false, exitLat, exitLon, nil
	}

	rowLo, rowHi := rowAt(t0), rowAt(t1)
	if rowLo > rowHi {
		rowLo, rowHi = rowHi, rowLo
	}
	colLo, colHi := colAt(t0), colAt(t1)
	if colLo > colHi {
		colLo, colHi = colHi, colLo
	}

	iLo := clampInt(int(math.Floor(rowLo)), 0, cellRows-1)
	iHi := clampInt(int(math.Ceil(rowHi)), 0, cellRows-1)
	jLo := clampInt(int(math.Floor(colLo)), 0, cellCols-1)
	jHi := clampInt(int(math.Ceil(colHi)), 0, cellCols-1)

	bestT := math.Inf(1)
	for i := iLo; i <= iHi; i++ {
		for j := jLo; j <= jHi; j++ {
			cLo, cHi, ok := clip1D(t0, t1, rowAt(t0), rowAt(t1), float64(i), float64(i+1))
			if !ok {
				continue
			}
			cLo, cHi, ok = clip1D(cLo, cHi, colAt(cLo), colAt(cHi), float64(j), float64(j+1))
			if !ok {
				continue
			}
			candidate, ok, err := it.solveLeafCell(p, los, tile, i, j, cLo, cHi)
			if err != nil {
				return ellipsoid.GeodeticPoint{}, false, 0, 0, err
			}
			if !ok {
				continue
			}
			ct := it.ell.ToCartesian(candidate).Minus(p).Dot(los)
			if ct < bestT {
				bestT, gp, found = ct, candidate, true
			}
		}
	}
	return gp, found, exitLat, exitLon, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bisect refines the crossing of f(t) = altitude(t) - demElevation(t)
// bracketed by [tLo, tHi] with fLo > 0 >= fHi, assuming f is monotone
// across the bracket (true for any single cell, on terrain without
// vertical overhangs).
func (it *Intersector) bisect(p, los spatial.Vector3, tile *dem.Tile, tLo, tHi, fLo, fHi float64) (ellipsoid.GeodeticPoint, error) {
	for i := 0; i < 40; i++ {
		tMid := (tLo + tHi) / 2
		point := p.Plus(los.Scale(tMid))
		geo := it.ell.ToGeodetic(point)
		lat, lon := toDegrees(geo)

		demElev, err := tile.Interpolated(lat, lon)
		if err != nil {
			tHi = tMid
			continue
		}
		f := geo.Altitude - demElev
		if f > 0 {
			tLo, fLo = tMid, f
		} else {
			tHi, fHi = tMid, f
		}
	}
	tMid := (tLo + tHi) / 2
	point := p.Plus(los.Scale(tMid))
	return it.ell.ToGeodetic(point), nil
}

// RefineIntersection bilinearly refines a rough ground-point guess
// within its containing cell (§4.3 "refineIntersection").
func (it *Intersector) RefineIntersection(p, los spatial.Vector3, guess ellipsoid.GeodeticPoint) (ellipsoid.GeodeticPoint, error) {
	los = los.Normalize()
	guessCart := it.ell.ToCartesian(guess)
	t0 := guessCart.Minus(p).Dot(los)
	lat, lon := toDegrees(guess)

	tile, err := it.cache.GetTile(lat, lon)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, err
	}

	degStep := math.Min(tile.LatitudeStep(), tile.LongitudeStep())
	half := degStep * math.Pi / 180 * it.ell.A
	tLo, tHi := t0-half, t0+half

	evalF := func(t float64) (float64, bool) {
		point := p.Plus(los.Scale(t))
		geo := it.ell.ToGeodetic(point)
		la, lo := toDegrees(geo)
		demElev, err := tile.Interpolated(la, lo)
		if err != nil {
			return 0, false
		}
		return geo.Altitude - demElev, true
	}

	fLo, okLo := evalF(tLo)
	fHi, okHi := evalF(tHi)
	if !okLo || !okHi {
		demElev, err := tile.Interpolated(lat, lon)
		if err != nil {
			return ellipsoid.GeodeticPoint{}, err
		}
		return ellipsoid.GeodeticPoint{Latitude: guess.Latitude, Longitude: guess.Longitude, Altitude: demElev}, nil
	}

	if fLo < fHi {
		tLo, tHi = tHi, tLo
		fLo, fHi = fHi, fLo
	}
	if !(fLo > 0 && fHi <= 0) {
		demElev, err := tile.Interpolated(lat, lon)
		if err != nil {
			return ellipsoid.GeodeticPoint{}, err
		}
		return ellipsoid.GeodeticPoint{Latitude: guess.Latitude, Longitude: guess.Longitude, Altitude: demElev}, nil
	}

	return it.bisect(p, los, tile, tLo, tHi, fLo, fHi)
}
