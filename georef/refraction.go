package georef

import (
	"errors"
	"fmt"
	"math"

	"pushbroom/spatial"
)

// RefractionEntry is one node of a tabulated atmospheric bending-angle
// model: at the given altitude above the ellipsoid, a ray is bent
// toward the local vertical by Bending radians.
type RefractionEntry struct {
	Altitude float64
	Bending  float64
}

// RefractionTable is the optional atmospheric refraction correction
// grid from §9 Open Question (c). Lookups beyond either end of the
// table clamp to the nearest entry rather than extrapolating, per the
// REDESIGN FLAG resolution recorded in DESIGN.md.
type RefractionTable struct {
	entries []RefractionEntry
}

// NewRefractionTable builds a table from entries, sorted by altitude.
func NewRefractionTable(entries []RefractionEntry) *RefractionTable {
	sorted := append([]RefractionEntry(nil), entries...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Altitude < sorted[j-1].Altitude; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &RefractionTable{entries: sorted}
}

// BendingAt linearly interpolates the bending angle at the given
// altitude, clamping at either end of the table.
func (t *RefractionTable) BendingAt(altitude float64) float64 {
	if len(t.entries) == 0 {
		return 0
	}
	if altitude <= t.entries[0].Altitude {
		return t.entries[0].Bending
	}
	last := len(t.entries) - 1
	if altitude >= t.entries[last].Altitude {
		return t.entries[last].Bending
	}
	for i := 1; i <= last; i++ {
		if altitude <= t.entries[i].Altitude {
			lo, hi := t.entries[i-1], t.entries[i]
			frac := (altitude - lo.Altitude) / (hi.Altitude - lo.Altitude)
			return lo.Bending + (hi.Bending-lo.Bending)*frac
		}
	}
	return t.entries[last].Bending
}

// refract bends los toward the local vertical at position by the
// table's bending angle at the sensor's own altitude. This is a
// single-shot correction rather than a literal per-layer ray trace
// through a stratified atmosphere: it captures the same clamped-grid
// lookup the optional model calls for (§9 Open Question (c)) without
// modeling how bending accumulates along the ray through several
// altitude bands, which is out of scope for the geometric core.
func (t *RefractionTable) refract(altitude float64, position, los spatial.Vector3) spatial.Vector3 {
	bending := t.BendingAt(altitude)
	if bending == 0 {
		return los
	}
	vertical := position.Normalize()
	axis := los.Cross(vertical)
	if axis.Norm() == 0 {
		return los
	}
	return spatial.FromAxisAngle(axis.Normalize(), -bending).Apply(los).Normalize()
}

// ErrRefractionGridStep is returned by BuildRefractionGrid when the
// configured grid step is not a positive number of lines/pixels.
var ErrRefractionGridStep = errors.New("georef: refraction grid step must be positive")

// refractionNode is one sample of the offline (pixel, line) correction
// grid: at grid coordinates (line, pixel), the amount by which a
// refraction-off inverse location of the refraction-on direct location
// misses the point it started from.
type refractionNode struct {
	dLine, dPixel float64
}

// RefractionGrid is the offline correction grid of §4.7: built once
// from a coarse sensor grid by comparing a refraction-ON direct
// location against the refraction-OFF inverse location of its own
// result, then used to drive a fixed-point correction on the inverse
// side.
type RefractionGrid struct {
	minLine, lineStep    float64
	lineCount, pixelStep int
	pixelCount           int
	nodes                [][]refractionNode // [lineIdx][pixelIdx]
}

// BuildRefractionGrid samples sensorName's swath over [minLine, maxLine]
// on a grid spaced e.cfg.RefractionGridStep lines apart and a matching
// number of pixels across the swath, and stores the resulting
// correction grid for InverseLocation to consult. It requires a
// refraction table to already be installed (SetRefractionTable) and a
// positive RefractionGridStep.
func (e *Engine) BuildRefractionGrid(sensorName string, minLine, maxLine float64) error {
	if e.refraction == nil {
		return fmt.Errorf("georef: BuildRefractionGrid: no refraction table installed")
	}
	step := e.cfg.RefractionGridStep
	if step <= 0 {
		return ErrRefractionGridStep
	}
	s, ok := e.sensors[sensorName]
	if !ok {
		return ErrUnknownSensor
	}
	delete(e.refractionGrids, sensorName) // rebuilding must start from the refraction-off baseline, not a stale grid

	lineCount := int(math.Floor((maxLine-minLine)/step)) + 1
	if lineCount < 2 {
		lineCount = 2
	}
	pixelStep := int(step)
	if pixelStep < 1 {
		pixelStep = 1
	}
	pixelCount := (s.N()-1)/pixelStep + 2
	if pixelCount > s.N() {
		pixelCount = s.N()
	}

	nodes := make([][]refractionNode, lineCount)
	for li := 0; li < lineCount; li++ {
		line := minLine + float64(li)*step
		if line > maxLine {
			line = maxLine
		}
		row := make([]refractionNode, pixelCount)
		for pi := 0; pi < pixelCount; pi++ {
			pixel := float64(pi * pixelStep)
			if pixel > float64(s.N()-1) {
				pixel = float64(s.N() - 1)
			}

			date, losSc, err := s.LOSAtLine(line, pixel)
			if err != nil {
				return fmt.Errorf("georef: BuildRefractionGrid: %w", err)
			}
			scT, err := e.frames.ScToInertial(date)
			if err != nil {
				return fmt.Errorf("georef: BuildRefractionGrid: %w", err)
			}
			position := scT.TransformPosition(s.PositionOffset)
			los := scT.TransformVector(losSc)

			gp, err := e.DirectLocationRay(date, position, los)
			if err != nil {
				row[pi] = refractionNode{}
				continue
			}
			latDeg := gp.Latitude * 180 / math.Pi
			lonDeg := gp.Longitude * 180 / math.Pi

			foundLine, foundPixel, found, err := e.InverseLocation(sensorName, latDeg, lonDeg, minLine, maxLine)
			if err != nil || !found {
				row[pi] = refractionNode{}
				continue
			}
			row[pi] = refractionNode{dLine: line - foundLine, dPixel: pixel - foundPixel}
		}
		nodes[li] = row
	}

	if e.refractionGrids == nil {
		e.refractionGrids = make(map[string]*RefractionGrid)
	}
	e.refractionGrids[sensorName] = &RefractionGrid{
		minLine:    minLine,
		lineStep:   step,
		lineCount:  lineCount,
		pixelStep:  pixelStep,
		pixelCount: pixelCount,
	}
	e.refractionGrids[sensorName].nodes = nodes
	return nil
}

// correctionAt bilinearly interpolates the (line, pixel) correction grid
// at an arbitrary (line, pixel), clamping at the grid's edges.
func (g *RefractionGrid) correctionAt(line, pixel float64) (dLine, dPixel float64) {
	fLine := (line - g.minLine) / g.lineStep
	fPixel := pixel / float64(g.pixelStep)

	fLine = math.Max(0, math.Min(float64(g.lineCount-1), fLine))
	fPixel = math.Max(0, math.Min(float64(g.pixelCount-1), fPixel))

	li0 := int(math.Floor(fLine))
	li1 := li0 + 1
	if li1 > g.lineCount-1 {
		li1 = li0
	}
	pi0 := int(math.Floor(fPixel))
	pi1 := pi0 + 1
	if pi1 > g.pixelCount-1 {
		pi1 = pi0
	}

	tl := fLine - float64(li0)
	tp := fPixel - float64(pi0)

	n00 := g.nodes[li0][pi0]
	n10 := g.nodes[li1][pi0]
	n01 := g.nodes[li0][pi1]
	n11 := g.nodes[li1][pi1]

	lerp := func(a, b, t float64) float64 { return a + (b-a)*t }
	dLine0 := lerp(n00.dLine, n10.dLine, tl)
	dLine1 := lerp(n01.dLine, n11.dLine, tl)
	dPixel0 := lerp(n00.dPixel, n10.dPixel, tl)
	dPixel1 := lerp(n01.dPixel, n11.dPixel, tl)

	return lerp(dLine0, dLine1, tp), lerp(dPixel0, dPixel1, tp)
}

// refractionFixedPointTolerance is the per-component pixel convergence
// bound from §4.7 ("until both components converge below 10^-4 pixel").
const refractionFixedPointTolerance = 1e-4

// inverseLocationRefracted runs the §4.7 fixed-point iteration
// sp_{k+1} = sp0 + correction(sp_k), starting from the refraction-off
// inverse location sp0, using grid's bilinear correction.
func inverseLocationRefracted(grid *RefractionGrid, line0, pixel0 float64) (line, pixel float64) {
	line, pixel = line0, pixel0
	for iter := 0; iter < 50; iter++ {
		dLine, dPixel := grid.correctionAt(line, pixel)
		newLine := line0 + dLine
		newPixel := pixel0 + dPixel
		converged := math.Abs(newLine-line) < refractionFixedPointTolerance && math.Abs(newPixel-pixel) < refractionFixedPointTolerance
		line, pixel = newLine, newPixel
		if converged {
			break
		}
	}
	return line, pixel
}
