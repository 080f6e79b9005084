// Package georef implements C10: the public georeferencing facade that
// composes the ellipsoid, DEM/cache, intersector, transform provider,
// sensor and correction packages into direct/inverse location.
//
// Grounded on app.go's top-level method-on-App orchestration shape (one
// struct holding every collaborator, public methods as the external
// surface), trimmed of every GUI/network concern.
package georef

import (
	"errors"
	"fmt"
	"math"
	"time"

	"pushbroom/corrections"
	"pushbroom/crossing"
	"pushbroom/ellipsoid"
	"pushbroom/engineconfig"
	"pushbroom/frames"
	"pushbroom/intersect"
	"pushbroom/sensor"
	"pushbroom/spatial"
	"pushbroom/trace"
)

// Engine is the georeferencing facade (§6). One instance owns one
// ellipsoid, one intersector (and therefore one tile cache), one
// transform provider and a fixed set of named sensors; it is not safe
// for concurrent use by multiple goroutines (§5, matching the
// intersector and transform provider's own single-owner contracts).
type Engine struct {
	ell         ellipsoid.Ellipsoid
	intersector *intersect.Intersector
	frames      *frames.Provider
	sensors     map[string]sensor.Sensor
	meanPlanes  map[string]spatial.Vector3
	cfg         engineconfig.Config
	sink        trace.Sink
	refraction  *RefractionTable
	refractionGrids map[string]*RefractionGrid
}

// NewEngine assembles an Engine from its collaborators, precomputing
// each sensor's mean-plane normal (§4.7) up front so inverse/date
// location calls don't refit it on every query.
func NewEngine(ell ellipsoid.Ellipsoid, intersector *intersect.Intersector, transforms *frames.Provider, sensors map[string]sensor.Sensor, cfg engineconfig.Config) (*Engine, error) {
	meanPlanes := make(map[string]spatial.Vector3, len(sensors))
	sensorsCopy := make(map[string]sensor.Sensor, len(sensors))
	for name, s := range sensors {
		normal, err := computeMeanPlaneNormal(s)
		if err != nil {
			return nil, fmt.Errorf("georef: sensor %q: %w", name, err)
		}
		meanPlanes[name] = normal
		sensorsCopy[name] = s
	}

	return &Engine{
		ell:         ell,
		intersector: intersector,
		frames:      transforms,
		sensors:     sensorsCopy,
		meanPlanes:  meanPlanes,
		cfg:         cfg,
		sink:        trace.NopSink{},
	}, nil
}

// SetTraceSink installs a dump-trace sink (§6); pass trace.NopSink{} to
// disable tracing again.
func (e *Engine) SetTraceSink(sink trace.Sink) {
	if sink == nil {
		sink = trace.NopSink{}
	}
	e.sink = sink
}

// SetRefractionTable installs the optional atmospheric refraction
// bending-angle table (§4.7, §9 Open Question (c)); pass nil to disable
// it. Direct location consults the table directly; inverse location
// only applies a correction once BuildRefractionGrid has been called
// for the sensor in question, since that grid is what ties the two
// directions together as a fixed point.
func (e *Engine) SetRefractionTable(table *RefractionTable) {
	e.refraction = table
	e.refractionGrids = nil
}

func computeMeanPlaneNormal(s sensor.Sensor) (spatial.Vector3, error) {
	n := s.N()
	if n < 3 {
		return spatial.Vector3{}, fmt.Errorf("need at least 3 pixels to fit a mean plane, got %d", n)
	}
	sampleCount := n
	if sampleCount > 64 {
		sampleCount = 64
	}
	step := (n + sampleCount - 1) / sampleCount
	if step < 1 {
		step = 1
	}

	var los []spatial.Vector3
	for i := 0; i < n; i += step {
		_, v, err := s.LOSAtLine(0, float64(i))
		if err != nil {
			return spatial.Vector3{}, err
		}
		los = append(los, v)
	}
	return crossing.MeanPlaneNormal(los)
}

// Sensor returns the named sensor, for callers that need its raw
// datation or LOS provider outside the facade's own operations.
func (e *Engine) Sensor(name string) (sensor.Sensor, error) {
	s, ok := e.sensors[name]
	if !ok {
		return sensor.Sensor{}, ErrUnknownSensor
	}
	return s, nil
}

// ScToInertial passes through the transform provider (§6).
func (e *Engine) ScToInertial(date time.Time) (spatial.Transform, error) {
	return e.frames.ScToInertial(date)
}

// InertialToBody passes through the transform provider (§6).
func (e *Engine) InertialToBody(date time.Time) (spatial.Transform, error) {
	return e.frames.InertialToBody(date)
}

// BodyToInertial passes through the transform provider (§6).
func (e *Engine) BodyToInertial(date time.Time) (spatial.Transform, error) {
	return e.frames.BodyToInertial(date)
}

// DirectLocationLine computes the ground point seen by every pixel of
// the named sensor at the given (possibly fractional) line number,
// aborting and returning the results computed so far as soon as one
// pixel fails (§7 "directLocation over a line aborts on first failing
// pixel").
func (e *Engine) DirectLocationLine(sensorName string, line float64) ([]ellipsoid.GeodeticPoint, error) {
	s, ok := e.sensors[sensorName]
	if !ok {
		return nil, ErrUnknownSensor
	}

	n := s.N()
	results := make([]ellipsoid.GeodeticPoint, 0, n)
	for pixel := 0; pixel < n; pixel++ {
		gp, err := e.directLocationPixel(s, line, float64(pixel))
		if err != nil {
			return results, fmt.Errorf("georef: line %g pixel %d: %w", line, pixel, err)
		}
		results = append(results, gp)
	}
	return results, nil
}

func (e *Engine) directLocationPixel(s sensor.Sensor, line, pixel float64) (ellipsoid.GeodeticPoint, error) {
	date, losSc, err := s.LOSAtLine(line, pixel)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, err
	}

	scT, err := e.frames.ScToInertial(date)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, err
	}
	position := scT.TransformPosition(s.PositionOffset)
	los := scT.TransformVector(losSc).Normalize()

	return e.DirectLocationRay(date, position, los)
}

// DirectLocationRay computes the ground point for a single ray, given
// explicitly in inertial-frame coordinates: a sensor position and unit
// line of sight at the given date (§6 "directLocation(date,
// sensorPosition, los)"). It is the entry point DirectLocationLine uses
// internally, and is exported for callers with their own ray geometry
// (e.g. calibration tools).
func (e *Engine) DirectLocationRay(date time.Time, position, los spatial.Vector3) (ellipsoid.GeodeticPoint, error) {
	e.sink.DirectLocation(date, position, los, e.cfg.LightTimeCorrection, e.cfg.AberrationCorrection, e.refraction != nil)

	gp, err := e.directLocationRay(date, position, los)
	if err != nil {
		return ellipsoid.GeodeticPoint{}, err
	}
	e.sink.Result(gp)
	return gp, nil
}

func (e *Engine) directLocationRay(date time.Time, position, los spatial.Vector3) (ellipsoid.GeodeticPoint, error) {
	losUsed := los.Normalize()

	if e.cfg.AberrationCorrection {
		_, velocity, err := e.frames.PositionVelocity(date)
		if err != nil {
			return ellipsoid.GeodeticPoint{}, err
		}
		corrected, err := corrections.Aberration(losUsed, velocity)
		if err != nil {
			return ellipsoid.GeodeticPoint{}, err
		}
		losUsed = corrected
	}

	if e.refraction != nil {
		altitude := e.ell.AltitudeAt(position)
		losUsed = e.refraction.refract(altitude, position, losUsed)
	}

	var lastGP ellipsoid.GeodeticPoint
	intersectAt := func(shift time.Duration) (spatial.Vector3, error) {
		bodyT, err := e.frames.InertialToBody(date.Add(shift))
		if err != nil {
			return spatial.Vector3{}, err
		}
		posBody := bodyT.TransformPosition(position)
		losBody := bodyT.TransformVector(losUsed).Normalize()

		gp, err := e.intersector.Intersection(posBody, losBody)
		if err != nil {
			return spatial.Vector3{}, err
		}
		lastGP = gp

		groundBody := e.ell.ToCartesian(gp)
		return bodyT.Inverse().TransformPosition(groundBody), nil
	}

	if e.cfg.LightTimeCorrection {
		if _, _, err := corrections.LightTime(position, intersectAt); err != nil {
			return ellipsoid.GeodeticPoint{}, err
		}
	} else if _, err := intersectAt(0); err != nil {
		return ellipsoid.GeodeticPoint{}, err
	}

	return lastGP, nil
}

// planeFuncFor builds the mean-plane crossing callback for one sensor
// and one fixed body-frame target point (§4.7).
func (e *Engine) planeFuncFor(s sensor.Sensor, target spatial.Vector3) crossing.PlaneFunc {
	return func(line float64) (time.Time, spatial.Vector3, error) {
		date := s.Datation.Date(line)

		scT, err := e.frames.ScToInertial(date)
		if err != nil {
			return time.Time{}, spatial.Vector3{}, err
		}
		bodyT, err := e.frames.InertialToBody(date)
		if err != nil {
			return time.Time{}, spatial.Vector3{}, err
		}

		targetInertial := bodyT.Inverse().TransformPosition(target)
		targetSC := scT.Inverse().TransformPosition(targetInertial)
		direction := targetSC.Minus(s.PositionOffset)
		if direction.Norm() == 0 {
			return date, spatial.Vector3{}, errors.New("georef: target coincides with sensor position")
		}
		return date, direction.Normalize(), nil
	}
}

func (e *Engine) targetPoint(latDeg, lonDeg float64) spatial.Vector3 {
	altitude, err := e.intersector.Elevation(latDeg, lonDeg)
	if err != nil {
		altitude = 0
	}
	return e.ell.ToCartesian(ellipsoid.GeodeticPoint{
		Latitude:  latDeg * math.Pi / 180,
		Longitude: lonDeg * math.Pi / 180,
		Altitude:  altitude,
	})
}

func (e *Engine) findCrossing(sensorName string, latDeg, lonDeg, minLine, maxLine float64) (sensor.Sensor, *crossing.CrossingResult, error) {
	s, ok := e.sensors[sensorName]
	if !ok {
		return sensor.Sensor{}, nil, ErrUnknownSensor
	}
	normal := e.meanPlanes[sensorName]

	target := e.targetPoint(latDeg, lonDeg)
	solver := crossing.NewSolver(normal, minLine, maxLine)
	solver.MaxIterations = e.cfg.CrossingMaxIterations
	solver.LineAccuracy = e.cfg.CrossingLineAccuracy
	solver.ScalarAccuracy = e.cfg.CrossingScalarAccuracy

	result, err := solver.FindCrossing(e.planeFuncFor(s, target))
	return s, result, err
}

// InverseLocation searches lines [minLine, maxLine] of the named sensor
// for the one that sees (latDeg, lonDeg), returning its fractional line
// and pixel. found is false, with a nil error, when the target is never
// seen in that range (§7: "not seen" is not an error).
func (e *Engine) InverseLocation(sensorName string, latDeg, lonDeg, minLine, maxLine float64) (line, pixel float64, found bool, err error) {
	s, result, err := e.findCrossing(sensorName, latDeg, lonDeg, minLine, maxLine)
	if err != nil {
		return 0, 0, false, err
	}
	if result == nil {
		return 0, 0, false, nil
	}

	xAxis, yAxis := crossing.PlaneBasis(e.meanPlanes[sensorName])
	losAt := func(p float64) (spatial.Vector3, error) {
		_, v, err := s.LOSAtLine(result.Line, p)
		return v, err
	}

	pix, err := crossing.PixelLocation(losAt, s.N(), xAxis, yAxis, result.TargetDirection)
	if err != nil {
		if errors.Is(err, crossing.ErrOutOfPixelRange) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}

	if e.refraction != nil {
		if grid, ok := e.refractionGrids[sensorName]; ok {
			refLine, refPixel := inverseLocationRefracted(grid, result.Line, pix)
			return refLine, refPixel, true, nil
		}
	}
	return result.Line, pix, true, nil
}

// DateLocation is InverseLocation without the pixel refinement: it
// returns the acquisition date of the line that sees (latDeg, lonDeg).
func (e *Engine) DateLocation(sensorName string, latDeg, lonDeg, minLine, maxLine float64) (date time.Time, found bool, err error) {
	_, result, err := e.findCrossing(sensorName, latDeg, lonDeg, minLine, maxLine)
	if err != nil {
		return time.Time{}, false, err
	}
	if result == nil {
		return time.Time{}, false, nil
	}
	return result.Date, true, nil
}
