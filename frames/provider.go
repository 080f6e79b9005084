// Package frames implements C6: an interpolating transform provider
// over a spacecraft trajectory (position/velocity + attitude samples)
// and a body-orientation sample set, memoized by quantized date.
//
// Grounded on the date-keyed lookup/cache shape of
// internal/googleearth/timemachine.go (a map keyed by a quantized date,
// populated lazily), adapted here from HTTP epoch lookups to pure
// in-memory Hermite/quaternion interpolation. Quaternion composition
// uses gonum/num/quat (pushbroom/spatial.Rotation), the numerics
// library the retrieval pack favors (satoshi-pes-gnss, observerly-skysolve).
package frames

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pushbroom/spatial"
)

// ErrOutOfTimeRange is raised when a query date falls outside
// [tMin-overshoot, tMax+overshoot] (§4.4, §7).
var ErrOutOfTimeRange = errors.New("frames: date outside trajectory time span")

// PVSample is a dated position/velocity sample of the spacecraft in the
// inertial frame.
type PVSample struct {
	Date     time.Time
	Position spatial.Vector3
	Velocity spatial.Vector3
}

// AttitudeSample is a dated orientation sample: Rotation maps vectors
// from the child frame to the parent frame, Spin is the instantaneous
// angular-rate vector expressed in the parent frame.
type AttitudeSample struct {
	Date     time.Time
	Rotation spatial.Rotation
	Spin     spatial.Vector3
}

// Config bundles the interpolation parameters from §9 ("Hermite
// interpolation, degree 8 for PV, 2 for rotations by default") and the
// memoization step from §4.4.
type Config struct {
	PVDegree        int           // Hermite polynomial degree for position/velocity
	AttitudeDegree  int           // not read by Provider: rotations are slerped between the two bracketing samples
	OvershootTol    time.Duration // tolerance beyond [tMin, tMax]
	MemoQuantum     time.Duration // date quantization step for the transform memo
}

// DefaultConfig matches §9's defaults.
func DefaultConfig() Config {
	return Config{
		PVDegree:       8,
		AttitudeDegree: 2,
		OvershootTol:   100 * time.Millisecond,
		MemoQuantum:    time.Millisecond,
	}
}

// Provider is the time-indexed interpolating transform provider (§4.4).
// One instance is owned exclusively by one engine (§5); it is not safe
// for concurrent use by multiple engines sharing state.
type Provider struct {
	cfg Config

	pv          []PVSample
	attitude    []AttitudeSample // spacecraft frame -> inertial frame
	bodyOrient  []AttitudeSample // inertial frame -> body frame

	tMin, tMax time.Time

	mu        sync.Mutex
	pvMemo    map[int64]pvResult
	attMemo   map[int64]attResult
	bodyMemo  map[int64]attResult
}

// Memo entries record the exact date they were computed for; a lookup
// in the same quantized slot hits only when that date matches.
type pvResult struct {
	date               time.Time
	position, velocity spatial.Vector3
}

type attResult struct {
	date     time.Time
	rotation spatial.Rotation
	spin     spatial.Vector3
}

// NewProvider validates and builds a Provider from trajectory samples.
// Samples must be sorted by date (or are sorted here) and each slice
// must have at least two entries so interpolation is well posed.
func NewProvider(pv []PVSample, attitude, bodyOrient []AttitudeSample, cfg Config) (*Provider, error) {
	if len(pv) < 2 {
		return nil, errors.New("frames: need at least two PV samples")
	}
	if len(attitude) < 2 {
		return nil, errors.New("frames: need at least two attitude samples")
	}
	if len(bodyOrient) < 2 {
		return nil, errors.New("frames: need at least two body-orientation samples")
	}

	pvCopy := append([]PVSample(nil), pv...)
	sort.Slice(pvCopy, func(i, j int) bool { return pvCopy[i].Date.Before(pvCopy[j].Date) })
	attCopy := append([]AttitudeSample(nil), attitude...)
	sort.Slice(attCopy, func(i, j int) bool { return attCopy[i].Date.Before(attCopy[j].Date) })
	bodyCopy := append([]AttitudeSample(nil), bodyOrient...)
	sort.Slice(bodyCopy, func(i, j int) bool { return bodyCopy[i].Date.Before(bodyCopy[j].Date) })

	tMin := pvCopy[0].Date
	tMax := pvCopy[len(pvCopy)-1].Date
	if attCopy[0].Date.After(tMin) {
		tMin = attCopy[0].Date
	}
	if bodyCopy[0].Date.After(tMin) {
		tMin = bodyCopy[0].Date
	}
	if attCopy[len(attCopy)-1].Date.Before(tMax) {
		tMax = attCopy[len(attCopy)-1].Date
	}
	if bodyCopy[len(bodyCopy)-1].Date.Before(tMax) {
		tMax = bodyCopy[len(bodyCopy)-1].Date
	}

	if cfg.MemoQuantum <= 0 {
		cfg = DefaultConfig()
	}

	return &Provider{
		cfg:        cfg,
		pv:         pvCopy,
		attitude:   attCopy,
		bodyOrient: bodyCopy,
		tMin:       tMin,
		tMax:       tMax,
		pvMemo:     make(map[int64]pvResult),
		attMemo:    make(map[int64]attResult),
		bodyMemo:   make(map[int64]attResult),
	}, nil
}

func (p *Provider) checkRange(t time.Time) error {
	if t.Before(p.tMin.Add(-p.cfg.OvershootTol)) || t.After(p.tMax.Add(p.cfg.OvershootTol)) {
		return fmt.Errorf("%w: %s not in [%s, %s] (+/- %s)", ErrOutOfTimeRange, t, p.tMin, p.tMax, p.cfg.OvershootTol)
	}
	return nil
}

func quantize(t time.Time, step time.Duration) int64 {
	if step <= 0 {
		return t.UnixNano()
	}
	return t.UnixNano() / int64(step)
}

// PositionVelocity returns the spacecraft's interpolated position and
// velocity in the inertial frame at date t.
func (p *Provider) PositionVelocity(t time.Time) (position, velocity spatial.Vector3, err error) {
	if err := p.checkRange(t); err != nil {
		return spatial.Vector3{}, spatial.Vector3{}, err
	}
	key := quantize(t, p.cfg.MemoQuantum)

	p.mu.Lock()
	if r, ok := p.pvMemo[key]; ok && r.date.Equal(t) {
		p.mu.Unlock()
		return r.position, r.velocity, nil
	}
	p.mu.Unlock()

	pos, vel := hermiteInterpolatePV(p.pv, t, p.cfg.PVDegree)

	p.mu.Lock()
	p.pvMemo[key] = pvResult{date: t, position: pos, velocity: vel}
	p.mu.Unlock()
	return pos, vel, nil
}

// ScToInertialRotation returns the interpolated spacecraft attitude
// (spacecraft frame -> inertial frame) and spin at date t.
func (p *Provider) ScToInertialRotation(t time.Time) (spatial.Rotation, spatial.Vector3, error) {
	return p.interpolatedRotation(t, p.attitude, p.attMemo)
}

// InertialToBodyRotation returns the interpolated body orientation
// (inertial frame -> body frame) and spin at date t.
func (p *Provider) InertialToBodyRotation(t time.Time) (spatial.Rotation, spatial.Vector3, error) {
	return p.interpolatedRotation(t, p.bodyOrient, p.bodyMemo)
}

func (p *Provider) interpolatedRotation(t time.Time, samples []AttitudeSample, memo map[int64]attResult) (spatial.Rotation, spatial.Vector3, error) {
	if err := p.checkRange(t); err != nil {
		return spatial.Identity, spatial.Vector3{}, err
	}
	key := quantize(t, p.cfg.MemoQuantum)

	p.mu.Lock()
	if r, ok := memo[key]; ok && r.date.Equal(t) {
		p.mu.Unlock()
		return r.rotation, r.spin, nil
	}
	p.mu.Unlock()

	rot, spin := interpolateAttitude(samples, t)

	p.mu.Lock()
	memo[key] = attResult{date: t, rotation: rot, spin: spin}
	p.mu.Unlock()
	return rot, spin, nil
}

// ScToInertial returns the full Transform (§3) from spacecraft frame to
// inertial frame at date t: applying it to a vector expressed relative
// to the spacecraft maps it to an absolute inertial-frame vector.
func (p *Provider) ScToInertial(t time.Time) (spatial.Transform, error) {
	pos, vel, err := p.PositionVelocity(t)
	if err != nil {
		return spatial.Transform{}, err
	}
	rot, spin, err := p.ScToInertialRotation(t)
	if err != nil {
		return spatial.Transform{}, err
	}
	return spatial.Transform{
		Date:        t,
		Translation: rot.ApplyInverse(pos.Negate()),
		Rotation:    rot,
		Velocity:    rot.ApplyInverse(vel.Negate()),
		Spin:        spin,
	}, nil
}

// InertialToBody returns the full Transform (§3) from inertial frame to
// body frame at date t. Both frames share the same origin (planet
// center), so translation is zero.
func (p *Provider) InertialToBody(t time.Time) (spatial.Transform, error) {
	rot, spin, err := p.InertialToBodyRotation(t)
	if err != nil {
		return spatial.Transform{}, err
	}
	return spatial.Transform{Date: t, Rotation: rot, Spin: spin}, nil
}

// BodyToInertial is the inverse of InertialToBody.
func (p *Provider) BodyToInertial(t time.Time) (spatial.Transform, error) {
	tr, err := p.InertialToBody(t)
	if err != nil {
		return spatial.Transform{}, err
	}
	return tr.Inverse(), nil
}

// TimeSpan returns the trajectory's covered interval, without overshoot.
func (p *Provider) TimeSpan() (time.Time, time.Time) {
	return p.tMin, p.tMax
}
