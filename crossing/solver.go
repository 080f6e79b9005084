package crossing

import (
	"errors"
	"math"
	"time"

	"pushbroom/spatial"
)

// ErrSolverFailed is returned when the root finder exhausts its
// iteration budget without converging, per §7 SOLVER_FAILED.
var ErrSolverFailed = errors.New("crossing: root finder exhausted iterations without converging")

// State names the solver's position in its explicit state machine
// (§4.7): INIT -> BRACKETING -> NEWTON -> CONVERGED | FAILED.
type State int

const (
	StateInit State = iota
	StateBracketing
	StateNewton
	StateConverged
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateBracketing:
		return "BRACKETING"
	case StateNewton:
		return "NEWTON"
	case StateConverged:
		return "CONVERGED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// PlaneFunc evaluates, at a given (possibly fractional) line number, the
// date the sensor reaches that line and the target's direction as seen
// from the sensor, expressed in the sensor's own spacecraft-frame axes.
// The caller (the georef facade) closes over frames/sensor/corrections
// to build this; crossing stays decoupled from all three.
type PlaneFunc func(line float64) (date time.Time, targetDirection spatial.Vector3, err error)

// CrossingResult is the solved line together with a first-order Taylor
// expansion of the target direction around it, per §4.7.
type CrossingResult struct {
	Line                      float64
	Date                      time.Time
	TargetDirection           spatial.Vector3
	TargetDirectionDerivative spatial.Vector3
}

// Solver finds the line at which a target direction crosses a sensor's
// mean plane.
type Solver struct {
	Normal         spatial.Vector3
	LineMin        float64
	LineMax        float64
	MaxIterations  int
	LineAccuracy   float64
	ScalarAccuracy float64

	State State
}

// derivativeStep is the central-difference step used to estimate the
// plane function's slope. It is independent of LineAccuracy: coupling
// the finite-difference step to the convergence tolerance means
// tightening one silently retunes the other, so the two are kept as
// separate constants.
const derivativeStep = 1e-4

// NewSolver builds a Solver with defaults tight enough to meet the
// round-trip accuracy of §8 (line <= 1e-5, pixel <= 3e-7): 80
// iterations, a scalar accuracy of 1e-9 on the plane function (a dot
// product of unit vectors), and a line accuracy an
// order of magnitude under the spec's stated bound.
func NewSolver(normal spatial.Vector3, lineMin, lineMax float64) *Solver {
	return &Solver{
		Normal:         normal.Normalize(),
		LineMin:        lineMin,
		LineMax:        lineMax,
		MaxIterations:  80,
		LineAccuracy:   1e-6,
		ScalarAccuracy: 1e-9,
		State:          StateInit,
	}
}

func (s *Solver) evaluate(plane PlaneFunc, line float64) (scalar float64, date time.Time, dir spatial.Vector3, err error) {
	date, dir, err = plane(line)
	if err != nil {
		return 0, time.Time{}, spatial.Vector3{}, err
	}
	return s.Normal.Dot(dir), date, dir, nil
}

func (s *Solver) derivative(plane PlaneFunc, line float64) (float64, error) {
	sPlus, _, _, err := s.evaluate(plane, line+derivativeStep)
	if err != nil {
		return 0, err
	}
	sMinus, _, _, err := s.evaluate(plane, line-derivativeStep)
	if err != nil {
		return 0, err
	}
	return (sPlus - sMinus) / (2 * derivativeStep), nil
}

func (s *Solver) directionDerivative(plane PlaneFunc, line float64) (spatial.Vector3, error) {
	_, dirPlus, err := plane(line + derivativeStep)
	if err != nil {
		return spatial.Vector3{}, err
	}
	_, dirMinus, err := plane(line - derivativeStep)
	if err != nil {
		return spatial.Vector3{}, err
	}
	return dirPlus.Minus(dirMinus).Scale(1 / (2 * derivativeStep)), nil
}

func sameSign(a, b float64) bool {
	return (a >= 0) == (b >= 0)
}

// FindCrossing solves s(line) = 0 where s(line) = Normal . direction(line).
// It returns (nil, nil), not an error, when the target is never seen
// within [LineMin, LineMax] — per §7, "not seen" is not a failure.
func (s *Solver) FindCrossing(plane PlaneFunc) (*CrossingResult, error) {
	s.State = StateInit

	lo, hi := s.LineMin, s.LineMax
	sLo, _, _, err := s.evaluate(plane, lo)
	if err != nil {
		return nil, err
	}
	sHi, _, _, err := s.evaluate(plane, hi)
	if err != nil {
		return nil, err
	}

	if sameSign(sLo, sHi) {
		return nil, nil
	}

	s.State = StateBracketing
	line := (lo + hi) / 2
	sLine, date, dir, err := s.evaluate(plane, line)
	if err != nil {
		return nil, err
	}

	s.State = StateNewton
	useBisection := false
	nonDecreaseStreak := 0
	prevAbs := math.Abs(sLine)

	for iter := 0; iter < s.MaxIterations; iter++ {
		if math.Abs(sLine) < s.ScalarAccuracy || (hi-lo) < s.LineAccuracy {
			s.State = StateConverged
			dDir, derr := s.directionDerivative(plane, line)
			if derr != nil {
				dDir = spatial.Vector3{}
			}
			return &CrossingResult{
				Line:                      line,
				Date:                      date,
				TargetDirection:           dir,
				TargetDirectionDerivative: dDir,
			}, nil
		}

		if sameSign(sLine, sLo) {
			lo, sLo = line, sLine
		} else {
			hi, sHi = line, sLine
		}

		var next float64
		if !useBisection {
			deriv, derr := s.derivative(plane, line)
			if derr == nil && deriv != 0 {
				cand := line - sLine/deriv
				if cand > lo && cand < hi {
					next = cand
				} else {
					next = (lo + hi) / 2
				}
			} else {
				next = (lo + hi) / 2
			}
		} else {
			next = (lo + hi) / 2
		}

		line = next
		sLine, date, dir, err = s.evaluate(plane, line)
		if err != nil {
			return nil, err
		}

		absS := math.Abs(sLine)
		if absS >= prevAbs {
			nonDecreaseStreak++
		} else {
			nonDecreaseStreak = 0
		}
		if nonDecreaseStreak >= 5 {
			useBisection = true
		}
		prevAbs = absS
	}

	s.State = StateFailed
	return nil, ErrSolverFailed
}
