// Package sensor implements C7: per-pixel line-of-sight direction and
// line <-> date mapping, differentiable with respect to named
// calibration parameters via pushbroom/dual.
//
// Grounded on the teacher's small value-type-plus-constructor idiom
// (internal/common/tile_bounds.go) for LineDatation, and on the
// sequential-filter composition style of internal/taskqueue/worker.go
// (a slice of steps applied in order) for the LOS provider builder.
package sensor

import (
	"fmt"
	"time"
)

// LineDatation maps a real-valued line number to a date and back. The
// spec only requires monotonicity and differentiability; the reference
// implementation here is the linear model date(l) = t0 + (l-l0)/rate
// (§4.5).
type LineDatation struct {
	t0    time.Time
	l0    float64
	rate  float64 // lines per second
}

// NewLinearDatation builds the reference linear datation model.
// rate must be non-zero.
func NewLinearDatation(t0 time.Time, l0, rate float64) (LineDatation, error) {
	if rate == 0 {
		return LineDatation{}, fmt.Errorf("sensor: datation rate must be non-zero")
	}
	return LineDatation{t0: t0, l0: l0, rate: rate}, nil
}

// Date returns the acquisition date of line number line.
func (d LineDatation) Date(line float64) time.Time {
	seconds := (line - d.l0) / d.rate
	return d.t0.Add(time.Duration(seconds * float64(time.Second)))
}

// Line returns the (real-valued, possibly fractional) line number
// acquired at date t.
func (d LineDatation) Line(t time.Time) float64 {
	dt := t.Sub(d.t0).Seconds()
	return d.l0 + dt*d.rate
}

// Rate returns lines per second, the derivative of Line with respect to
// time (constant for the linear model).
func (d LineDatation) Rate() float64 {
	return d.rate
}
