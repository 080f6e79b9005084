package frames

import (
	"sort"
	"time"

	"pushbroom/spatial"
)

// neighbourWindow picks up to degree+1 samples straddling t, biased so
// that t falls inside the window whenever the sample set allows it.
func neighbourWindow(n, degree int, idx int) (lo, hi int) {
	half := (degree + 1) / 2
	lo = idx - half
	hi = lo + degree
	if lo < 0 {
		hi -= lo
		lo = 0
	}
	if hi >= n {
		lo -= hi - (n - 1)
		hi = n - 1
	}
	if lo < 0 {
		lo = 0
	}
	return lo, hi
}

// hermiteInterpolatePV interpolates position and velocity through a
// single Hermite polynomial fit to every sample in the degree+1-wide
// window around t (value and derivative known at each sample), per §9
// "Hermite interpolation (degree 8 for PV... by default)". The window
// slides with the query date rather than the polynomial being fit
// globally, so local samples dominate, matching an ephemeris that is
// densely sampled relative to its dynamics.
func hermiteInterpolatePV(samples []PVSample, t time.Time, degree int) (spatial.Vector3, spatial.Vector3) {
	n := len(samples)
	idx := sort.Search(n, func(i int) bool { return !samples[i].Date.Before(t) })
	if idx == n {
		idx = n - 1
	}
	lo, hi := neighbourWindow(n, degree, idx)

	xs := make([]float64, hi-lo+1)
	base := samples[lo].Date
	for i := lo; i <= hi; i++ {
		xs[i-lo] = samples[i].Date.Sub(base).Seconds()
	}
	x := t.Sub(base).Seconds()

	var pos, vel spatial.Vector3
	pos.X, vel.X = hermiteScalar(xs, extractPos(samples[lo:hi+1], 0), extractVel(samples[lo:hi+1], 0), x)
	pos.Y, vel.Y = hermiteScalar(xs, extractPos(samples[lo:hi+1], 1), extractVel(samples[lo:hi+1], 1), x)
	pos.Z, vel.Z = hermiteScalar(xs, extractPos(samples[lo:hi+1], 2), extractVel(samples[lo:hi+1], 2), x)
	return pos, vel
}

func extractPos(s []PVSample, axis int) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = component(v.Position, axis)
	}
	return out
}

func extractVel(s []PVSample, axis int) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = component(v.Velocity, axis)
	}
	return out
}

func component(v spatial.Vector3, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// hermiteScalar builds the single osculating polynomial of degree
// 2*len(xs)-1 that matches both value and derivative at every sample in
// the window (classical Hermite interpolation via divided differences,
// with each node doubled), and evaluates it and its derivative at x.
// This uses every sample the caller gathered, not just the bracketing
// pair, so the configured window width actually controls the fit.
func hermiteScalar(xs, ys, dys []float64, x float64) (value, deriv float64) {
	n := len(xs)
	if n == 1 {
		return ys[0], dys[0]
	}

	m := 2 * n
	z := make([]float64, m)
	q := make([]float64, m) // q[i] holds Q[i][i], the coefficient of the i-th Newton term
	col := make([]float64, m)

	for i := 0; i < n; i++ {
		z[2*i] = xs[i]
		z[2*i+1] = xs[i]
		col[2*i] = ys[i]
		col[2*i+1] = ys[i]
	}
	q[0] = col[0]

	prevCol := col
	for order := 1; order < m; order++ {
		nextCol := make([]float64, m)
		for i := order; i < m; i++ {
			if z[i] == z[i-order] {
				// order-1 repeated node: only possible when order == 1,
				// where the derivative supplies the divided difference.
				nextCol[i] = dys[i/2]
			} else {
				nextCol[i] = (prevCol[i] - prevCol[i-1]) / (z[i] - z[i-order])
			}
		}
		q[order] = nextCol[order]
		prevCol = nextCol
	}

	// Evaluate the Newton form and its derivative together via the
	// running-product recurrence term_i = term_{i-1}*(x - z[i-1]).
	value = q[0]
	deriv = 0
	term := 1.0
	termDeriv := 0.0
	for i := 1; i < m; i++ {
		termDeriv = termDeriv*(x-z[i-1]) + term
		term = term * (x - z[i-1])
		value += q[i] * term
		deriv += q[i] * termDeriv
	}
	return value, deriv
}

// interpolateAttitude returns a Slerp-interpolated rotation and a
// linearly blended spin vector between the two samples bracketing t
// (degree 2 default per §9: value and first-order rate, no higher-order
// quaternion spline).
func interpolateAttitude(samples []AttitudeSample, t time.Time) (spatial.Rotation, spatial.Vector3) {
	n := len(samples)
	idx := sort.Search(n, func(i int) bool { return !samples[i].Date.Before(t) })

	if idx == 0 {
		return samples[0].Rotation, samples[0].Spin
	}
	if idx == n {
		return samples[n-1].Rotation, samples[n-1].Spin
	}

	a, b := samples[idx-1], samples[idx]
	span := b.Date.Sub(a.Date).Seconds()
	if span <= 0 {
		return a.Rotation, a.Spin
	}
	frac := t.Sub(a.Date).Seconds() / span

	rot := spatial.Slerp(a.Rotation, b.Rotation, frac)
	spin := a.Spin.Lerp(b.Spin, frac)
	return rot, spin
}
