package sensor

import (
	"fmt"
	"time"

	"pushbroom/dual"
	"pushbroom/spatial"
)

// vec3d is a 3-vector of dual numbers, used internally to carry
// derivatives through the composable LOS transform chain.
type vec3d struct {
	X, Y, Z dual.Number
}

func constVec(v spatial.Vector3) vec3d {
	return vec3d{X: dual.Const(v.X), Y: dual.Const(v.Y), Z: dual.Const(v.Z)}
}

func (v vec3d) plain() spatial.Vector3 {
	return spatial.Vector3{X: v.X.Val, Y: v.Y.Val, Z: v.Z.Val}
}

func vecAdd(a, b vec3d) vec3d {
	return vec3d{X: dual.Add(a.X, b.X), Y: dual.Add(a.Y, b.Y), Z: dual.Add(a.Z, b.Z)}
}

func vecScale(a vec3d, k dual.Number) vec3d {
	return vec3d{X: dual.Mul(a.X, k), Y: dual.Mul(a.Y, k), Z: dual.Mul(a.Z, k)}
}

func vecDot(a, b vec3d) dual.Number {
	return dual.Add(dual.Mul(a.X, b.X), dual.Add(dual.Mul(a.Y, b.Y), dual.Mul(a.Z, b.Z)))
}

func vecCross(a, b vec3d) vec3d {
	return vec3d{
		X: dual.Sub(dual.Mul(a.Y, b.Z), dual.Mul(a.Z, b.Y)),
		Y: dual.Sub(dual.Mul(a.Z, b.X), dual.Mul(a.X, b.Z)),
		Z: dual.Sub(dual.Mul(a.X, b.Y), dual.Mul(a.Y, b.X)),
	}
}

// rotateRodrigues rotates v about the fixed unit axis by the (possibly
// differentiable) angle, using Rodrigues' rotation formula so that the
// axis need not itself be tracked.
func rotateRodrigues(v vec3d, axis spatial.Vector3, angle dual.Number) vec3d {
	ax := constVec(axis.Normalize())
	c := dual.Cos(angle)
	s := dual.Sin(angle)

	term1 := vecScale(v, c)
	term2 := vecScale(vecCross(ax, v), s)
	term3 := vecScale(ax, dual.Mul(vecDot(ax, v), dual.Sub(dual.Const(1), c)))
	return vecAdd(vecAdd(term1, term2), term3)
}

// ParameterSet is the registry of every named scalar calibration
// parameter a LOS provider exposes, assembled as transform steps are
// added to a Builder (§4.5 "each transform exposes named scalar
// parameters").
type ParameterSet struct {
	names []string
	value map[string]float64
}

func newParameterSet() *ParameterSet {
	return &ParameterSet{value: make(map[string]float64)}
}

func (p *ParameterSet) register(name string, value float64) {
	if _, exists := p.value[name]; !exists {
		p.names = append(p.names, name)
	}
	p.value[name] = value
}

// Names returns every registered parameter name, in registration order.
func (p *ParameterSet) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Value returns a parameter's currently selected value.
func (p *ParameterSet) Value(name string) (float64, bool) {
	v, ok := p.value[name]
	return v, ok
}

// SetValue updates a parameter's selected value (e.g. after a
// calibration fit adjusts it).
func (p *ParameterSet) SetValue(name string, v float64) error {
	if _, ok := p.value[name]; !ok {
		return fmt.Errorf("sensor: unknown parameter %q", name)
	}
	p.value[name] = v
	return nil
}

// Generator constructs differentiable scalars seeded at the parameter
// set's currently selected values, tracking gradients only for the
// subset of names passed to NewGenerator (§4.5, §6 "transformLOS(...,
// generator)").
type Generator struct {
	params   *ParameterSet
	selected map[string]int
}

// NewGenerator builds a Generator that differentiates with respect to
// the named parameters, in the given order.
func NewGenerator(params *ParameterSet, selected ...string) *Generator {
	idx := make(map[string]int, len(selected))
	for i, name := range selected {
		idx[name] = i
	}
	return &Generator{params: params, selected: idx}
}

// Width returns the number of tracked (selected) parameters.
func (g *Generator) Width() int { return len(g.selected) }

// Scalar returns the current value of the named parameter as a dual
// number, carrying a unit derivative in its own slot if selected, or a
// plain constant otherwise.
func (g *Generator) Scalar(name string) dual.Number {
	v, ok := g.params.Value(name)
	if !ok {
		return dual.Const(0)
	}
	if idx, ok := g.selected[name]; ok {
		return dual.Var(v, idx, len(g.selected))
	}
	return dual.Const(v)
}

// step is one link in a composable LOS transform chain (§4.5).
type step interface {
	apply(v vec3d, pixelIndex int, date time.Time, gen *Generator) vec3d
}

type fixedRotationStep struct {
	axis  spatial.Vector3
	angle float64
}

func (s fixedRotationStep) apply(v vec3d, _ int, _ time.Time, _ *Generator) vec3d {
	return rotateRodrigues(v, s.axis, dual.Const(s.angle))
}

// polynomialHomothetyStep uniformly scales the LOS vector by a
// polynomial in pixel index, modeling pixel-pitch nonlinearity. It does
// not depend on date (§4.5 "time-independent").
type polynomialHomothetyStep struct {
	paramNames []string // one per coefficient, low to high degree
}

func (s polynomialHomothetyStep) apply(v vec3d, pixelIndex int, _ time.Time, gen *Generator) vec3d {
	scale := dual.Const(0)
	x := float64(pixelIndex)
	power := 1.0
	for _, name := range s.paramNames {
		term := dual.Scale(gen.Scalar(name), power)
		scale = dual.Add(scale, term)
		power *= x
	}
	return vecScale(v, scale)
}

// timeDependentRotationStep rotates about a fixed axis by an angle that
// is a polynomial in (t - tref), modeling thermo-elastic drift (§4.5
// "time-dependent polynomial rotations").
type timeDependentRotationStep struct {
	axis       spatial.Vector3
	tref       time.Time
	paramNames []string
}

func (s timeDependentRotationStep) apply(v vec3d, _ int, date time.Time, gen *Generator) vec3d {
	dt := date.Sub(s.tref).Seconds()
	angle := dual.Const(0)
	power := 1.0
	for _, name := range s.paramNames {
		term := dual.Scale(gen.Scalar(name), power)
		angle = dual.Add(angle, term)
		power *= dt
	}
	return rotateRodrigues(v, s.axis, angle)
}

// Provider is the composed, differentiable LOS model for one line
// sensor: a nominal per-pixel unit direction in the spacecraft frame,
// transformed by an ordered chain of steps (§4.5).
type Provider struct {
	n      int
	base   func(pixelIndex int) spatial.Vector3
	steps  []step
	params *ParameterSet
}

// Builder assembles a Provider one transform at a time.
type Builder struct {
	n      int
	base   func(pixelIndex int) spatial.Vector3
	steps  []step
	params *ParameterSet
}

// NewBuilder starts a LOS provider with n pixels and a nominal,
// uncorrected unit direction per pixel index.
func NewBuilder(n int, base func(pixelIndex int) spatial.Vector3) *Builder {
	return &Builder{n: n, base: base, params: newParameterSet()}
}

// AddFixedRotation appends a constant, non-differentiable rotation.
func (b *Builder) AddFixedRotation(axis spatial.Vector3, angle float64) *Builder {
	b.steps = append(b.steps, fixedRotationStep{axis: axis, angle: angle})
	return b
}

// AddPolynomialHomothety appends a uniform scale factor, polynomial in
// pixel index, with one named differentiable coefficient per term:
// name+"_c0", name+"_c1", ...
func (b *Builder) AddPolynomialHomothety(name string, coeffs []float64) *Builder {
	names := make([]string, len(coeffs))
	for i, c := range coeffs {
		pn := fmt.Sprintf("%s_c%d", name, i)
		b.params.register(pn, c)
		names[i] = pn
	}
	b.steps = append(b.steps, polynomialHomothetyStep{paramNames: names})
	return b
}

// AddTimeDependentRotation appends a rotation about axis whose angle is
// a polynomial in (t - tref) seconds, one named differentiable
// coefficient per term: name+"_c0", name+"_c1", ...
func (b *Builder) AddTimeDependentRotation(name string, axis spatial.Vector3, tref time.Time, coeffs []float64) *Builder {
	names := make([]string, len(coeffs))
	for i, c := range coeffs {
		pn := fmt.Sprintf("%s_c%d", name, i)
		b.params.register(pn, c)
		names[i] = pn
	}
	b.steps = append(b.steps, timeDependentRotationStep{axis: axis, tref: tref, paramNames: names})
	return b
}

// Build finalizes the provider.
func (b *Builder) Build() *Provider {
	return &Provider{n: b.n, base: b.base, steps: append([]step(nil), b.steps...), params: b.params}
}

// N returns the pixel count.
func (p *Provider) N() int { return p.n }

// Parameters exposes the provider's named calibration parameters.
func (p *Provider) Parameters() *ParameterSet { return p.params }

// LOS returns the unit view direction for pixelIndex at date, in the
// spacecraft frame, with no derivative tracking.
func (p *Provider) LOS(pixelIndex int, date time.Time) (spatial.Vector3, error) {
	v, err := p.losDual(pixelIndex, date, NewGenerator(p.params))
	if err != nil {
		return spatial.Vector3{}, err
	}
	return v.plain().Normalize(), nil
}

// LOSWithDerivatives returns the unit view direction and, for each
// parameter selected in gen, the partial derivative of the transformed
// direction before normalization (§6 "transformLOS ... generator").
func (p *Provider) LOSWithDerivatives(pixelIndex int, date time.Time, gen *Generator) (spatial.Vector3, [][3]float64, error) {
	v, err := p.losDual(pixelIndex, date, gen)
	if err != nil {
		return spatial.Vector3{}, nil, err
	}
	derivs := make([][3]float64, gen.Width())
	for i := range derivs {
		derivs[i] = [3]float64{v.X.At(i), v.Y.At(i), v.Z.At(i)}
	}
	return v.plain().Normalize(), derivs, nil
}

func (p *Provider) losDual(pixelIndex int, date time.Time, gen *Generator) (vec3d, error) {
	if pixelIndex < 0 || pixelIndex >= p.n {
		return vec3d{}, fmt.Errorf("sensor: pixel index %d out of [0, %d)", pixelIndex, p.n)
	}
	v := constVec(p.base(pixelIndex))
	for _, s := range p.steps {
		v = s.apply(v, pixelIndex, date, gen)
	}
	return v, nil
}
