// Package crossing implements C9: the mean-plane crossing solver that
// finds which sensor line sees a given body-frame target, plus the
// along-line pixel refinement.
//
// Grounded on pushbroom/ellipsoid's stateless-function style for the
// root finder, and on gonum/mat's SVD for the mean-plane fit (the pack's
// only linear-algebra library with a real SVD implementation).
package crossing

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"pushbroom/spatial"
)

// ErrInsufficientSamples is returned when fewer than 3 LOS vectors are
// given to MeanPlaneNormal; a plane fit is underdetermined below that.
var ErrInsufficientSamples = errors.New("crossing: need at least 3 LOS vectors to fit a mean plane")

// MeanPlaneNormal returns the unit normal of the best-fit plane through
// the origin and every given LOS vector, found via SVD: the normal is
// the right singular vector of least variance (§4.7).
func MeanPlaneNormal(los []spatial.Vector3) (spatial.Vector3, error) {
	if len(los) < 3 {
		return spatial.Vector3{}, ErrInsufficientSamples
	}

	data := make([]float64, len(los)*3)
	for i, v := range los {
		data[i*3+0] = v.X
		data[i*3+1] = v.Y
		data[i*3+2] = v.Z
	}
	m := mat.NewDense(len(los), 3, data)

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return spatial.Vector3{}, errors.New("crossing: SVD factorization did not converge")
	}

	var v mat.Dense
	svd.VTo(&v)

	normal := spatial.Vector3{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)}
	return normal.Normalize(), nil
}
