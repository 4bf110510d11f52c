// Package metrics provides the error measures reported during training and
// validation of reduced-order surrogate models.
package metrics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RE returns the relative Euclidean error ||u - uPred|| / ||u|| between two
// vectors of equal length.
func RE(u, uPred []float64) float64 {
	diff := make([]float64, len(u))
	floats.SubTo(diff, u, uPred)
	return floats.Norm(diff, 2) / floats.Norm(u, 2)
}

// RES returns the relative Frobenius error ||U - UPred||_F / ||U||_F between
// two matrices of equal shape.
func RES(U, UPred mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(U, UPred)
	return mat.Norm(&diff, 2) / mat.Norm(U, 2)
}

// MSE returns the mean squared error between two matrices of equal shape,
// averaged over all entries.
func MSE(U, UPred mat.Matrix) float64 {
	r, c := U.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := U.At(i, j) - UPred.At(i, j)
			sum += d * d
		}
	}
	return sum / float64(r*c)
}
