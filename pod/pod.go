// Package pod computes truncated Proper Orthogonal Decomposition bases from
// snapshot matrices and projects between full-order and reduced spaces.
//
// A snapshot matrix U (d x n) holds one full-field solution per column. The
// basis V (d x nL) collects the leading left singular vectors of U, truncated
// so that the relative energy of the discarded singular values stays below a
// tolerance eps. Reduced coefficients v = (V^T U)^T live in an nL-dimensional
// space; V v^T reconstructs the full field up to the truncated energy.
package pod

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Relative cutoff below which singular values are treated as numerically zero.
const rankTol = 1e-13

var (
	// ErrEmptySnapshots is returned when the snapshot matrix has no rows or columns.
	ErrEmptySnapshots = errors.New("snapshot matrix has no content")
	// ErrZeroSnapshots is returned when every snapshot entry is zero.
	ErrZeroSnapshots = errors.New("snapshot matrix is identically zero")
	// ErrNonFinite is returned when the snapshot matrix contains NaN or Inf entries.
	ErrNonFinite = errors.New("snapshot matrix contains non-finite values")
)

// Basis is a truncated orthonormal POD basis. It is immutable after
// construction: Reduce and Reconstruct never mutate the basis, and callers
// must not modify the matrix returned by Raw.
type Basis struct {
	v      *mat.Dense // d x nL, orthonormal columns ordered by decreasing singular value
	sv     []float64  // retained singular values
	energy float64    // fraction of total snapshot energy captured
	dof    int        // full-order dimension d
}

// New builds a POD basis from the snapshot matrix U (d x n, columns are
// samples), keeping the minimal number of modes such that the discarded
// relative energy (sum of squared dropped singular values over the total)
// does not exceed eps. With eps approaching zero all modes with nonzero
// singular value are kept, so the basis spans the range of U.
func New(U *mat.Dense, eps float64) (*Basis, error) {
	if eps < 0 || eps >= 1 {
		return nil, fmt.Errorf("truncation tolerance must be in [0, 1), got %g", eps)
	}
	sv, uLeft, err := decompose(U)
	if err != nil {
		return nil, err
	}

	total := 0.0
	for _, s := range sv {
		total += s * s
	}

	// Numerical rank: ignore singular values that are zero relative to the largest.
	rank := 0
	for _, s := range sv {
		if s > sv[0]*rankTol {
			rank++
		}
	}

	// Smallest mode count whose discarded energy fits under eps, capped at rank.
	nL := rank
	retained := 0.0
	for k, s := range sv[:rank] {
		retained += s * s
		if (total-retained)/total <= eps {
			nL = k + 1
			break
		}
	}

	return newBasis(U, sv, uLeft, nL, total), nil
}

// NewFixed builds a POD basis keeping exactly nL modes regardless of the
// energy they capture. nL is clamped to the number of available singular
// directions.
func NewFixed(U *mat.Dense, nL int) (*Basis, error) {
	if nL <= 0 {
		return nil, fmt.Errorf("mode count must be positive, got %d", nL)
	}
	sv, uLeft, err := decompose(U)
	if err != nil {
		return nil, err
	}
	if nL > len(sv) {
		nL = len(sv)
	}

	total := 0.0
	for _, s := range sv {
		total += s * s
	}
	return newBasis(U, sv, uLeft, nL, total), nil
}

func newBasis(U *mat.Dense, sv []float64, uLeft *mat.Dense, nL int, total float64) *Basis {
	d, _ := U.Dims()
	v := mat.NewDense(d, nL, nil)
	v.Copy(uLeft.Slice(0, d, 0, nL))

	retained := 0.0
	for _, s := range sv[:nL] {
		retained += s * s
	}

	kept := make([]float64, nL)
	copy(kept, sv[:nL])

	return &Basis{v: v, sv: kept, energy: retained / total, dof: d}
}

// decompose validates U and returns its singular values and left singular vectors.
func decompose(U *mat.Dense) ([]float64, *mat.Dense, error) {
	if U == nil {
		return nil, nil, ErrEmptySnapshots
	}
	d, n := U.Dims()
	if d == 0 || n == 0 {
		return nil, nil, ErrEmptySnapshots
	}

	allZero := true
	for i := 0; i < d; i++ {
		for _, x := range U.RawRowView(i) {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, nil, ErrNonFinite
			}
			if x != 0 {
				allZero = false
			}
		}
	}
	if allZero {
		return nil, nil, ErrZeroSnapshots
	}

	var svd mat.SVD
	if ok := svd.Factorize(U, mat.SVDThin); !ok {
		return nil, nil, errors.New("SVD factorization failed")
	}
	var uLeft mat.Dense
	svd.UTo(&uLeft)
	return svd.Values(nil), &uLeft, nil
}

// Modes returns the number of retained basis vectors nL.
func (b *Basis) Modes() int {
	_, nL := b.v.Dims()
	return nL
}

// DOF returns the full-order dimension d.
func (b *Basis) DOF() int { return b.dof }

// SingularValues returns a copy of the retained singular values in
// decreasing order.
func (b *Basis) SingularValues() []float64 {
	out := make([]float64, len(b.sv))
	copy(out, b.sv)
	return out
}

// EnergyCaptured returns the fraction of total snapshot energy retained by
// the truncated basis, in (0, 1].
func (b *Basis) EnergyCaptured() float64 { return b.energy }

// Raw exposes the basis matrix V (d x nL) for read-only use, such as custom
// reconstructions of confidence bounds.
func (b *Basis) Raw() *mat.Dense { return b.v }

// Reduce projects snapshots U (d x n) onto the basis, returning the reduced
// coefficients v = (V^T U)^T with one sample per row (n x nL).
func (b *Basis) Reduce(U *mat.Dense) (*mat.Dense, error) {
	d, n := U.Dims()
	if d != b.dof {
		return nil, fmt.Errorf("snapshot dimension mismatch: basis has %d DOFs, got %d", b.dof, d)
	}
	nL := b.Modes()
	var proj mat.Dense
	proj.Mul(b.v.T(), U) // nL x n

	out := mat.NewDense(n, nL, nil)
	out.Copy(proj.T())
	return out, nil
}

// Reconstruct maps reduced coefficients v (n x nL, one sample per row) back
// to full-order snapshots U = V v^T (d x n). The round trip
// Reconstruct(Reduce(U)) recovers U up to the truncated energy.
func (b *Basis) Reconstruct(v *mat.Dense) (*mat.Dense, error) {
	_, nL := v.Dims()
	if nL != b.Modes() {
		return nil, fmt.Errorf("reduced dimension mismatch: basis has %d modes, got %d", b.Modes(), nL)
	}
	var out mat.Dense
	out.Mul(b.v, v.T())
	return &out, nil
}

// TruncationSigma returns the per-DOF standard deviation across samples of
// the reconstruction residual U - V V^T U. It quantifies the irreducible
// projection error of the truncated basis and feeds the full-field
// uncertainty propagation as a floor on the predictive sigma.
func (b *Basis) TruncationSigma(U *mat.Dense) ([]float64, error) {
	reduced, err := b.Reduce(U)
	if err != nil {
		return nil, err
	}
	approx, err := b.Reconstruct(reduced)
	if err != nil {
		return nil, err
	}

	d, n := U.Dims()
	sig := make([]float64, d)
	row := make([]float64, n)
	for i := 0; i < d; i++ {
		for j := 0; j < n; j++ {
			row[j] = U.At(i, j) - approx.At(i, j)
		}
		sig[i] = math.Sqrt(stat.PopVariance(row, nil))
	}
	return sig, nil
}
