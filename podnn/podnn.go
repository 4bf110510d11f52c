// Package podnn assembles the full reduced-order surrogate pipeline: POD
// basis construction from high-fidelity snapshots, projection to reduced
// coefficients, regression from physical parameters to those coefficients
// through a deterministic or Bayesian core, and reconstruction of full-field
// predictions with propagated uncertainty.
package podnn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/hwfluid/POD-UQNN/bnn"
	"github.com/hwfluid/POD-UQNN/logger"
	"github.com/hwfluid/POD-UQNN/metrics"
	"github.com/hwfluid/POD-UQNN/nn"
	"github.com/hwfluid/POD-UQNN/norm"
	"github.com/hwfluid/POD-UQNN/pod"
)

// Regressor maps physical parameters to reduced coefficients. Predict
// returns a mean and a predictive standard deviation per output; the
// deterministic core reports zero spread. The two concrete implementations
// are nn.NeuralNetwork and bnn.BayesianNeuralNetwork.
type Regressor interface {
	Fit(X, Y *mat.Dense, epochs int, tl *logger.TrainLogger) error
	Predict(X *mat.Dense) (*mat.Dense, *mat.Dense, error)
}

// Statically bind both cores to the contract.
var (
	_ Regressor = (*nn.NeuralNetwork)(nil)
	_ Regressor = (*bnn.BayesianNeuralNetwork)(nil)
)

// Model owns the POD basis and the regression core for one experiment. The
// basis is built once per dataset; the core is constructed, trained, then
// frozen for repeated prediction.
type Model struct {
	nFields int
	basis   *pod.Basis
	reg     Regressor
	rng     *rand.Rand
	podSig  []float64
	nParams int
	nTrain  int
}

// Dataset is a converted snapshot collection: parameters and reduced
// coefficients, split into training and validation parts.
type Dataset struct {
	XTrain, VTrain *mat.Dense
	XVal, VVal     *mat.Dense
}

// New creates a surrogate model for snapshots stacking nFields physical
// fields per spatial point. The seed drives the train/validation split.
func New(nFields int, seed int64) *Model {
	if nFields < 1 {
		nFields = 1
	}
	return &Model{
		nFields: nFields,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Convert builds the POD basis from the snapshot matrix U (DOFs x samples)
// with truncation tolerance eps (or exactly nL modes when nL > 0), projects
// the snapshots to reduced coefficients, and splits the paired parameters X
// (samples x parameters) and coefficients into train/validation parts by a
// random permutation.
func (m *Model) Convert(U, X *mat.Dense, trainRatio, eps float64, nL int) (*Dataset, error) {
	_, nS := U.Dims()
	xr, xc := X.Dims()
	if xr != nS {
		return nil, fmt.Errorf("sample mismatch: %d snapshots, %d parameter rows", nS, xr)
	}
	if trainRatio <= 0 || trainRatio >= 1 {
		return nil, fmt.Errorf("train ratio must be in (0, 1), got %g", trainRatio)
	}

	var basis *pod.Basis
	var err error
	if nL > 0 {
		basis, err = pod.NewFixed(U, nL)
	} else {
		basis, err = pod.New(U, eps)
	}
	if err != nil {
		return nil, err
	}
	m.basis = basis

	if m.podSig, err = basis.TruncationSigma(U); err != nil {
		return nil, err
	}

	v, err := basis.Reduce(U)
	if err != nil {
		return nil, err
	}

	m.nParams = xc
	m.nTrain = int(trainRatio * float64(nS))
	if m.nTrain < 1 || m.nTrain >= nS {
		return nil, fmt.Errorf("split leaves no data: %d train of %d samples", m.nTrain, nS)
	}

	perm := m.rng.Perm(nS)
	ds := &Dataset{
		XTrain: pickRows(X, perm[:m.nTrain]),
		VTrain: pickRows(v, perm[:m.nTrain]),
		XVal:   pickRows(X, perm[m.nTrain:]),
		VVal:   pickRows(v, perm[m.nTrain:]),
	}
	return ds, nil
}

// pickRows gathers the given rows of src into a new matrix.
func pickRows(src *mat.Dense, idx []int) *mat.Dense {
	_, c := src.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, j := range idx {
		out.SetRow(i, src.RawRowView(j))
	}
	return out
}

// InitNN installs a deterministic regression core with the given hidden
// layer widths; input and output widths come from the converted dataset.
// Convert must run first.
func (m *Model) InitNN(hidden []int, lr, l2 float64, mode norm.Mode, seed int64) error {
	if m.basis == nil {
		return errors.New("convert a dataset before initializing the regression core")
	}
	core, err := nn.New(m.coreLayers(hidden), lr, l2, mode, seed)
	if err != nil {
		return err
	}
	m.reg = core
	return nil
}

// InitBNN installs a Bayesian regression core. A zero klw resolves to
// 1/nTrain, balancing the KL penalty against a full-dataset likelihood
// pass. Convert must run first.
func (m *Model) InitBNN(hidden []int, lr, klw, sigmaAlea float64, samples int, mode norm.Mode, seed int64) error {
	if m.basis == nil {
		return errors.New("convert a dataset before initializing the regression core")
	}
	if klw == 0 {
		klw = 1 / float64(m.nTrain)
	}
	core, err := bnn.New(m.coreLayers(hidden), lr, klw,
		bnn.WithSigmaAlea(sigmaAlea),
		bnn.WithSamples(samples),
		bnn.WithNorm(mode),
		bnn.WithSeed(seed),
	)
	if err != nil {
		return err
	}
	m.reg = core
	return nil
}

func (m *Model) coreLayers(hidden []int) []int {
	layers := append([]int{m.nParams}, hidden...)
	return append(layers, m.basis.Modes())
}

// SetRegressor installs an externally constructed (for example reloaded)
// regression core.
func (m *Model) SetRegressor(r Regressor) { m.reg = r }

// Regressor returns the installed regression core.
func (m *Model) Regressor() Regressor { return m.reg }

// Basis returns the POD basis built by Convert.
func (m *Model) Basis() *pod.Basis { return m.basis }

// PODSigma returns the per-DOF truncation sigma of the basis, the
// projection-uncertainty floor of full-field predictions.
func (m *Model) PODSigma() []float64 {
	return append([]float64(nil), m.podSig...)
}

// Train fits the regression core on the training split, reporting progress
// every freq epochs with the relative validation error as the held-out
// metric.
func (m *Model) Train(ds *Dataset, epochs, freq int) error {
	if m.reg == nil {
		return errors.New("no regression core installed")
	}
	tl, err := logger.New(freq)
	if err != nil {
		return err
	}
	tl.SetErrorFn(func() float64 {
		pred, _, err := m.reg.Predict(ds.XVal)
		if err != nil {
			return math.NaN()
		}
		return metrics.RES(ds.VVal, pred)
	})
	return m.reg.Fit(ds.XTrain, ds.VTrain, epochs, tl)
}

// PredictV predicts reduced coefficients for new parameters, returning the
// mean and predictive standard deviation per coefficient.
func (m *Model) PredictV(X *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	if m.reg == nil {
		return nil, nil, errors.New("no regression core installed")
	}
	return m.reg.Predict(X)
}

// Predict reconstructs full-field predictions with propagated uncertainty.
// The mean field is V v^T; the predictive sigma is obtained by applying the
// basis to the +2 sigma coefficient bound and halving the offset from the
// mean, an approximation that propagates the standard deviation linearly
// rather than the variance exactly. The POD truncation sigma adds in
// quadrature as the projection error floor.
func (m *Model) Predict(X *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	v, vSig, err := m.PredictV(X)
	if err != nil {
		return nil, nil, err
	}

	U, err := m.basis.Reconstruct(v)
	if err != nil {
		return nil, nil, err
	}

	r, c := v.Dims()
	vUp := mat.NewDense(r, c, nil)
	vUp.Add(v, vSig)
	vUp.Add(vUp, vSig) // v + 2*sigma
	Uup, err := m.basis.Reconstruct(vUp)
	if err != nil {
		return nil, nil, err
	}

	d, n := U.Dims()
	USig := mat.NewDense(d, n, nil)
	for i := 0; i < d; i++ {
		uRow, upRow, sRow := U.RawRowView(i), Uup.RawRowView(i), USig.RawRowView(i)
		podVar := m.podSig[i] * m.podSig[i]
		for j := range sRow {
			s := 0.5 * (upRow[j] - uRow[j])
			sRow[j] = math.Sqrt(s*s + podVar)
		}
	}
	return U, USig, nil
}

// Bounds derives the +-2 sigma confidence bounds from a mean field and its
// sigma, both DOFs x samples.
func Bounds(U, USig *mat.Dense) (lower, upper *mat.Dense) {
	d, n := U.Dims()
	lower = mat.NewDense(d, n, nil)
	upper = mat.NewDense(d, n, nil)
	for i := 0; i < d; i++ {
		uRow, sRow := U.RawRowView(i), USig.RawRowView(i)
		loRow, upRow := lower.RawRowView(i), upper.RawRowView(i)
		for j := range uRow {
			loRow[j] = uRow[j] - 2*sRow[j]
			upRow[j] = uRow[j] + 2*sRow[j]
		}
	}
	return lower, upper
}

// Restruct splits a stacked multi-field matrix (nFields*points x samples)
// into one matrix per physical field (points x samples each).
func (m *Model) Restruct(U *mat.Dense) ([]*mat.Dense, error) {
	d, n := U.Dims()
	if d%m.nFields != 0 {
		return nil, fmt.Errorf("cannot split %d DOFs into %d fields", d, m.nFields)
	}
	points := d / m.nFields
	fields := make([]*mat.Dense, m.nFields)
	for f := 0; f < m.nFields; f++ {
		block := mat.NewDense(points, n, nil)
		block.Copy(U.Slice(f*points, (f+1)*points, 0, n))
		fields[f] = block
	}
	return fields, nil
}
