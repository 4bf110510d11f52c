// Package nn implements the deterministic regression core: a feed-forward
// network mapping physical parameters to reduced coefficients, trained by
// Adam on a mean-squared-error loss with L2 weight decay. Gradients are
// computed by hand-derived backpropagation; there is no autodiff framework
// underneath.
package nn

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/hwfluid/POD-UQNN/logger"
	"github.com/hwfluid/POD-UQNN/norm"
	"github.com/hwfluid/POD-UQNN/optim"
)

// ErrArtifactNotFound is returned by Load when the persisted model file is
// absent.
var ErrArtifactNotFound = errors.New("model artifact not found")

// NeuralNetwork is a deterministic feed-forward regression model. ReLU
// hidden activations, linear output. One instance owns its weights and
// optimizer state exclusively; training mutates only these.
type NeuralNetwork struct {
	layers  []int
	lr      float64
	l2      float64
	weights []*mat.Dense // per layer, fanIn x fanOut
	biases  []*mat.Dense // per layer, 1 x fanOut
	nrm     *norm.Normalizer
	opt     *optim.Adam
	rng     *rand.Rand
}

// New creates a network with the given layer widths, input first and output
// last. lr is the Adam learning rate, l2 the weight decay coefficient.
// Weights are initialized N(0, 1/sqrt(fanIn)) from the seeded generator, so
// runs are reproducible without any global seed state.
func New(layers []int, lr, l2 float64, mode norm.Mode, seed int64) (*NeuralNetwork, error) {
	if len(layers) < 2 {
		return nil, fmt.Errorf("need at least input and output widths, got %d layers", len(layers))
	}
	for i, w := range layers {
		if w <= 0 {
			return nil, fmt.Errorf("layer %d has non-positive width %d", i, w)
		}
	}
	nrm, err := norm.New(mode)
	if err != nil {
		return nil, err
	}

	n := &NeuralNetwork{
		layers: append([]int(nil), layers...),
		lr:     lr,
		l2:     l2,
		nrm:    nrm,
		opt:    optim.NewAdam(optim.AdamConfig{LR: lr}),
		rng:    rand.New(rand.NewSource(seed)),
	}

	for l := 0; l < len(layers)-1; l++ {
		in, out := layers[l], layers[l+1]
		w := mat.NewDense(in, out, nil)
		std := math.Sqrt(1.0 / float64(in))
		data := w.RawMatrix().Data
		for i := range data {
			data[i] = n.rng.NormFloat64() * std
		}
		n.weights = append(n.weights, w)
		n.biases = append(n.biases, mat.NewDense(1, out, nil))
	}
	return n, nil
}

// Layers returns a copy of the layer widths.
func (n *NeuralNetwork) Layers() []int {
	return append([]int(nil), n.layers...)
}

// forward runs the network on normalized inputs and returns the
// pre-activation and activation of every layer. activations[0] is the input.
func (n *NeuralNetwork) forward(X *mat.Dense) (preacts, activations []*mat.Dense) {
	activations = []*mat.Dense{X}
	a := X
	for l, w := range n.weights {
		rows, _ := a.Dims()
		_, out := w.Dims()
		z := mat.NewDense(rows, out, nil)
		z.Mul(a, w)
		brow := n.biases[l].RawRowView(0)
		for i := 0; i < rows; i++ {
			zrow := z.RawRowView(i)
			for j := range zrow {
				zrow[j] += brow[j]
			}
		}
		preacts = append(preacts, z)

		if l == len(n.weights)-1 {
			a = z
		} else {
			act := mat.NewDense(rows, out, nil)
			act.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
			a = act
		}
		activations = append(activations, a)
	}
	return preacts, activations
}

// Fit trains the network on inputs X (samples x parameters) against targets
// Y (samples x outputs) for the given epoch count. Normalization bounds are
// frozen from X here and reused for every later prediction. Progress goes
// through tl; a nil logger trains silently. Non-finite losses are not
// intercepted, they surface through the logger like any other value.
func (n *NeuralNetwork) Fit(X, Y *mat.Dense, epochs int, tl *logger.TrainLogger) error {
	xr, xc := X.Dims()
	yr, yc := Y.Dims()
	if xr != yr {
		return fmt.Errorf("sample count mismatch: %d inputs, %d targets", xr, yr)
	}
	if xc != n.layers[0] || yc != n.layers[len(n.layers)-1] {
		return fmt.Errorf("shape mismatch: network is %d->%d, data is %d->%d",
			n.layers[0], n.layers[len(n.layers)-1], xc, yc)
	}
	if tl == nil {
		tl = logger.NewNop()
	}

	n.nrm.SetBounds(X)
	Xn := n.nrm.Apply(X)

	tl.LogTrainStart()
	var loss float64
	for e := 0; e < epochs; e++ {
		var grads [][]float64
		loss, grads = n.lossAndGradients(Xn, Y)
		n.opt.Step(n.paramViews(), grads)
		tl.LogTrainEpoch(e, loss)
	}
	tl.LogTrainEnd(epochs, loss)
	return nil
}

// paramViews returns raw views into the weight and bias storage, in the
// fixed order the optimizer moments are keyed by.
func (n *NeuralNetwork) paramViews() [][]float64 {
	var views [][]float64
	for l := range n.weights {
		views = append(views, n.weights[l].RawMatrix().Data)
		views = append(views, n.biases[l].RawMatrix().Data)
	}
	return views
}

// lossAndGradients computes the regularized MSE loss and its gradients with
// respect to every parameter, in paramViews order.
func (n *NeuralNetwork) lossAndGradients(Xn, Y *mat.Dense) (float64, [][]float64) {
	preacts, activations := n.forward(Xn)
	pred := activations[len(activations)-1]

	rows, cols := pred.Dims()
	scale := 1.0 / float64(rows*cols)
	loss := 0.0
	delta := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		prow, yrow, drow := pred.RawRowView(i), Y.RawRowView(i), delta.RawRowView(i)
		for j := range prow {
			d := prow[j] - yrow[j]
			loss += d * d * scale
			drow[j] = 2 * d * scale
		}
	}
	for _, w := range n.weights {
		data := w.RawMatrix().Data
		for _, v := range data {
			loss += n.l2 * v * v
		}
	}

	grads := make([][]float64, 2*len(n.weights))
	for l := len(n.weights) - 1; l >= 0; l-- {
		in, out := n.weights[l].Dims()

		dW := mat.NewDense(in, out, nil)
		dW.Mul(activations[l].T(), delta)
		if n.l2 > 0 {
			wData := n.weights[l].RawMatrix().Data
			gData := dW.RawMatrix().Data
			for i := range gData {
				gData[i] += 2 * n.l2 * wData[i]
			}
		}

		db := make([]float64, out)
		dr, _ := delta.Dims()
		for i := 0; i < dr; i++ {
			drow := delta.RawRowView(i)
			for j := range drow {
				db[j] += drow[j]
			}
		}

		grads[2*l] = dW.RawMatrix().Data
		grads[2*l+1] = db

		if l > 0 {
			prev := mat.NewDense(dr, in, nil)
			prev.Mul(delta, n.weights[l].T())
			// ReLU gate of the previous hidden layer.
			z := preacts[l-1]
			for i := 0; i < dr; i++ {
				prow, zrow := prev.RawRowView(i), z.RawRowView(i)
				for j := range prow {
					if zrow[j] <= 0 {
						prow[j] = 0
					}
				}
			}
			delta = prev
		}
	}
	return loss, grads
}

// Predict runs a pure forward pass on X using the frozen normalization
// bounds. It returns the predicted outputs and a zero uncertainty matrix:
// the deterministic core has no predictive spread, and the uniform shape
// keeps downstream propagation identical across core variants.
func (n *NeuralNetwork) Predict(X *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	_, xc := X.Dims()
	if xc != n.layers[0] {
		return nil, nil, fmt.Errorf("input dimension mismatch: network expects %d, got %d", n.layers[0], xc)
	}
	Xn := n.nrm.Apply(X)
	_, activations := n.forward(Xn)
	pred := activations[len(activations)-1]
	r, c := pred.Dims()
	return pred, mat.NewDense(r, c, nil), nil
}

// state is the gob-serialized form of a trained network.
type state struct {
	Version int
	Layers  []int
	LR, L2  float64
	Norm    norm.State
	Weights [][]float64
	Biases  [][]float64
}

// Save writes the trained model (hyperparameters, normalization bounds and
// weights) to a single artifact at path.
func (n *NeuralNetwork) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating model artifact: %w", err)
	}
	defer f.Close()

	s := state{
		Version: 1,
		Layers:  n.layers,
		LR:      n.lr,
		L2:      n.l2,
		Norm:    n.nrm.State(),
	}
	for l := range n.weights {
		s.Weights = append(s.Weights, append([]float64(nil), n.weights[l].RawMatrix().Data...))
		s.Biases = append(s.Biases, append([]float64(nil), n.biases[l].RawMatrix().Data...))
	}
	return gob.NewEncoder(f).Encode(s)
}

// Load restores a trained model saved by Save. A missing file yields
// ErrArtifactNotFound naming the path.
func Load(path string) (*NeuralNetwork, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("opening model artifact: %w", err)
	}
	defer f.Close()

	var s state
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding model artifact %s: %w", path, err)
	}
	if s.Version != 1 {
		return nil, fmt.Errorf("unsupported model artifact version %d", s.Version)
	}

	n, err := New(s.Layers, s.LR, s.L2, s.Norm.Mode, 0)
	if err != nil {
		return nil, err
	}
	if n.nrm, err = norm.FromState(s.Norm); err != nil {
		return nil, err
	}
	if len(s.Weights) != len(n.weights) || len(s.Biases) != len(n.biases) {
		return nil, fmt.Errorf("model artifact %s does not match layer structure", path)
	}
	for l := range n.weights {
		copy(n.weights[l].RawMatrix().Data, s.Weights[l])
		copy(n.biases[l].RawMatrix().Data, s.Biases[l])
	}
	return n, nil
}
