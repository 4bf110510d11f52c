// Package bnn implements the Bayesian regression core: a feed-forward
// network with variational dense layers trained against a negative Gaussian
// log-likelihood plus the layers' KL divergence from a fixed mixture prior.
// Prediction runs Monte Carlo over the weight posterior, yielding a mean and
// an epistemic variance per output.
//
// Gradients are hand-derived under the reparametrization trick; no autodiff
// framework is involved, and no global random state: every stochastic call
// takes its generator from the model's seeded source or pool.
package bnn

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hwfluid/POD-UQNN/logger"
	"github.com/hwfluid/POD-UQNN/norm"
	"github.com/hwfluid/POD-UQNN/optim"
)

// ErrArtifactNotFound is returned by Load when one of the two persisted
// artifacts is absent.
var ErrArtifactNotFound = errors.New("model artifact not found")

// DefaultSamples is the Monte Carlo sample count used when none is
// configured.
const DefaultSamples = 200

func init() {
	// Persisted weight graphs go through the Layer interface; the concrete
	// variational layer must be known to the decoder.
	gob.Register(&DenseVariational{})
}

// BayesianNeuralNetwork is a feed-forward network of variational dense
// layers. One instance owns its posteriors and optimizer state exclusively.
type BayesianNeuralNetwork struct {
	layers    []int
	lr        float64
	klw       float64
	sigmaAlea float64
	samples   int
	prior     Prior
	dense     []*DenseVariational
	nrm       *norm.Normalizer
	opt       *optim.Adam
	rng       *rand.Rand

	// Pooled generators for concurrent Monte Carlo prediction.
	rngPool     sync.Pool
	seedCounter int64
}

// Option configures a BayesianNeuralNetwork.
type Option func(*config)

type config struct {
	prior     Prior
	sigmaAlea float64
	samples   int
	mode      norm.Mode
	seed      int64
}

// WithPrior replaces the default two-component mixture prior.
func WithPrior(p Prior) Option {
	return func(c *config) { c.prior = p }
}

// WithSigmaAlea sets the fixed aleatoric noise scale of the Gaussian
// likelihood.
func WithSigmaAlea(s float64) Option {
	return func(c *config) { c.sigmaAlea = s }
}

// WithSamples sets the default Monte Carlo sample count for Predict.
func WithSamples(n int) Option {
	return func(c *config) { c.samples = n }
}

// WithNorm sets the input normalization mode.
func WithNorm(mode norm.Mode) Option {
	return func(c *config) { c.mode = mode }
}

// WithSeed seeds the model's random source for reproducible initialization,
// training draws and prediction sampling.
func WithSeed(seed int64) Option {
	return func(c *config) { c.seed = seed }
}

// New creates a Bayesian network with the given layer widths (input first,
// output last), Adam learning rate lr and KL penalty weight klw. A klw of
// 1/nTrain makes the total KL term comparable to the likelihood summed over
// one full pass of the training set.
func New(layers []int, lr, klw float64, opts ...Option) (*BayesianNeuralNetwork, error) {
	if len(layers) < 2 {
		return nil, fmt.Errorf("need at least input and output widths, got %d layers", len(layers))
	}
	for i, w := range layers {
		if w <= 0 {
			return nil, fmt.Errorf("layer %d has non-positive width %d", i, w)
		}
	}

	cfg := config{
		prior:     DefaultPrior(),
		sigmaAlea: 0.01,
		samples:   DefaultSamples,
		mode:      norm.None,
		seed:      1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	nrm, err := norm.New(cfg.mode)
	if err != nil {
		return nil, err
	}

	b := &BayesianNeuralNetwork{
		layers:      append([]int(nil), layers...),
		lr:          lr,
		klw:         klw,
		sigmaAlea:   cfg.sigmaAlea,
		samples:     cfg.samples,
		prior:       cfg.prior,
		nrm:         nrm,
		opt:         optim.NewAdam(optim.AdamConfig{LR: lr}),
		rng:         rand.New(rand.NewSource(cfg.seed)),
		seedCounter: cfg.seed,
	}
	b.rngPool.New = func() any {
		seed := atomic.AddInt64(&b.seedCounter, 1)
		return rand.New(rand.NewSource(seed))
	}

	for l := 0; l < len(layers)-1; l++ {
		activation := ActivationReLU
		if l == len(layers)-2 {
			activation = ActivationLinear
		}
		b.dense = append(b.dense, newDenseVariational(layers[l], layers[l+1], activation, klw, cfg.prior, b.rng))
	}
	return b, nil
}

// Layers returns a copy of the layer widths.
func (b *BayesianNeuralNetwork) Layers() []int {
	return append([]int(nil), b.layers...)
}

// KLWeight returns the configured KL penalty weight.
func (b *BayesianNeuralNetwork) KLWeight() float64 { return b.klw }

// SigmaAlea returns the fixed aleatoric noise scale.
func (b *BayesianNeuralNetwork) SigmaAlea() float64 { return b.sigmaAlea }

// Fit trains the network on inputs X (samples x parameters) against reduced
// coefficients Y (samples x outputs). Each epoch runs one stochastic
// forward pass over the full batch, computes the combined
// likelihood-plus-KL loss, backpropagates and applies one Adam step.
// Normalization bounds freeze from X here. Non-finite losses propagate to
// the logger unfiltered.
func (b *BayesianNeuralNetwork) Fit(X, Y *mat.Dense, epochs int, tl *logger.TrainLogger) error {
	xr, xc := X.Dims()
	yr, yc := Y.Dims()
	if xr != yr {
		return fmt.Errorf("sample count mismatch: %d inputs, %d targets", xr, yr)
	}
	if xc != b.layers[0] || yc != b.layers[len(b.layers)-1] {
		return fmt.Errorf("shape mismatch: network is %d->%d, data is %d->%d",
			b.layers[0], b.layers[len(b.layers)-1], xc, yc)
	}
	if tl == nil {
		tl = logger.NewNop()
	}

	b.nrm.SetBounds(X)
	Xn := b.nrm.Apply(X)

	tl.LogTrainStart()
	var loss float64
	for e := 0; e < epochs; e++ {
		var grads [][]float64
		loss, grads = b.lossAndGradients(Xn, Y)
		b.opt.Step(b.paramViews(), grads)
		tl.LogTrainEpoch(e, loss)
	}
	tl.LogTrainEnd(epochs, loss)
	return nil
}

func (b *BayesianNeuralNetwork) paramViews() [][]float64 {
	var views [][]float64
	for _, l := range b.dense {
		views = append(views, l.KernelMu, l.KernelRho, l.BiasMu, l.BiasRho)
	}
	return views
}

// lossAndGradients runs one stochastic pass and returns the total loss
// (negative log-likelihood plus the summed layer KL terms) and the
// parameter gradients in paramViews order.
func (b *BayesianNeuralNetwork) lossAndGradients(Xn, Y *mat.Dense) (float64, [][]float64) {
	caches := make([]*sampleCache, len(b.dense))
	a := Xn
	klTotal := 0.0
	for i, l := range b.dense {
		var kl float64
		a, kl, caches[i] = l.forwardCached(a, b.rng)
		klTotal += kl
	}
	pred := a

	// Negative Gaussian log-likelihood of the observed targets and its
	// gradient with respect to the predictions.
	rows, cols := pred.Dims()
	nll := 0.0
	delta := mat.NewDense(rows, cols, nil)
	inv2 := 1 / (b.sigmaAlea * b.sigmaAlea)
	for i := 0; i < rows; i++ {
		prow, yrow, drow := pred.RawRowView(i), Y.RawRowView(i), delta.RawRowView(i)
		for j := range prow {
			dist := distuv.Normal{Mu: prow[j], Sigma: b.sigmaAlea}
			nll -= dist.LogProb(yrow[j])
			drow[j] = (prow[j] - yrow[j]) * inv2
		}
	}

	grads := make([][]float64, 0, 4*len(b.dense))
	layerGrads := make([]gradients, len(b.dense))
	d := delta
	for i := len(b.dense) - 1; i >= 0; i-- {
		layerGrads[i], d = b.dense[i].backward(caches[i], d)
	}
	for _, g := range layerGrads {
		grads = append(grads, g.kernelMu, g.kernelRho, g.biasMu, g.biasRho)
	}

	return nll + klTotal, grads
}

// forwardSample runs one stochastic inference pass on normalized inputs.
func (b *BayesianNeuralNetwork) forwardSample(Xn *mat.Dense, rng *rand.Rand) *mat.Dense {
	a := Xn
	for _, l := range b.dense {
		a, _ = l.Forward(a, rng)
	}
	return a
}

// PredictSamples performs the given number of independent stochastic
// forward passes and returns the per-output sample mean and variance. The
// variance is the model's epistemic uncertainty; it excludes the aleatoric
// noise scale. Draws are independent, so they run on a bounded pool of
// goroutines with per-goroutine generators and are aggregated after all
// samples complete.
func (b *BayesianNeuralNetwork) PredictSamples(X *mat.Dense, samples int) (*mat.Dense, *mat.Dense, error) {
	_, xc := X.Dims()
	if xc != b.layers[0] {
		return nil, nil, fmt.Errorf("input dimension mismatch: network expects %d, got %d", b.layers[0], xc)
	}
	if samples < 1 {
		samples = 1
	}
	Xn := b.nrm.Apply(X)
	rows := Xn.RawMatrix().Rows
	out := b.layers[len(b.layers)-1]

	workers := runtime.GOMAXPROCS(0)
	if workers > samples {
		workers = samples
	}

	var mu sync.Mutex
	sum := mat.NewDense(rows, out, nil)
	sumSq := mat.NewDense(rows, out, nil)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		n := samples / workers
		if w < samples%workers {
			n++
		}
		go func(n int) {
			defer wg.Done()
			rng := b.rngPool.Get().(*rand.Rand)
			defer b.rngPool.Put(rng)

			localSum := mat.NewDense(rows, out, nil)
			localSq := mat.NewDense(rows, out, nil)
			for s := 0; s < n; s++ {
				y := b.forwardSample(Xn, rng)
				for i := 0; i < rows; i++ {
					yrow, srow, qrow := y.RawRowView(i), localSum.RawRowView(i), localSq.RawRowView(i)
					for j := range yrow {
						srow[j] += yrow[j]
						qrow[j] += yrow[j] * yrow[j]
					}
				}
			}

			mu.Lock()
			sum.Add(sum, localSum)
			sumSq.Add(sumSq, localSq)
			mu.Unlock()
		}(n)
	}
	wg.Wait()

	mean := mat.NewDense(rows, out, nil)
	variance := mat.NewDense(rows, out, nil)
	inv := 1 / float64(samples)
	for i := 0; i < rows; i++ {
		mrow, vrow, srow, qrow := mean.RawRowView(i), variance.RawRowView(i), sum.RawRowView(i), sumSq.RawRowView(i)
		for j := range mrow {
			m := srow[j] * inv
			mrow[j] = m
			v := qrow[j]*inv - m*m
			if v < 0 { // numerical cancellation
				v = 0
			}
			vrow[j] = v
		}
	}
	return mean, variance, nil
}

// Predict returns the Monte Carlo mean and the total predictive standard
// deviation per output, combining the epistemic sample variance with the
// fixed aleatoric noise in quadrature. The default sample count applies.
func (b *BayesianNeuralNetwork) Predict(X *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	mean, variance, err := b.PredictSamples(X, b.samples)
	if err != nil {
		return nil, nil, err
	}
	sig := mat.NewDense(variance.RawMatrix().Rows, variance.RawMatrix().Cols, nil)
	alea2 := b.sigmaAlea * b.sigmaAlea
	sig.Apply(func(_, _ int, v float64) float64 { return math.Sqrt(v + alea2) }, variance)
	return mean, sig, nil
}
