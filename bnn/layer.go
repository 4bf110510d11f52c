package bnn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Floor keeping the posterior scale away from zero-variance collapse.
const sigmaFloor = 1e-3

// Prior is the fixed two-component Gaussian mixture shared by every
// variational layer. It is part of the model definition and never trained.
type Prior struct {
	Pi     float64 // weight of the wide component
	Sigma1 float64 // scale of the wide component
	Sigma2 float64 // scale of the narrow component
}

// DefaultPrior returns the mixture used when none is configured.
func DefaultPrior() Prior {
	return Prior{Pi: 0.5, Sigma1: 1.5, Sigma2: 0.1}
}

// priorOffset is the constant log(expm1(1)) added inside the mixture
// log-density before taking the log.
var priorOffset = math.Log(math.Expm1(1))

// logProb returns the mixture log-density at w.
func (p Prior) logProb(w float64) float64 {
	c1 := distuv.Normal{Mu: 0, Sigma: p.Sigma1}
	c2 := distuv.Normal{Mu: 0, Sigma: p.Sigma2}
	return math.Log(priorOffset + p.Pi*c1.Prob(w) + (1-p.Pi)*c2.Prob(w))
}

// logProbGrad returns d/dw of logProb at w.
func (p Prior) logProbGrad(w float64) float64 {
	c1 := distuv.Normal{Mu: 0, Sigma: p.Sigma1}
	c2 := distuv.Normal{Mu: 0, Sigma: p.Sigma2}
	p1 := p.Pi * c1.Prob(w)
	p2 := (1 - p.Pi) * c2.Prob(w)
	num := -w/(p.Sigma1*p.Sigma1)*p1 - w/(p.Sigma2*p.Sigma2)*p2
	return num / (priorOffset + p1 + p2)
}

// initSigma is the stddev used to draw initial posterior means: the overall
// scale of the mixture prior.
func (p Prior) initSigma() float64 {
	return math.Sqrt(p.Pi*p.Sigma1*p.Sigma1 + (1-p.Pi)*p.Sigma2*p.Sigma2)
}

// Layer is a network layer with distributional weights. Forward draws fresh
// weights from the variational posterior and returns the activations
// together with the layer's KL-divergence contribution for that draw; there
// is no hidden loss accumulator. Concrete layer types must be registered
// with gob (see init) so persisted graphs reconstruct through this
// interface.
type Layer interface {
	Forward(X *mat.Dense, rng *rand.Rand) (*mat.Dense, float64)
}

// Supported layer activations.
const (
	ActivationReLU   = "relu"
	ActivationLinear = "linear"
)

// DenseVariational is a dense layer whose kernel and bias entries are
// independent Gaussian posteriors (mu, rho), with effective scale
// sigma = 1e-3 + softplus(0.1*rho). Every forward pass samples
// w = mu + sigma*eps, so outputs are stochastic by design. Fields are
// exported for gob serialization; treat them as read-only outside training.
type DenseVariational struct {
	In, Out    int
	KernelMu   []float64 // In*Out, row-major
	KernelRho  []float64
	BiasMu     []float64 // Out
	BiasRho    []float64
	Activation string // ActivationReLU or ActivationLinear
	KLWeight   float64
	Prior      Prior
}

// newDenseVariational initializes a layer with means drawn from the prior's
// overall scale and rho at zero, which puts the posterior sigma just above
// log(2).
func newDenseVariational(in, out int, activation string, klw float64, prior Prior, rng *rand.Rand) *DenseVariational {
	l := &DenseVariational{
		In:         in,
		Out:        out,
		KernelMu:   make([]float64, in*out),
		KernelRho:  make([]float64, in*out),
		BiasMu:     make([]float64, out),
		BiasRho:    make([]float64, out),
		Activation: activation,
		KLWeight:   klw,
		Prior:      prior,
	}
	std := prior.initSigma()
	for i := range l.KernelMu {
		l.KernelMu[i] = rng.NormFloat64() * std
	}
	for i := range l.BiasMu {
		l.BiasMu[i] = rng.NormFloat64() * std
	}
	return l
}

// sigma maps a raw scale parameter to the effective stddev.
func sigma(rho float64) float64 {
	return sigmaFloor + softplus(0.1*rho)
}

// sigmaGrad is d(sigma)/d(rho).
func sigmaGrad(rho float64) float64 {
	return 0.1 * logistic(0.1*rho)
}

func softplus(x float64) float64 {
	// Numerically stable log(1+exp(x)).
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// sampleCache keeps everything backward needs about one stochastic forward
// pass through a layer.
type sampleCache struct {
	input   *mat.Dense // n x In
	preact  *mat.Dense // n x Out
	kernel  []float64  // sampled kernel, In*Out
	bias    []float64  // sampled bias, Out
	epsK    []float64
	epsB    []float64
	sigmaK  []float64
	sigmaB  []float64
}

// forwardCached runs one stochastic pass keeping the caches needed for
// backpropagation, and returns the activations and the KL contribution.
func (l *DenseVariational) forwardCached(X *mat.Dense, rng *rand.Rand) (*mat.Dense, float64, *sampleCache) {
	n, in := X.Dims()
	if in != l.In {
		panic("bnn: layer input dimension mismatch")
	}

	c := &sampleCache{
		input:  X,
		kernel: make([]float64, l.In*l.Out),
		bias:   make([]float64, l.Out),
		epsK:   make([]float64, l.In*l.Out),
		epsB:   make([]float64, l.Out),
		sigmaK: make([]float64, l.In*l.Out),
		sigmaB: make([]float64, l.Out),
	}

	kl := 0.0
	for i := range c.kernel {
		s := sigma(l.KernelRho[i])
		e := rng.NormFloat64()
		w := l.KernelMu[i] + s*e
		c.sigmaK[i], c.epsK[i], c.kernel[i] = s, e, w
		kl += l.klTerm(w, l.KernelMu[i], s)
	}
	for i := range c.bias {
		s := sigma(l.BiasRho[i])
		e := rng.NormFloat64()
		w := l.BiasMu[i] + s*e
		c.sigmaB[i], c.epsB[i], c.bias[i] = s, e, w
		kl += l.klTerm(w, l.BiasMu[i], s)
	}

	kernel := mat.NewDense(l.In, l.Out, c.kernel)
	z := mat.NewDense(n, l.Out, nil)
	z.Mul(X, kernel)
	for i := 0; i < n; i++ {
		row := z.RawRowView(i)
		for j := range row {
			row[j] += c.bias[j]
		}
	}
	c.preact = z

	return l.activate(z), kl * l.KLWeight, c
}

// Forward implements Layer: a stochastic inference pass without caches.
func (l *DenseVariational) Forward(X *mat.Dense, rng *rand.Rand) (*mat.Dense, float64) {
	out, kl, _ := l.forwardCached(X, rng)
	return out, kl
}

// activate applies the layer activation, allocating for ReLU so the
// pre-activation cache stays intact.
func (l *DenseVariational) activate(z *mat.Dense) *mat.Dense {
	if l.Activation != ActivationReLU {
		return z
	}
	n, out := z.Dims()
	a := mat.NewDense(n, out, nil)
	a.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
	return a
}

// klTerm is the pointwise KL estimate for one sampled weight: the log-ratio
// of the variational posterior density and the mixture prior density at the
// sample.
func (l *DenseVariational) klTerm(w, mu, s float64) float64 {
	q := distuv.Normal{Mu: mu, Sigma: s}
	return q.LogProb(w) - l.Prior.logProb(w)
}

// gradients holds the parameter gradients of one layer, in the order the
// optimizer sees them.
type gradients struct {
	kernelMu  []float64
	kernelRho []float64
	biasMu    []float64
	biasRho   []float64
}

// backward consumes the gradient of the loss with respect to this layer's
// activations and returns the parameter gradients plus the gradient with
// respect to the layer input.
//
// Both gradient paths of the reparametrization w = mu + sigma(rho)*eps are
// included: the likelihood path through the sampled weights, and the KL
// path, where d(logq)/dmu cancels exactly and leaves -1/sigma alongside the
// prior terms.
func (l *DenseVariational) backward(c *sampleCache, deltaOut *mat.Dense) (gradients, *mat.Dense) {
	n, _ := deltaOut.Dims()

	// Gate through the activation.
	deltaZ := deltaOut
	if l.Activation == ActivationReLU {
		deltaZ = mat.NewDense(n, l.Out, nil)
		for i := 0; i < n; i++ {
			dst, src, zrow := deltaZ.RawRowView(i), deltaOut.RawRowView(i), c.preact.RawRowView(i)
			for j := range dst {
				if zrow[j] > 0 {
					dst[j] = src[j]
				}
			}
		}
	}

	// Likelihood path: dL/dW and dL/db for the sampled weights.
	dW := mat.NewDense(l.In, l.Out, nil)
	dW.Mul(c.input.T(), deltaZ)
	db := make([]float64, l.Out)
	for i := 0; i < n; i++ {
		row := deltaZ.RawRowView(i)
		for j := range row {
			db[j] += row[j]
		}
	}

	g := gradients{
		kernelMu:  make([]float64, l.In*l.Out),
		kernelRho: make([]float64, l.In*l.Out),
		biasMu:    make([]float64, l.Out),
		biasRho:   make([]float64, l.Out),
	}

	dWData := dW.RawMatrix().Data
	for i := range g.kernelMu {
		pg := l.Prior.logProbGrad(c.kernel[i])
		dSigma := dWData[i]*c.epsK[i] + l.KLWeight*(-1/c.sigmaK[i]-pg*c.epsK[i])
		g.kernelMu[i] = dWData[i] - l.KLWeight*pg
		g.kernelRho[i] = dSigma * sigmaGrad(l.KernelRho[i])
	}
	for i := range g.biasMu {
		pg := l.Prior.logProbGrad(c.bias[i])
		dSigma := db[i]*c.epsB[i] + l.KLWeight*(-1/c.sigmaB[i]-pg*c.epsB[i])
		g.biasMu[i] = db[i] - l.KLWeight*pg
		g.biasRho[i] = dSigma * sigmaGrad(l.BiasRho[i])
	}

	// Gradient with respect to the layer input, for the previous layer.
	kernel := mat.NewDense(l.In, l.Out, c.kernel)
	deltaIn := mat.NewDense(n, l.In, nil)
	deltaIn.Mul(deltaZ, kernel.T())
	return g, deltaIn
}
