// Package optim implements first-order gradient optimizers over raw
// parameter slices. Both regression cores flatten their weight tensors into
// []float64 views and hand matching gradient slices to the optimizer, so one
// optimizer instance owns the moment state for one model exclusively.
package optim

import "math"

// Adam is the Adam optimizer (Kingma & Ba, 2014): per-parameter adaptive
// learning rates from exponential moving averages of the gradient and its
// square, with bias correction for the zero initialization of the moments.
//
// Update rule:
//
//	m_t = beta1*m_{t-1} + (1-beta1)*g
//	v_t = beta2*v_{t-1} + (1-beta2)*g^2
//	param -= lr * (m_t/(1-beta1^t)) / (sqrt(v_t/(1-beta2^t)) + eps)
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int
	m, v  [][]float64
}

// AdamConfig holds optimizer hyperparameters. Zero fields fall back to the
// usual defaults (lr 0.001, betas 0.9/0.999, eps 1e-8).
type AdamConfig struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
}

// NewAdam creates an Adam optimizer. Moment buffers are allocated lazily on
// the first Step, sized to the parameter slices seen there; the parameter
// layout must stay fixed across steps.
func NewAdam(cfg AdamConfig) *Adam {
	if cfg.LR == 0 {
		cfg.LR = 0.001
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	return &Adam{lr: cfg.LR, beta1: cfg.Beta1, beta2: cfg.Beta2, eps: cfg.Eps}
}

// Step applies one Adam update in place. params[i] and grads[i] must have
// the same length; params are typically raw views into gonum matrices so the
// update mutates the model weights directly.
func (a *Adam) Step(params, grads [][]float64) {
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, len(p))
			a.v[i] = make([]float64, len(p))
		}
	}

	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		m := a.m[i]
		v := a.v[i]
		for k := range p {
			m[k] = a.beta1*m[k] + (1-a.beta1)*g[k]
			v[k] = a.beta2*v[k] + (1-a.beta2)*g[k]*g[k]
			p[k] -= a.lr * (m[k] / bc1) / (math.Sqrt(v[k]/bc2) + a.eps)
		}
	}
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.lr }

// SetLR updates the learning rate, for schedules driven by the caller.
func (a *Adam) SetLR(lr float64) { a.lr = lr }
