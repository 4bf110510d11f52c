package optim

import (
	"math"
	"testing"
)

func TestAdamMinimizesQuadratic(t *testing.T) {
	const (
		steps = 2000
		tol   = 1e-3
	)

	// Minimize f(x) = sum (x_i - target_i)^2.
	params := []float64{5, -3, 0.5}
	target := []float64{1, 2, -4}

	a := NewAdam(AdamConfig{LR: 0.05})
	grads := make([]float64, len(params))
	for s := 0; s < steps; s++ {
		for i := range params {
			grads[i] = 2 * (params[i] - target[i])
		}
		a.Step([][]float64{params}, [][]float64{grads})
	}

	for i := range params {
		if diff := math.Abs(params[i] - target[i]); diff > tol {
			t.Errorf("param %d = %g, want %g within %g", i, params[i], target[i], tol)
		}
	}
}

func TestAdamDefaults(t *testing.T) {
	a := NewAdam(AdamConfig{})
	if a.LR() != 0.001 {
		t.Errorf("default LR = %g, want 0.001", a.LR())
	}
	a.SetLR(0.01)
	if a.LR() != 0.01 {
		t.Errorf("SetLR did not take: %g", a.LR())
	}
}

func TestAdamFirstStepDirection(t *testing.T) {
	// With bias correction, the very first step has magnitude close to lr
	// regardless of the gradient scale.
	const lr = 0.1

	params := []float64{0}
	a := NewAdam(AdamConfig{LR: lr})
	a.Step([][]float64{params}, [][]float64{{1e6}})

	if diff := math.Abs(params[0] + lr); diff > 1e-6 {
		t.Errorf("first step moved to %g, want about %g", params[0], -lr)
	}
}

func TestAdamMultipleParamGroups(t *testing.T) {
	// Moment state is keyed by position, so two groups of different sizes
	// must update independently.
	p1 := []float64{1, 1}
	p2 := []float64{-1}
	a := NewAdam(AdamConfig{LR: 0.1})
	for s := 0; s < 500; s++ {
		g1 := []float64{2 * p1[0], 2 * p1[1]}
		g2 := []float64{2 * p2[0]}
		a.Step([][]float64{p1, p2}, [][]float64{g1, g2})
	}
	for i, v := range append(append([]float64{}, p1...), p2...) {
		if math.Abs(v) > 1e-3 {
			t.Errorf("param %d did not converge to 0: %g", i, v)
		}
	}
}
