package norm

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestParseMode(t *testing.T) {
	for _, s := range []string{"none", "center", "minmax", "meanstd"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseMode("zscore"); err == nil {
		t.Error("ParseMode accepted an unknown mode")
	}
}

func TestMeanStdRoundTrip(t *testing.T) {
	const tol = 1e-12

	X := mat.NewDense(5, 2, []float64{
		1, 100,
		2, 200,
		3, 300,
		4, 400,
		5, 500,
	})

	n, err := New(MeanStd)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	n.SetBounds(X)
	out := n.Apply(X)

	rows, cols := out.Dims()
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, out)
		if m := stat.Mean(col, nil); math.Abs(m) > tol {
			t.Errorf("column %d mean after meanstd = %g, want 0", j, m)
		}
		if s := stat.PopStdDev(col, nil); math.Abs(s-1) > tol {
			t.Errorf("column %d stddev after meanstd = %g, want 1", j, s)
		}
	}
}

func TestApplyDeterministic(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		0, -1,
		1, 3,
		2, 5,
		3, 7,
	})

	for _, mode := range []Mode{Center, MinMax, MeanStd} {
		n, err := New(mode)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", mode, err)
		}
		n.SetBounds(X)

		// Same bounds, same raw input, twice: outputs must match exactly.
		a := n.Apply(X)
		b := n.Apply(X)
		if !mat.Equal(a, b) {
			t.Errorf("mode %s: Apply is not deterministic under fixed bounds", mode)
		}
	}
}

func TestApplyBeforeBoundsIsIdentity(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	n, err := New(MeanStd)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	out := n.Apply(X)
	if !mat.Equal(out, X) {
		t.Error("Apply before SetBounds must return the input unchanged")
	}
	// And it must be a copy, not an alias.
	out.Set(0, 0, 99)
	if X.At(0, 0) == 99 {
		t.Error("Apply aliased the input matrix")
	}
}

func TestBoundsFrozen(t *testing.T) {
	train := mat.NewDense(3, 1, []float64{0, 1, 2})
	test := mat.NewDense(3, 1, []float64{10, 20, 30})

	n, err := New(Center)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	n.SetBounds(train)

	// Bounds come from the training set: midpoint 1, so 10 maps to 9.
	out := n.Apply(test)
	if got := out.At(0, 0); math.Abs(got-9) > 1e-12 {
		t.Errorf("Apply(10) with train bounds = %g, want 9", got)
	}
}

func TestCenterShift(t *testing.T) {
	const tol = 1e-12

	X := mat.NewDense(3, 1, []float64{0, 5, 10})
	n, err := New(Center)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	n.SetBounds(X)
	out := n.Apply(X)

	// (x - min) - 0.5*(max - min): 0 -> -5, 5 -> 0, 10 -> 5.
	want := []float64{-5, 0, 5}
	for i, w := range want {
		if math.Abs(out.At(i, 0)-w) > tol {
			t.Errorf("center shift at %d = %g, want %g", i, out.At(i, 0), w)
		}
	}
}

func TestStateRoundTrip(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})

	n, err := New(MeanStd)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	n.SetBounds(X)

	restored, err := FromState(n.State())
	if err != nil {
		t.Fatalf("FromState failed: %v", err)
	}
	if !mat.Equal(n.Apply(X), restored.Apply(X)) {
		t.Error("restored normalizer disagrees with the original")
	}
}

func TestNoneMode(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	n, err := New(None)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	n.SetBounds(X)
	if !n.Fitted() {
		t.Error("SetBounds did not mark the none-mode normalizer as fitted")
	}
	if !mat.Equal(n.Apply(X), X) {
		t.Error("none mode must leave inputs unchanged")
	}
}
