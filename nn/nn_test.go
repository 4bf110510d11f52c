package nn

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/hwfluid/POD-UQNN/logger"
	"github.com/hwfluid/POD-UQNN/metrics"
	"github.com/hwfluid/POD-UQNN/norm"
)

// syntheticMap samples f(x1,x2) = [x1+x2, x1-x2, x1*x2] at n points.
func syntheticMap(n int, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 2, nil)
	Y := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		x1 := rng.Float64()*2 - 1
		x2 := rng.Float64()*2 - 1
		X.SetRow(i, []float64{x1, x2})
		Y.SetRow(i, []float64{x1 + x2, x1 - x2, x1 * x2})
	}
	return X, Y
}

func TestFitSyntheticRegression(t *testing.T) {
	const (
		epochs = 1000
		nTrain = 200
		nTest  = 50
		lr     = 0.01
		l2     = 1e-6
		seed   = 42
		maxMSE = 1e-2
	)

	rng := rand.New(rand.NewSource(7))
	XTrain, YTrain := syntheticMap(nTrain, rng)
	XTest, YTest := syntheticMap(nTest, rng)

	n, err := New([]int{2, 10, 10, 3}, lr, l2, norm.MeanStd, seed)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := n.Fit(XTrain, YTrain, epochs, logger.NewNop()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	pred, _, err := n.Predict(XTest)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if mse := metrics.MSE(YTest, pred); mse >= maxMSE {
		t.Errorf("held-out MSE = %g, want < %g", mse, maxMSE)
	}
}

func TestPredictDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	X, Y := syntheticMap(50, rng)

	n, err := New([]int{2, 8, 3}, 0.01, 0, norm.MeanStd, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := n.Fit(X, Y, 50, logger.NewNop()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	a, sig, err := n.Predict(X)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	b, _, err := n.Predict(X)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if !mat.Equal(a, b) {
		t.Error("Predict is not deterministic for fixed weights")
	}

	// Zero predictive spread for the deterministic core.
	r, c := sig.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if sig.At(i, j) != 0 {
				t.Fatalf("deterministic core reported nonzero sigma at (%d,%d)", i, j)
			}
		}
	}
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	const (
		h   = 1e-6
		tol = 1e-4
	)

	rng := rand.New(rand.NewSource(11))
	X, Y := syntheticMap(5, rng)

	n, err := New([]int{2, 4, 3}, 0.01, 1e-3, norm.None, 5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	Xn := n.nrm.Apply(X)

	_, grads := n.lossAndGradients(Xn, Y)
	views := n.paramViews()

	for g := range views {
		for k := range views[g] {
			orig := views[g][k]
			views[g][k] = orig + h
			lossUp, _ := n.lossAndGradients(Xn, Y)
			views[g][k] = orig - h
			lossDown, _ := n.lossAndGradients(Xn, Y)
			views[g][k] = orig

			numeric := (lossUp - lossDown) / (2 * h)
			if diff := math.Abs(numeric - grads[g][k]); diff > tol*(1+math.Abs(numeric)) {
				t.Errorf("gradient mismatch at group %d index %d: analytic %g, numeric %g", g, k, grads[g][k], numeric)
			}
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	X, Y := syntheticMap(40, rng)

	n, err := New([]int{2, 6, 3}, 0.01, 1e-6, norm.MeanStd, 2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := n.Fit(X, Y, 100, logger.NewNop()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model.gob")
	if err := n.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want, _, err := n.Predict(X)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	got, _, err := loaded.Predict(X)
	if err != nil {
		t.Fatalf("Predict on loaded model failed: %v", err)
	}
	if !mat.Equal(want, got) {
		t.Error("loaded model predictions differ from the original")
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.gob"))
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("got %v, want ErrArtifactNotFound", err)
	}
}

func TestShapeValidation(t *testing.T) {
	if _, err := New([]int{2}, 0.01, 0, norm.None, 1); err == nil {
		t.Error("New accepted a single-layer network")
	}
	if _, err := New([]int{2, 0, 3}, 0.01, 0, norm.None, 1); err == nil {
		t.Error("New accepted a zero-width layer")
	}

	n, err := New([]int{2, 4, 3}, 0.01, 0, norm.None, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	X := mat.NewDense(5, 3, make([]float64, 15))
	Y := mat.NewDense(5, 3, make([]float64, 15))
	if err := n.Fit(X, Y, 1, logger.NewNop()); err == nil {
		t.Error("Fit accepted mismatched input width")
	}
	if _, _, err := n.Predict(X); err == nil {
		t.Error("Predict accepted mismatched input width")
	}
}
