package bnn

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/hwfluid/POD-UQNN/logger"
	"github.com/hwfluid/POD-UQNN/norm"
)

func benchmarkData(n, in, out int) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(42))
	X := mat.NewDense(n, in, nil)
	Y := mat.NewDense(n, out, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < in; j++ {
			X.Set(i, j, rng.NormFloat64())
		}
		for j := 0; j < out; j++ {
			Y.Set(i, j, rng.NormFloat64())
		}
	}
	return X, Y
}

// BenchmarkFitEpoch measures one stochastic training epoch, including the
// KL backward path.
func BenchmarkFitEpoch(b *testing.B) {
	X, Y := benchmarkData(200, 2, 8)
	m, err := New([]int{2, 40, 40, 8}, 0.01, 0.005, WithSeed(1), WithNorm(norm.MeanStd))
	if err != nil {
		b.Fatalf("New failed: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := m.Fit(X, Y, 1, logger.NewNop()); err != nil {
			b.Fatalf("Fit failed: %v", err)
		}
	}
}

// BenchmarkPredictSamples measures the concurrent Monte Carlo pass at the
// default sample count.
func BenchmarkPredictSamples(b *testing.B) {
	X, Y := benchmarkData(200, 2, 8)
	m, err := New([]int{2, 40, 40, 8}, 0.01, 0.005, WithSeed(1), WithNorm(norm.MeanStd))
	if err != nil {
		b.Fatalf("New failed: %v", err)
	}
	if err := m.Fit(X, Y, 1, logger.NewNop()); err != nil {
		b.Fatalf("Fit failed: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, _, err := m.PredictSamples(X, DefaultSamples); err != nil {
			b.Fatalf("PredictSamples failed: %v", err)
		}
	}
}
