package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger(freq int) (*TrainLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return &TrainLogger{log: zap.New(core), freq: freq}, logs
}

func TestEpochFrequencyGating(t *testing.T) {
	const freq = 3

	tl, logs := observedLogger(freq)
	tl.LogTrainStart()
	for e := 0; e < 10; e++ {
		tl.LogTrainEpoch(e, float64(e))
	}
	tl.LogTrainEnd(10, 0.5)

	// start + epochs 0,3,6,9 + end.
	if got := logs.Len(); got != 6 {
		t.Errorf("logged %d entries, want 6", got)
	}
}

func TestErrorFnEvaluatedOnLoggedEpochsOnly(t *testing.T) {
	const freq = 5

	calls := 0
	tl, _ := observedLogger(freq)
	tl.SetErrorFn(func() float64 {
		calls++
		return 0.1
	})

	for e := 0; e < 20; e++ {
		tl.LogTrainEpoch(e, 1.0)
	}

	// Epochs 0, 5, 10, 15.
	if calls != 4 {
		t.Errorf("error callback ran %d times, want 4", calls)
	}
}

func TestEpochFieldsIncludeValidationError(t *testing.T) {
	tl, logs := observedLogger(1)
	tl.SetErrorFn(func() float64 { return 0.25 })
	tl.LogTrainEpoch(0, 2.0)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["loss"] != 2.0 {
		t.Errorf("loss field = %v, want 2.0", fields["loss"])
	}
	if fields["val_error"] != 0.25 {
		t.Errorf("val_error field = %v, want 0.25", fields["val_error"])
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	tl := NewNop()
	tl.LogTrainStart()
	tl.LogTrainEpoch(0, 1.0)
	tl.LogTrainEnd(1, 0)
}
