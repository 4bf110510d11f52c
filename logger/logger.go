// Package logger implements the training progress surface: start/epoch/end
// events plus an injected validation error callback evaluated periodically
// against held-out data. It is the only externally observable reporting
// channel of a training run.
package logger

import (
	"time"

	"go.uber.org/zap"
)

// ErrorFn computes the current held-out error of a model under training.
// It is invoked at most once per logged epoch.
type ErrorFn func() float64

// TrainLogger reports training progress through a structured zap logger.
type TrainLogger struct {
	log     *zap.Logger
	freq    int
	errorFn ErrorFn
	start   time.Time
}

// New creates a TrainLogger reporting every freq epochs. A freq below 1
// logs every epoch.
func New(freq int) (*TrainLogger, error) {
	zl, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	if freq < 1 {
		freq = 1
	}
	return &TrainLogger{log: zl.Named("train"), freq: freq}, nil
}

// NewNop creates a TrainLogger that swallows all output, for tests and
// benchmarks.
func NewNop() *TrainLogger {
	return &TrainLogger{log: zap.NewNop(), freq: 1}
}

// SetErrorFn injects the held-out error callback. A nil callback disables
// validation reporting.
func (l *TrainLogger) SetErrorFn(fn ErrorFn) {
	l.errorFn = fn
}

// LogTrainStart marks the beginning of a training run.
func (l *TrainLogger) LogTrainStart() {
	l.start = time.Now()
	l.log.Info("training started", zap.Int("log_frequency", l.freq))
}

// LogTrainEpoch reports the loss for one epoch. Only epochs on the
// configured frequency grid are emitted; the validation callback, when set,
// is evaluated for those epochs only. Loss values are passed through as-is,
// including NaN or Inf from a diverged run.
func (l *TrainLogger) LogTrainEpoch(epoch int, loss float64) {
	if epoch%l.freq != 0 {
		return
	}
	fields := []zap.Field{
		zap.Int("epoch", epoch),
		zap.Float64("loss", loss),
	}
	if l.errorFn != nil {
		fields = append(fields, zap.Float64("val_error", l.errorFn()))
	}
	l.log.Info("epoch", fields...)
}

// LogTrainEnd marks the completion of a training run after the given number
// of epochs, reporting the final held-out error.
func (l *TrainLogger) LogTrainEnd(epochs int, finalError float64) {
	l.log.Info("training finished",
		zap.Int("epochs", epochs),
		zap.Float64("final_error", finalError),
		zap.Duration("elapsed", time.Since(l.start)),
	)
}
