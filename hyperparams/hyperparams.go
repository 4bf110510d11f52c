// Package hyperparams defines the configuration surface of a surrogate
// modeling run and loads it from YAML files.
package hyperparams

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hwfluid/POD-UQNN/norm"
)

// HP holds the recognized hyperparameters. Field names mirror the YAML keys
// used by experiment configuration files.
type HP struct {
	// HLayers lists the hidden layer widths of the regression core.
	HLayers []int `yaml:"h_layers"`
	// Epochs is the training epoch count.
	Epochs int `yaml:"epochs"`
	// LR is the Adam learning rate.
	LR float64 `yaml:"lr"`
	// Lambda is the L2 penalty weight of the deterministic core.
	Lambda float64 `yaml:"lambda"`
	// KLWeight scales the variational KL penalty of the Bayesian core.
	// Zero means 1/nTrain, resolved when the training set size is known.
	KLWeight float64 `yaml:"klw"`
	// SigmaAlea is the fixed aleatoric noise scale of the Bayesian core.
	SigmaAlea float64 `yaml:"sigma_alea"`
	// Norm selects the input normalization mode.
	Norm string `yaml:"norm"`
	// LogFrequency is the epoch stride of training progress reports.
	LogFrequency int `yaml:"log_frequency"`
	// Samples is the Monte Carlo sample count for Bayesian prediction.
	Samples int `yaml:"samples"`
	// Eps is the POD truncation tolerance (relative energy discarded).
	Eps float64 `yaml:"eps"`
	// NL forces a fixed POD mode count when positive, overriding Eps.
	NL int `yaml:"n_l"`
	// TrainRatio is the train/validation split fraction.
	TrainRatio float64 `yaml:"train_ratio"`
	// Seed feeds every random generator of the run.
	Seed int64 `yaml:"seed"`
}

// Default returns the baseline hyperparameters shared by the examples.
func Default() HP {
	return HP{
		HLayers:      []int{40, 60, 60, 40},
		Epochs:       20000,
		LR:           0.01,
		Lambda:       1e-6,
		KLWeight:     0, // resolved to 1/nTrain at training time
		SigmaAlea:    0.01,
		Norm:         string(norm.MeanStd),
		LogFrequency: 1000,
		Samples:      200,
		Eps:          1e-10,
		TrainRatio:   0.7,
		Seed:         1111,
	}
}

// Load reads hyperparameters from a YAML file, overlaying the defaults.
// Unknown normalization modes are rejected here rather than deep in a
// training run.
func Load(path string) (HP, error) {
	hp := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return hp, fmt.Errorf("reading hyperparameters: %w", err)
	}
	if err := yaml.Unmarshal(data, &hp); err != nil {
		return hp, fmt.Errorf("parsing hyperparameters %s: %w", path, err)
	}
	if err := hp.Validate(); err != nil {
		return hp, fmt.Errorf("invalid hyperparameters %s: %w", path, err)
	}
	return hp, nil
}

// Validate checks cross-field consistency of the hyperparameters.
func (hp HP) Validate() error {
	if _, err := norm.ParseMode(hp.Norm); err != nil {
		return err
	}
	if hp.Eps < 0 || hp.Eps >= 1 {
		return fmt.Errorf("eps must be in [0, 1), got %g", hp.Eps)
	}
	if hp.TrainRatio <= 0 || hp.TrainRatio >= 1 {
		return fmt.Errorf("train_ratio must be in (0, 1), got %g", hp.TrainRatio)
	}
	if hp.Epochs < 0 {
		return fmt.Errorf("epochs must be non-negative, got %d", hp.Epochs)
	}
	return nil
}

// NormMode returns the parsed normalization mode. Validate must have
// accepted the hyperparameters first.
func (hp HP) NormMode() norm.Mode {
	return norm.Mode(hp.Norm)
}
