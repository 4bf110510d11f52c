package bnn

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/hwfluid/POD-UQNN/norm"
)

// paramsState is the hyperparameter/bounds artifact: everything needed to
// rebuild the model structure, separate from the trained weight tensors.
type paramsState struct {
	Version   int
	Layers    []int
	LR        float64
	KLWeight  float64
	SigmaAlea float64
	Samples   int
	Prior     Prior
	Norm      norm.State
}

// weightsState is the trained-weights artifact. Layers travel through the
// Layer interface, so the concrete types must be gob-registered.
type weightsState struct {
	Version int
	Dense   []Layer
}

// Save persists the trained model as two artifacts: the weight graph at
// weightsPath and the hyperparameters plus normalization bounds at
// paramsPath. Both are needed to reload.
func (b *BayesianNeuralNetwork) Save(weightsPath, paramsPath string) error {
	pf, err := os.Create(paramsPath)
	if err != nil {
		return fmt.Errorf("creating params artifact: %w", err)
	}
	defer pf.Close()
	params := paramsState{
		Version:   1,
		Layers:    b.layers,
		LR:        b.lr,
		KLWeight:  b.klw,
		SigmaAlea: b.sigmaAlea,
		Samples:   b.samples,
		Prior:     b.prior,
		Norm:      b.nrm.State(),
	}
	if err := gob.NewEncoder(pf).Encode(params); err != nil {
		return fmt.Errorf("encoding params artifact: %w", err)
	}

	wf, err := os.Create(weightsPath)
	if err != nil {
		return fmt.Errorf("creating weights artifact: %w", err)
	}
	defer wf.Close()
	weights := weightsState{Version: 1}
	for _, l := range b.dense {
		weights.Dense = append(weights.Dense, l)
	}
	if err := gob.NewEncoder(wf).Encode(weights); err != nil {
		return fmt.Errorf("encoding weights artifact: %w", err)
	}
	return nil
}

// Load restores a model saved by Save. Either artifact missing yields
// ErrArtifactNotFound naming the absent path; no partial recovery is
// attempted.
func Load(weightsPath, paramsPath string) (*BayesianNeuralNetwork, error) {
	wf, err := os.Open(weightsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, weightsPath)
		}
		return nil, fmt.Errorf("opening weights artifact: %w", err)
	}
	defer wf.Close()

	pf, err := os.Open(paramsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, paramsPath)
		}
		return nil, fmt.Errorf("opening params artifact: %w", err)
	}
	defer pf.Close()

	var params paramsState
	if err := gob.NewDecoder(pf).Decode(&params); err != nil {
		return nil, fmt.Errorf("decoding params artifact %s: %w", paramsPath, err)
	}
	if params.Version != 1 {
		return nil, fmt.Errorf("unsupported params artifact version %d", params.Version)
	}

	b, err := New(params.Layers, params.LR, params.KLWeight,
		WithPrior(params.Prior),
		WithSigmaAlea(params.SigmaAlea),
		WithSamples(params.Samples),
		WithNorm(params.Norm.Mode),
	)
	if err != nil {
		return nil, err
	}
	if b.nrm, err = norm.FromState(params.Norm); err != nil {
		return nil, err
	}

	var weights weightsState
	if err := gob.NewDecoder(wf).Decode(&weights); err != nil {
		return nil, fmt.Errorf("decoding weights artifact %s: %w", weightsPath, err)
	}
	if weights.Version != 1 {
		return nil, fmt.Errorf("unsupported weights artifact version %d", weights.Version)
	}
	if len(weights.Dense) != len(b.dense) {
		return nil, fmt.Errorf("weights artifact %s has %d layers, structure needs %d",
			weightsPath, len(weights.Dense), len(b.dense))
	}
	for i, layer := range weights.Dense {
		dv, ok := layer.(*DenseVariational)
		if !ok {
			return nil, fmt.Errorf("weights artifact %s: layer %d has unknown type %T", weightsPath, i, layer)
		}
		if dv.In != b.dense[i].In || dv.Out != b.dense[i].Out {
			return nil, fmt.Errorf("weights artifact %s: layer %d is %dx%d, structure needs %dx%d",
				weightsPath, i, dv.In, dv.Out, b.dense[i].In, b.dense[i].Out)
		}
		b.dense[i] = dv
	}
	return b, nil
}
