// Package norm provides input normalization with bounds frozen at fit time.
//
// Bounds are computed once from the training inputs via SetBounds and reused
// verbatim on every subsequent Apply call, never recomputed from prediction
// data. Applying before bounds are set is silently tolerated and returns a
// copy of the input unchanged; this permissiveness is kept for compatibility
// with existing pipelines and is easy to trip over, so callers should fit
// before predicting.
package norm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Mode selects the normalization strategy. The string values match the
// hyperparameter file surface.
type Mode string

const (
	// None leaves inputs untouched.
	None Mode = "none"
	// Center shifts inputs by the midpoint of their per-column min/max range.
	Center Mode = "center"
	// MinMax shifts inputs into a range centred on zero using min/max bounds.
	MinMax Mode = "minmax"
	// MeanStd z-scores inputs using per-column mean and standard deviation.
	MeanStd Mode = "meanstd"
)

// ParseMode validates a mode string from a configuration surface.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case None, Center, MinMax, MeanStd:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown normalization mode %q", s)
}

// Normalizer applies one of the supported normalization modes with stored
// bounds. The zero value is not usable; construct with New or FromState.
type Normalizer struct {
	mode   Mode
	lb, ub []float64
	fitted bool
}

// State is the serializable form of a Normalizer, embedded in model
// parameter artifacts.
type State struct {
	Mode   Mode
	Lb, Ub []float64
	Fitted bool
}

// New creates a Normalizer for the given mode.
func New(mode Mode) (*Normalizer, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	return &Normalizer{mode: mode}, nil
}

// FromState restores a Normalizer from a previously captured State.
func FromState(s State) (*Normalizer, error) {
	n, err := New(s.Mode)
	if err != nil {
		return nil, err
	}
	n.lb = append([]float64(nil), s.Lb...)
	n.ub = append([]float64(nil), s.Ub...)
	n.fitted = s.Fitted
	return n, nil
}

// State captures the Normalizer for serialization.
func (n *Normalizer) State() State {
	return State{
		Mode:   n.mode,
		Lb:     append([]float64(nil), n.lb...),
		Ub:     append([]float64(nil), n.ub...),
		Fitted: n.fitted,
	}
}

// Mode returns the configured normalization mode.
func (n *Normalizer) Mode() Mode { return n.mode }

// Fitted reports whether bounds have been set.
func (n *Normalizer) Fitted() bool { return n.fitted }

// SetBounds computes and freezes normalization bounds from X, which must be
// the training inputs (rows are samples). For Center and MinMax the bounds
// are per-column min and max; for MeanStd they are per-column mean and
// population standard deviation. None requires no bounds.
func (n *Normalizer) SetBounds(X *mat.Dense) {
	if n.mode == None {
		n.fitted = true
		return
	}

	rows, cols := X.Dims()
	n.lb = make([]float64, cols)
	n.ub = make([]float64, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, X)
		switch n.mode {
		case Center, MinMax:
			lo, hi := col[0], col[0]
			for _, x := range col[1:] {
				if x < lo {
					lo = x
				}
				if x > hi {
					hi = x
				}
			}
			n.lb[j], n.ub[j] = lo, hi
		case MeanStd:
			n.lb[j] = stat.Mean(col, nil)
			n.ub[j] = stat.PopStdDev(col, nil)
		}
	}
	n.fitted = true
}

// Apply normalizes X using the stored bounds and returns a new matrix; X is
// never modified. Without bounds set it returns an unchanged copy.
func (n *Normalizer) Apply(X *mat.Dense) *mat.Dense {
	rows, cols := X.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Copy(X)
	if !n.fitted || n.mode == None {
		return out
	}

	for j := 0; j < cols; j++ {
		lb, ub := n.lb[j], n.ub[j]
		for i := 0; i < rows; i++ {
			x := out.At(i, j)
			switch n.mode {
			case Center, MinMax:
				out.Set(i, j, (x-lb)-0.5*(ub-lb))
			case MeanStd:
				out.Set(i, j, (x-lb)/ub)
			}
		}
	}
	return out
}
