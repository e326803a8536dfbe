package sampling

import (
	"fmt"
	"math"
)

const (
	// DefaultMultiplier maps a unit sigma onto the model's timestep range
	DefaultMultiplier = 1000.0
	// DefaultTimesteps is the length of the discrete sigma table
	DefaultTimesteps = 1000
)

// Params describes discrete-flow model sampling for a single shift value.
// A Params value is immutable once built; use NewParams or Model.WithShift.
type Params struct {
	Shift      float64 `json:"shift" yaml:"shift"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
	Timesteps  int     `json:"timesteps" yaml:"timesteps"`

	table []float64
}

// NewParams builds sampling parameters from a model configuration with the
// given shift substituted for the configured one
func NewParams(cfg ModelConfig, shift float64) (Params, error) {
	if math.IsNaN(shift) || math.IsInf(shift, 0) {
		return Params{}, fmt.Errorf("shift must be finite, got %v", shift)
	}
	if shift < 0 {
		return Params{}, fmt.Errorf("shift must be non-negative, got %v", shift)
	}
	if cfg.Timesteps < 2 {
		return Params{}, fmt.Errorf("model %q: timesteps must be at least 2, got %d", cfg.Name, cfg.Timesteps)
	}
	if !(cfg.Multiplier > 0) {
		return Params{}, fmt.Errorf("model %q: multiplier must be positive, got %v", cfg.Name, cfg.Multiplier)
	}

	p := Params{
		Shift:      shift,
		Multiplier: cfg.Multiplier,
		Timesteps:  cfg.Timesteps,
	}
	p.table = make([]float64, p.Timesteps)
	for i := range p.table {
		t := float64(i+1) / float64(p.Timesteps)
		p.table[i] = p.Sigma(t * p.Multiplier)
	}
	return p, nil
}

// Sigma returns the noise level for a model timestep
func (p Params) Sigma(timestep float64) float64 {
	return timeSNRShift(p.Shift, timestep/p.Multiplier)
}

// Timestep is the inverse mapping of Sigma's time argument
func (p Params) Timestep(sigma float64) float64 {
	return sigma * p.Multiplier
}

// PercentToSigma converts a sampling progress fraction into a sigma
func (p Params) PercentToSigma(percent float64) float64 {
	if percent <= 0 {
		return 1.0
	}
	if percent >= 1 {
		return 0.0
	}
	return timeSNRShift(p.Shift, 1.0-percent)
}

// Table returns a copy of the ascending discrete sigma table
func (p Params) Table() []float64 {
	out := make([]float64, len(p.table))
	copy(out, p.table)
	return out
}

// Len returns the number of entries in the sigma table
func (p Params) Len() int {
	return len(p.table)
}

// At returns table entry i; negative indexes count from the end
func (p Params) At(i int) float64 {
	if i < 0 {
		i += len(p.table)
	}
	return p.table[i]
}

// SigmaMin is the smallest sigma in the table
func (p Params) SigmaMin() float64 {
	return p.table[0]
}

// SigmaMax is the largest sigma in the table
func (p Params) SigmaMax() float64 {
	return p.table[len(p.table)-1]
}

// Valid reports whether the params were built by NewParams
func (p Params) Valid() bool {
	return len(p.table) > 0
}

// timeSNRShift applies the flow-matching shift to t in [0, 1].
// t >= 1 always maps to 1 so that shift 0 does not produce 0/0.
func timeSNRShift(alpha, t float64) float64 {
	if t >= 1 {
		return 1.0
	}
	if alpha == 1.0 {
		return t
	}
	return alpha * t / (1 + (alpha-1)*t)
}
