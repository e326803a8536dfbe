package schedulers

import (
	"errors"
	"fmt"
	"math"

	"github.com/shaneisley/sigmashift/pkg/sampling"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrUnknownScheduler is returned for a name that is not in the catalog
var ErrUnknownScheduler = errors.New("unknown scheduler")

const (
	zeroTolerance = 0.00001

	betaAlpha = 0.6
	betaBeta  = 0.6

	karrasRho = 7.0

	linearQuadraticThreshold = 0.025
)

// Func computes a descending sigma sequence ending in 0 for a step count
type Func func(p sampling.Params, steps int) []float64

// Entry describes one scheduler in the catalog
type Entry struct {
	Name string
	// ShiftSensitive is false for families whose sigmas barely move when
	// the model shift changes; searching over them is meaningless.
	ShiftSensitive bool
	Func           Func
}

var catalog = []Entry{
	{Name: "simple", ShiftSensitive: true, Func: Simple},
	{Name: "sgm_uniform", ShiftSensitive: true, Func: SGMUniform},
	{Name: "karras", ShiftSensitive: false, Func: Karras},
	{Name: "exponential", ShiftSensitive: false, Func: Exponential},
	{Name: "ddim_uniform", ShiftSensitive: true, Func: DDIMUniform},
	{Name: "beta", ShiftSensitive: true, Func: Beta},
	{Name: "normal", ShiftSensitive: true, Func: Normal},
	{Name: "linear_quadratic", ShiftSensitive: false, Func: LinearQuadratic},
	{Name: "kl_optimal", ShiftSensitive: false, Func: KLOptimal},
}

// All returns every catalog entry in presentation order
func All() []Entry {
	out := make([]Entry, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns all scheduler names in presentation order
func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, e := range catalog {
		names = append(names, e.Name)
	}
	return names
}

// ShiftSensitiveNames returns the schedulers that can be searched over
func ShiftSensitiveNames() []string {
	var names []string
	for _, e := range catalog {
		if e.ShiftSensitive {
			names = append(names, e.Name)
		}
	}
	return names
}

// Lookup finds a catalog entry by name
func Lookup(name string) (Entry, error) {
	for _, e := range catalog {
		if e.Name == name {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrUnknownScheduler, name)
}

// Calculate returns the sigma sequence for a scheduler at the given params
func Calculate(p sampling.Params, name string, steps int) ([]float64, error) {
	entry, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if steps < 1 {
		return nil, fmt.Errorf("steps must be at least 1, got %d", steps)
	}
	if !p.Valid() {
		return nil, fmt.Errorf("sampling params were not initialized")
	}
	return entry.Func(p, steps), nil
}

// Evaluator computes sigma sequences from explicit sampling params. It
// keeps no state between calls.
type Evaluator struct{}

// NewEvaluator returns the catalog-backed evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Sigmas implements the search's evaluator contract
func (e *Evaluator) Sigmas(p sampling.Params, scheduler string, steps int) ([]float64, error) {
	return Calculate(p, scheduler, steps)
}

// Simple walks the sigma table from the top in even strides
func Simple(p sampling.Params, steps int) []float64 {
	stride := float64(p.Len()) / float64(steps)
	sigs := make([]float64, 0, steps+1)
	for x := 0; x < steps; x++ {
		sigs = append(sigs, p.At(-(1 + int(float64(x)*stride))))
	}
	return append(sigs, 0.0)
}

// DDIMUniform samples the table at a fixed integer stride from the bottom
func DDIMUniform(p sampling.Params, steps int) []float64 {
	var sigs []float64
	x := 1
	if math.Abs(p.At(x)) <= zeroTolerance {
		steps++
	} else {
		sigs = append(sigs, 0.0)
	}

	stride := p.Len() / steps
	if stride < 1 {
		stride = 1
	}
	for ; x < p.Len(); x += stride {
		sigs = append(sigs, p.At(x))
	}

	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// Normal spaces timesteps linearly between the sigma extremes
func Normal(p sampling.Params, steps int) []float64 {
	return normal(p, steps, false)
}

// SGMUniform is Normal without the trailing timestep
func SGMUniform(p sampling.Params, steps int) []float64 {
	return normal(p, steps, true)
}

func normal(p sampling.Params, steps int, sgm bool) []float64 {
	start := p.Timestep(p.SigmaMax())
	end := p.Timestep(p.SigmaMin())
	appendZero := true

	var timesteps []float64
	if sgm {
		timesteps = linspace(start, end, steps+1)[:steps]
	} else {
		if math.Abs(p.Sigma(end)) <= zeroTolerance {
			steps++
			appendZero = false
		}
		timesteps = linspace(start, end, steps)
	}

	sigs := make([]float64, 0, len(timesteps)+1)
	for _, ts := range timesteps {
		sigs = append(sigs, p.Sigma(ts))
	}
	if appendZero {
		sigs = append(sigs, 0.0)
	}
	return sigs
}

// Beta places timesteps at quantiles of a Beta(0.6, 0.6) distribution.
// Adjacent duplicate timesteps are dropped, so the result can be shorter
// than steps+1.
func Beta(p sampling.Params, steps int) []float64 {
	dist := distuv.Beta{Alpha: betaAlpha, Beta: betaBeta}
	total := float64(p.Len() - 1)

	sigs := make([]float64, 0, steps+1)
	last := -1.0
	for i := 0; i < steps; i++ {
		q := 1 - float64(i)/float64(steps)
		t := math.RoundToEven(betaQuantile(dist, q) * total)
		if t != last {
			sigs = append(sigs, p.At(int(t)))
		}
		last = t
	}
	return append(sigs, 0.0)
}

func betaQuantile(dist distuv.Beta, q float64) float64 {
	if q <= 0 {
		return 0
	}
	if q >= 1 {
		return 1
	}
	return dist.Quantile(q)
}

// Karras uses the rho-warped spacing between sigma_min and sigma_max
func Karras(p sampling.Params, steps int) []float64 {
	ramp := linspace(0, 1, steps)
	minInv := math.Pow(p.SigmaMin(), 1/karrasRho)
	maxInv := math.Pow(p.SigmaMax(), 1/karrasRho)

	sigs := make([]float64, 0, steps+1)
	for _, r := range ramp {
		sigs = append(sigs, math.Pow(maxInv+r*(minInv-maxInv), karrasRho))
	}
	return append(sigs, 0.0)
}

// Exponential spaces sigmas evenly in log space
func Exponential(p sampling.Params, steps int) []float64 {
	logs := linspace(math.Log(p.SigmaMax()), math.Log(p.SigmaMin()), steps)
	sigs := make([]float64, 0, steps+1)
	for _, l := range logs {
		sigs = append(sigs, math.Exp(l))
	}
	return append(sigs, 0.0)
}

// LinearQuadratic is linear for the first half of the steps and quadratic after
func LinearQuadratic(p sampling.Params, steps int) []float64 {
	if steps == 1 {
		return []float64{p.SigmaMax(), 0.0}
	}

	linearSteps := steps / 2
	schedule := make([]float64, 0, steps+1)
	for i := 0; i < linearSteps; i++ {
		schedule = append(schedule, float64(i)*linearQuadraticThreshold/float64(linearSteps))
	}

	stepDiff := float64(linearSteps) - linearQuadraticThreshold*float64(steps)
	quadraticSteps := float64(steps - linearSteps)
	quadCoef := stepDiff / (float64(linearSteps) * quadraticSteps * quadraticSteps)
	linCoef := linearQuadraticThreshold/float64(linearSteps) - 2*stepDiff/(quadraticSteps*quadraticSteps)
	constant := quadCoef * float64(linearSteps*linearSteps)
	for i := linearSteps; i < steps; i++ {
		fi := float64(i)
		schedule = append(schedule, quadCoef*fi*fi+linCoef*fi+constant)
	}
	schedule = append(schedule, 1.0)

	sigmaMax := p.SigmaMax()
	for i, x := range schedule {
		schedule[i] = (1.0 - x) * sigmaMax
	}
	return schedule
}

// KLOptimal interpolates in arctangent space between the sigma extremes
func KLOptimal(p sampling.Params, steps int) []float64 {
	if steps == 1 {
		return []float64{p.SigmaMax(), 0.0}
	}

	atanMin := math.Atan(p.SigmaMin())
	atanMax := math.Atan(p.SigmaMax())
	sigs := make([]float64, steps+1)
	for i := 0; i < steps; i++ {
		adj := float64(i) / float64(steps-1)
		sigs[i] = math.Tan(adj*atanMin + (1-adj)*atanMax)
	}
	return sigs
}

// linspace returns n evenly spaced values from start to end inclusive
func linspace(start, end float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{start}
	}
	return floats.Span(make([]float64, n), start, end)
}
