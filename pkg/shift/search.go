package shift

import (
	"errors"
	"fmt"
	"math"

	"github.com/shaneisley/sigmashift/pkg/logging"
	"github.com/shaneisley/sigmashift/pkg/sampling"
	"go.uber.org/zap"
)

// MaxShift is the ceiling of the linear shift scan
const MaxShift = 100.0

var (
	// ErrSearchExhausted is returned when no shift up to MaxShift lifts the
	// boundary sigma to the target
	ErrSearchExhausted = errors.New("could not find shift")

	// ErrInsufficientSequence marks an evaluated sequence too short to
	// fill both stages
	ErrInsufficientSequence = errors.New("not enough sigmas generated after denoising")
)

// ConstructionError reports that sampling params could not be built for a
// candidate shift
type ConstructionError struct {
	Shift float64
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("could not build sampling params for shift %.2f: %v", e.Shift, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// ParamSource is the model-like collaborator. Params reads the model's own
// sampling params; WithShift derives a fresh value for a candidate shift
// without modifying the model.
type ParamSource interface {
	Params() (sampling.Params, error)
	WithShift(shift float64) (sampling.Params, error)
}

// Evaluator turns sampling params into a descending sigma sequence of
// length steps+1. It must not keep state between calls.
type Evaluator interface {
	Sigmas(p sampling.Params, scheduler string, steps int) ([]float64, error)
}

// StopReason records why the scan ended without an error
type StopReason string

const (
	StopAccepted             StopReason = "accepted"
	StopConstructionFailed   StopReason = "construction_failed"
	StopInsufficientSequence StopReason = "insufficient_sequence"
)

// Result is the outcome of a search. Full always has TotalSteps+1 entries;
// High and Low share the boundary sigma.
type Result struct {
	Shift      float64    `json:"shift"`
	RawShift   float64    `json:"raw_shift"`
	TotalSteps int        `json:"steps"`
	StepsHigh  int        `json:"steps_high"`
	StepsLow   int        `json:"steps_low"`
	Full       []float64  `json:"sigmas"`
	High       []float64  `json:"sigmas_high"`
	Low        []float64  `json:"sigmas_low"`
	Iterations int        `json:"iterations"`
	Stop       StopReason `json:"stop"`

	// Cause is set for non-fatal stops
	Cause error `json:"-"`
	// Original is the model's own params, which the search never replaces
	Original sampling.Params `json:"-"`
}

// BoundarySigma returns the sigma shared by both stages
func (r *Result) BoundarySigma() float64 {
	return r.Full[r.StepsHigh]
}

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the logger used for non-fatal stops and progress
func WithLogger(logger *logging.Logger) Option {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// Searcher scans shift values upward from zero for a model and evaluator
type Searcher struct {
	source    ParamSource
	evaluator Evaluator
	logger    *logging.Logger
}

// NewSearcher creates a searcher
func NewSearcher(source ParamSource, evaluator Evaluator, opts ...Option) *Searcher {
	s := &Searcher{
		source:    source,
		evaluator: evaluator,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search finds the smallest multiple of req.Interval at which the first
// low-stage sigma reaches req.Boundary, then splits the schedule there.
// The first crossing in increasing order wins; monotonicity is not assumed.
func (s *Searcher) Search(req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	total := req.TotalSteps()
	calculationSteps := req.CalculationSteps()

	original, err := s.source.Params()
	if err != nil {
		return nil, fmt.Errorf("failed to read model sampling params: %w", err)
	}

	s.logger.LogSearchStart(req.Scheduler, req.StepsHigh, req.StepsLow, calculationSteps, req.Boundary, req.Interval)

	best := make([]float64, total+1)
	finalShift := 0.0
	iterations := 0
	var stop StopReason
	var cause error

	// Candidates are exact multiples i*interval, never a running sum
	for i := 0; ; i++ {
		shift := float64(i) * req.Interval
		params, err := s.source.WithShift(shift)
		if err != nil {
			cause = &ConstructionError{Shift: shift, Err: err}
			stop = StopConstructionFailed
			s.logger.Warn("search ended early", zap.Error(cause))
			break
		}

		sigmas, err := s.evaluator.Sigmas(params, req.Scheduler, calculationSteps)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate %s at shift %.2f: %w", req.Scheduler, shift, err)
		}
		iterations++

		windowed := tail(sigmas, total+1)
		if len(windowed) < total+1 {
			cause = fmt.Errorf("%w: got %d, need %d", ErrInsufficientSequence, len(windowed), total+1)
			stop = StopInsufficientSequence
			s.logger.Warn("search ended early", zap.Error(cause), zap.Float64("shift", shift))
			break
		}

		best = windowed
		finalShift = shift
		boundarySigma := windowed[req.StepsHigh]
		s.logger.LogIteration(shift, boundarySigma)

		if boundarySigma >= req.Boundary {
			stop = StopAccepted
			break
		}

		if float64(i+1)*req.Interval > MaxShift {
			err := fmt.Errorf("%w: boundary %.3f not reached by shift %.2f with scheduler %s",
				ErrSearchExhausted, req.Boundary, MaxShift, req.Scheduler)
			s.logger.LogError("search", err, zap.Int("iterations", iterations))
			return nil, err
		}
	}

	high, low, err := Split(best, req.StepsHigh)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Shift:      RoundShift(finalShift),
		RawShift:   finalShift,
		TotalSteps: total,
		StepsHigh:  req.StepsHigh,
		StepsLow:   req.StepsLow,
		Full:       best,
		High:       high,
		Low:        low,
		Iterations: iterations,
		Stop:       stop,
		Cause:      cause,
		Original:   original,
	}
	s.logger.LogStop(string(stop), result.Shift, iterations)
	return result, nil
}

// Search is a convenience wrapper around NewSearcher(...).Search(req)
func Search(req Request, source ParamSource, evaluator Evaluator, opts ...Option) (*Result, error) {
	return NewSearcher(source, evaluator, opts...).Search(req)
}

// RoundShift rounds a shift to two decimals for reporting
func RoundShift(shift float64) float64 {
	return math.Round(shift*100) / 100
}

// tail copies the last n elements of seq, or all of it when shorter
func tail(seq []float64, n int) []float64 {
	if len(seq) > n {
		seq = seq[len(seq)-n:]
	}
	out := make([]float64, len(seq))
	copy(out, seq)
	return out
}
