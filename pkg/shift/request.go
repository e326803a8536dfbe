package shift

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shaneisley/sigmashift/pkg/schedulers"
)

// Input domains of a search request
const (
	MinSteps    = 1
	MaxSteps    = 99
	MinBoundary = 0.0
	MaxBoundary = 0.999
	MinInterval = 0.01
	MaxInterval = 1.0
	MinDenoise  = 0.01
	MaxDenoise  = 1.0

	DefaultScheduler = "simple"
	DefaultSteps     = 4
	DefaultBoundary  = 0.875
	DefaultInterval  = 0.01
	DefaultDenoise   = 1.0
)

// Request holds the inputs of one shift search. It is a value type and is
// never modified by the search.
type Request struct {
	Scheduler string  `json:"scheduler"`
	StepsHigh int     `json:"steps_high"`
	StepsLow  int     `json:"steps_low"`
	Denoise   float64 `json:"denoise"`
	Boundary  float64 `json:"boundary"`
	Interval  float64 `json:"interval"`
}

// DefaultRequest returns a request populated with the documented defaults
func DefaultRequest() Request {
	return Request{
		Scheduler: DefaultScheduler,
		StepsHigh: DefaultSteps,
		StepsLow:  DefaultSteps,
		Denoise:   DefaultDenoise,
		Boundary:  DefaultBoundary,
		Interval:  DefaultInterval,
	}
}

// TotalSteps is the number of steps across both stages
func (r Request) TotalSteps() int {
	return r.StepsHigh + r.StepsLow
}

// CalculationSteps is the step count requested from the evaluator. Partial
// denoising inflates it so the usable tail keeps full resolution.
func (r Request) CalculationSteps() int {
	total := r.TotalSteps()
	if r.Denoise >= 1.0 {
		return total
	}
	return int(math.Floor(float64(total) / r.Denoise))
}

// ValidationError describes one out-of-domain request field
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// ValidationErrors collects every problem found in a request
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
}

// Validate rejects requests outside the documented input domains
func (r Request) Validate() error {
	var errs ValidationErrors

	entry, err := schedulers.Lookup(r.Scheduler)
	switch {
	case errors.Is(err, schedulers.ErrUnknownScheduler):
		errs = append(errs, ValidationError{
			Field:   "scheduler",
			Value:   r.Scheduler,
			Message: fmt.Sprintf("must be one of %s", strings.Join(schedulers.ShiftSensitiveNames(), ", ")),
		})
	case !entry.ShiftSensitive:
		errs = append(errs, ValidationError{
			Field:   "scheduler",
			Value:   r.Scheduler,
			Message: "is not affected by shift and cannot be searched",
		})
	}

	if r.StepsHigh < MinSteps || r.StepsHigh > MaxSteps {
		errs = append(errs, ValidationError{
			Field:   "steps_high",
			Value:   r.StepsHigh,
			Message: fmt.Sprintf("must be between %d and %d", MinSteps, MaxSteps),
		})
	}
	if r.StepsLow < MinSteps || r.StepsLow > MaxSteps {
		errs = append(errs, ValidationError{
			Field:   "steps_low",
			Value:   r.StepsLow,
			Message: fmt.Sprintf("must be between %d and %d", MinSteps, MaxSteps),
		})
	}

	if !(r.Boundary >= MinBoundary && r.Boundary <= MaxBoundary) {
		errs = append(errs, ValidationError{
			Field:   "boundary",
			Value:   r.Boundary,
			Message: fmt.Sprintf("must be between %g and %g", MinBoundary, MaxBoundary),
		})
	}

	if !(r.Interval >= MinInterval && r.Interval <= MaxInterval) {
		errs = append(errs, ValidationError{
			Field:   "interval",
			Value:   r.Interval,
			Message: fmt.Sprintf("must be between %g and %g", MinInterval, MaxInterval),
		})
	}

	if !(r.Denoise >= MinDenoise && r.Denoise <= MaxDenoise) {
		errs = append(errs, ValidationError{
			Field:   "denoise",
			Value:   r.Denoise,
			Message: fmt.Sprintf("must be between %g and %g", MinDenoise, MaxDenoise),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
