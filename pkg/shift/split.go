package shift

import "fmt"

// Split divides a schedule at stepsHigh into a high-noise stage
// full[0..stepsHigh] and a low-noise stage full[stepsHigh..], both
// inclusive. The stages share full[stepsHigh] and do not alias full.
func Split(full []float64, stepsHigh int) (high, low []float64, err error) {
	if stepsHigh < 0 || stepsHigh >= len(full) {
		return nil, nil, fmt.Errorf("split index %d out of range for %d sigmas", stepsHigh, len(full))
	}

	high = make([]float64, stepsHigh+1)
	copy(high, full[:stepsHigh+1])
	low = make([]float64, len(full)-stepsHigh)
	copy(low, full[stepsHigh:])
	return high, low, nil
}
