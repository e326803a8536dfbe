package shift

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_SharedBoundary(t *testing.T) {
	tests := []struct {
		name      string
		full      []float64
		stepsHigh int
		wantHigh  []float64
		wantLow   []float64
	}{
		{
			name:      "even split",
			full:      []float64{1.0, 0.9, 0.5, 0.2, 0.0},
			stepsHigh: 2,
			wantHigh:  []float64{1.0, 0.9, 0.5},
			wantLow:   []float64{0.5, 0.2, 0.0},
		},
		{
			name:      "single high step",
			full:      []float64{1.0, 0.7, 0.3, 0.0},
			stepsHigh: 1,
			wantHigh:  []float64{1.0, 0.7},
			wantLow:   []float64{0.7, 0.3, 0.0},
		},
		{
			name:      "single low step",
			full:      []float64{1.0, 0.7, 0.3, 0.0},
			stepsHigh: 2,
			wantHigh:  []float64{1.0, 0.7, 0.3},
			wantLow:   []float64{0.3, 0.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			high, low, err := Split(tt.full, tt.stepsHigh)
			require.NoError(t, err)

			assert.Equal(t, tt.wantHigh, high)
			assert.Equal(t, tt.wantLow, low)
			assert.Equal(t, high[len(high)-1], low[0])
			assert.Equal(t, len(tt.full)+1, len(high)+len(low))
		})
	}
}

func TestSplit_DoesNotAlias(t *testing.T) {
	full := []float64{1.0, 0.5, 0.0}

	high, low, err := Split(full, 1)
	require.NoError(t, err)

	high[1] = 99
	low[0] = 42
	assert.Equal(t, []float64{1.0, 0.5, 0.0}, full)
}

func TestSplit_OutOfRange(t *testing.T) {
	_, _, err := Split([]float64{1, 0}, 2)
	assert.Error(t, err)

	_, _, err = Split([]float64{1, 0}, -1)
	assert.Error(t, err)
}
