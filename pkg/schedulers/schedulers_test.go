package schedulers

import (
	"errors"
	"testing"

	"github.com/shaneisley/sigmashift/pkg/sampling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flowParams(t *testing.T, shift float64) sampling.Params {
	t.Helper()
	p, err := sampling.NewParams(sampling.ModelConfig{
		Name:       "test",
		Multiplier: sampling.DefaultMultiplier,
		Timesteps:  sampling.DefaultTimesteps,
	}, shift)
	require.NoError(t, err)
	return p
}

func assertDescendingToZero(t *testing.T, sigs []float64) {
	t.Helper()
	require.NotEmpty(t, sigs)
	assert.Equal(t, 0.0, sigs[len(sigs)-1])
	for i := 1; i < len(sigs); i++ {
		assert.LessOrEqual(t, sigs[i], sigs[i-1], "index %d", i)
	}
}

func TestSimple_UnshiftedIsLinear(t *testing.T) {
	// Given an identity shift
	p := flowParams(t, 1.0)

	// When computing 8 simple steps
	sigs := Simple(p, 8)

	// Then sigmas fall by 1/8 per step
	want := []float64{1, 0.875, 0.75, 0.625, 0.5, 0.375, 0.25, 0.125, 0}
	require.Len(t, sigs, len(want))
	for i := range want {
		assert.InDelta(t, want[i], sigs[i], 1e-9, "index %d", i)
	}
}

func TestCatalog_AllProduceDescendingSequences(t *testing.T) {
	p := flowParams(t, 5.0)

	for _, entry := range All() {
		for _, steps := range []int{1, 2, 8, 20} {
			sigs, err := Calculate(p, entry.Name, steps)
			require.NoError(t, err, entry.Name)
			assertDescendingToZero(t, sigs)
		}
	}
}

func TestCatalog_LengthContract(t *testing.T) {
	p := flowParams(t, 3.0)

	for _, name := range []string{"simple", "sgm_uniform", "normal", "karras", "exponential", "linear_quadratic", "kl_optimal"} {
		sigs, err := Calculate(p, name, 12)
		require.NoError(t, err)
		assert.Len(t, sigs, 13, name)
	}
}

func TestDDIMUniform_TailWindowIsUsable(t *testing.T) {
	p := flowParams(t, 3.0)

	// 7 does not divide 1000, so ddim returns an extra leading sigma
	sigs := DDIMUniform(p, 7)
	assert.GreaterOrEqual(t, len(sigs), 8)
	assertDescendingToZero(t, sigs)
}

func TestBeta_EndpointsAndDedup(t *testing.T) {
	p := flowParams(t, 2.0)

	sigs := Beta(p, 8)
	require.Len(t, sigs, 9)
	assert.Equal(t, 1.0, sigs[0])
	assertDescendingToZero(t, sigs)

	// A tiny table forces duplicate timesteps to collapse
	small, err := sampling.NewParams(sampling.ModelConfig{Name: "tiny", Multiplier: 1000, Timesteps: 4}, 2.0)
	require.NoError(t, err)
	short := Beta(small, 20)
	assert.Less(t, len(short), 21)
}

func TestShiftSensitivity(t *testing.T) {
	// Raising the shift lifts mid-schedule sigmas for every searchable scheduler
	low := flowParams(t, 1.0)
	high := flowParams(t, 6.0)

	for _, name := range ShiftSensitiveNames() {
		a, err := Calculate(low, name, 8)
		require.NoError(t, err)
		b, err := Calculate(high, name, 8)
		require.NoError(t, err)
		mid := len(a) / 2
		assert.Greater(t, b[len(b)-1-mid], a[len(a)-1-mid], name)
	}
}

func TestCalculate_Errors(t *testing.T) {
	p := flowParams(t, 1.0)

	_, err := Calculate(p, "nope", 4)
	assert.True(t, errors.Is(err, ErrUnknownScheduler))

	_, err = Calculate(p, "simple", 0)
	assert.Error(t, err)

	_, err = Calculate(sampling.Params{}, "simple", 4)
	assert.Error(t, err)
}

func TestShiftSensitiveNames(t *testing.T) {
	assert.Equal(t, []string{"simple", "sgm_uniform", "ddim_uniform", "beta", "normal"}, ShiftSensitiveNames())

	entry, err := Lookup("karras")
	require.NoError(t, err)
	assert.False(t, entry.ShiftSensitive)
}

func TestEvaluator_IsStateless(t *testing.T) {
	eval := NewEvaluator()
	p := flowParams(t, 4.0)

	first, err := eval.Sigmas(p, "normal", 10)
	require.NoError(t, err)
	_, err = eval.Sigmas(flowParams(t, 9.0), "normal", 10)
	require.NoError(t, err)
	again, err := eval.Sigmas(p, "normal", 10)
	require.NoError(t, err)

	assert.Equal(t, first, again)
}
