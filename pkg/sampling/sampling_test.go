package sampling

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() ModelConfig {
	return ModelConfig{Name: "test", Shift: 1.0, Multiplier: 1000, Timesteps: 1000}
}

func TestTimeSNRShift(t *testing.T) {
	tests := []struct {
		name  string
		alpha float64
		t     float64
		want  float64
	}{
		{"identity at shift 1", 1.0, 0.25, 0.25},
		{"shift 3 at half", 3.0, 0.5, 0.75},
		{"shift 0 collapses", 0.0, 0.5, 0.0},
		{"shift 0 endpoint is continuous", 0.0, 1.0, 1.0},
		{"zero stays zero", 5.0, 0.0, 0.0},
		{"endpoint for any shift", 8.0, 1.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, timeSNRShift(tt.alpha, tt.t), 1e-12)
		})
	}
}

func TestNewParams_Table(t *testing.T) {
	// Given a standard flow configuration
	params, err := NewParams(testConfig(), 3.0)
	require.NoError(t, err)

	// Then the table spans (0, 1] ascending
	require.Equal(t, 1000, params.Len())
	assert.InDelta(t, 3.0*0.001/(1+2.0*0.001), params.SigmaMin(), 1e-12)
	assert.Equal(t, 1.0, params.SigmaMax())
	assert.Equal(t, params.SigmaMax(), params.At(-1))

	table := params.Table()
	for i := 1; i < len(table); i++ {
		assert.Greater(t, table[i], table[i-1])
	}

	// And Table returns a copy
	table[0] = 42
	assert.NotEqual(t, 42.0, params.SigmaMin())
}

func TestNewParams_Rejects(t *testing.T) {
	cfg := testConfig()

	_, err := NewParams(cfg, -0.5)
	assert.Error(t, err)

	_, err = NewParams(cfg, math.NaN())
	assert.Error(t, err)

	bad := cfg
	bad.Timesteps = 1
	_, err = NewParams(bad, 1.0)
	assert.Error(t, err)

	bad = cfg
	bad.Multiplier = 0
	_, err = NewParams(bad, 1.0)
	assert.Error(t, err)
}

func TestParams_TimestepRoundTrip(t *testing.T) {
	params, err := NewParams(testConfig(), 5.0)
	require.NoError(t, err)

	sigma := params.Sigma(params.Timestep(0.4))
	assert.InDelta(t, timeSNRShift(5.0, 0.4), sigma, 1e-12)
	assert.Equal(t, 1.0, params.PercentToSigma(0))
	assert.Equal(t, 0.0, params.PercentToSigma(1))
}

func TestBuiltinPresets(t *testing.T) {
	presets := BuiltinPresets()

	names := presets.Names()
	assert.Contains(t, names, "wan21")
	assert.Contains(t, names, DefaultModel)

	cfg, ok := presets.Get("sd3")
	require.True(t, ok)
	assert.Equal(t, 3.0, cfg.Shift)
	assert.Equal(t, DefaultTimesteps, cfg.Timesteps)
}

func TestLoadPresets_UserFileOverrides(t *testing.T) {
	// Given a user presets file overriding one model and adding another
	content := `
models:
  - name: sd3
    shift: 4.5
  - name: custom
    shift: 2.0
    multiplier: 1
    timesteps: 500
`
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	// When loading
	presets, err := LoadPresets(path)
	require.NoError(t, err)

	// Then overrides and defaults both apply
	sd3, ok := presets.Get("sd3")
	require.True(t, ok)
	assert.Equal(t, 4.5, sd3.Shift)
	assert.Equal(t, DefaultMultiplier, sd3.Multiplier)

	custom, ok := presets.Get("custom")
	require.True(t, ok)
	assert.Equal(t, 500, custom.Timesteps)

	_, ok = presets.Get("wan21")
	assert.True(t, ok)
}

func TestLoadPresets_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - shift: 1\n"), 0644))

	_, err := LoadPresets(path)
	assert.Error(t, err)

	_, err = LoadPresets(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestModel_WithShiftLeavesModelUntouched(t *testing.T) {
	model := NewModel(testConfig())

	before, err := model.Params()
	require.NoError(t, err)

	shifted, err := model.WithShift(9.0)
	require.NoError(t, err)
	assert.Equal(t, 9.0, shifted.Shift)

	after, err := model.Params()
	require.NoError(t, err)
	assert.Equal(t, before.Shift, after.Shift)
	assert.Equal(t, before.Table(), after.Table())
}

func TestLookupModel(t *testing.T) {
	model, err := LookupModel(BuiltinPresets(), "wan21")
	require.NoError(t, err)
	assert.Equal(t, "wan21", model.Name())

	_, err = LookupModel(BuiltinPresets(), "nope")
	assert.Error(t, err)
}
