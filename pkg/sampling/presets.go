package sampling

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultModel is the preset used when no model is configured
const DefaultModel = "wan22"

//go:embed presets.yaml
var builtinPresets []byte

// ModelConfig holds the sampling settings of a model family
type ModelConfig struct {
	Name       string  `yaml:"name" json:"name"`
	Shift      float64 `yaml:"shift" json:"shift"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	Timesteps  int     `yaml:"timesteps" json:"timesteps"`
}

type presetFile struct {
	Models []ModelConfig `yaml:"models"`
}

// Presets is a read-only registry of model configurations keyed by name
type Presets struct {
	models map[string]ModelConfig
}

// BuiltinPresets returns the presets compiled into the binary
func BuiltinPresets() *Presets {
	p, err := ParsePresets(builtinPresets)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in presets: %v", err))
	}
	return p
}

// ParsePresets decodes a YAML presets document
func ParsePresets(data []byte) (*Presets, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}

	p := &Presets{models: make(map[string]ModelConfig, len(file.Models))}
	for _, m := range file.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("preset without a name")
		}
		if m.Multiplier == 0 {
			m.Multiplier = DefaultMultiplier
		}
		if m.Timesteps == 0 {
			m.Timesteps = DefaultTimesteps
		}
		if _, err := NewParams(m, m.Shift); err != nil {
			return nil, fmt.Errorf("preset %q: %w", m.Name, err)
		}
		p.models[m.Name] = m
	}
	return p, nil
}

// LoadPresets returns the built-in presets, overridden and extended by the
// YAML file at path when path is non-empty
func LoadPresets(path string) (*Presets, error) {
	presets := BuiltinPresets()
	if path == "" {
		return presets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}
	user, err := ParsePresets(data)
	if err != nil {
		return nil, err
	}
	for name, m := range user.models {
		presets.models[name] = m
	}
	return presets, nil
}

// Get returns the configuration for a model name
func (p *Presets) Get(name string) (ModelConfig, bool) {
	m, ok := p.models[name]
	return m, ok
}

// Names returns all preset names in sorted order
func (p *Presets) Names() []string {
	names := make([]string, 0, len(p.models))
	for name := range p.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models returns all configurations sorted by name
func (p *Presets) Models() []ModelConfig {
	names := p.Names()
	models := make([]ModelConfig, 0, len(names))
	for _, name := range names {
		models = append(models, p.models[name])
	}
	return models
}

// Model is a handle on a loaded model's sampling state. Its params are
// built once from the configuration and never change; searches derive new
// Params values with WithShift instead of patching the model.
type Model struct {
	config ModelConfig

	once   sync.Once
	params Params
	err    error
}

// NewModel creates a model handle for a configuration
func NewModel(cfg ModelConfig) *Model {
	return &Model{config: cfg}
}

// LookupModel resolves a preset by name into a model handle
func LookupModel(presets *Presets, name string) (*Model, error) {
	cfg, ok := presets.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown model %q (available: %v)", name, presets.Names())
	}
	return NewModel(cfg), nil
}

// Name returns the model's preset name
func (m *Model) Name() string {
	return m.config.Name
}

// Config returns the model configuration
func (m *Model) Config() ModelConfig {
	return m.config
}

// Params returns the model's own sampling parameters at its configured shift
func (m *Model) Params() (Params, error) {
	m.once.Do(func() {
		m.params, m.err = NewParams(m.config, m.config.Shift)
	})
	return m.params, m.err
}

// WithShift builds sampling parameters for a candidate shift without
// touching the model
func (m *Model) WithShift(shift float64) (Params, error) {
	return NewParams(m.config, shift)
}
