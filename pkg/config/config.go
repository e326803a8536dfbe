package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/shaneisley/sigmashift/pkg/logging"
	"github.com/shaneisley/sigmashift/pkg/sampling"
	"github.com/shaneisley/sigmashift/pkg/shift"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "SIGMASHIFT"

// Config holds the configuration for the sigmashift CLI
type Config struct {
	Model       string  `mapstructure:"model"`
	Scheduler   string  `mapstructure:"scheduler"`
	StepsHigh   int     `mapstructure:"steps_high"`
	StepsLow    int     `mapstructure:"steps_low"`
	Boundary    float64 `mapstructure:"boundary"`
	Interval    float64 `mapstructure:"interval"`
	Denoise     float64 `mapstructure:"denoise"`
	Format      string  `mapstructure:"format"`
	PresetsFile string  `mapstructure:"presets_file"`
	CachePath   string  `mapstructure:"cache_path"`
	NoCache     bool    `mapstructure:"no_cache"`
	LogLevel    string  `mapstructure:"log_level"`
	SocketPath  string  `mapstructure:"socket_path"`
	RateLimit   float64 `mapstructure:"rate_limit"`
	RateBurst   int     `mapstructure:"rate_burst"`
}

// configKeys lists every key in display order
var configKeys = []string{
	"model", "scheduler", "steps_high", "steps_low", "boundary", "interval",
	"denoise", "format", "presets_file", "cache_path", "no_cache", "log_level",
	"socket_path", "rate_limit", "rate_burst",
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// ConfigSource represents where a configuration value came from
type ConfigSource int

const (
	SourceDefault ConfigSource = iota
	SourceConfigFile
	SourceEnvironment
	SourceCLIFlag
)

func (s ConfigSource) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceConfigFile:
		return "config file"
	case SourceEnvironment:
		return "environment variable"
	case SourceCLIFlag:
		return "CLI flag"
	default:
		return "unknown"
	}
}

// ConfigDebugInfo holds debugging information about configuration resolution
type ConfigDebugInfo struct {
	Sources map[string]ConfigSource
	Values  map[string]interface{}
}

// LoadFromFile loads configuration from a TOML file over the defaults
func LoadFromFile(configFile string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(configFile)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return decode(v)
}

// LoadWithDefaults returns a configuration with default values
func LoadWithDefaults() *Config {
	v := newViper()

	var config Config
	v.Unmarshal(&config)
	return &config
}

// LoadWithPrecedenceAndExplicitFlags loads configuration with full precedence
// support: flags named in explicitFields, then SIGMASHIFT_* environment
// variables, then the config file, then defaults
func LoadWithPrecedenceAndExplicitFlags(configFile string, flagConfig *Config, explicitFields map[string]bool, debug bool) (*Config, *ConfigDebugInfo, error) {
	var debugInfo *ConfigDebugInfo
	if debug {
		debugInfo = &ConfigDebugInfo{
			Sources: make(map[string]ConfigSource),
			Values:  make(map[string]interface{}),
		}
		recordDefaults(debugInfo)
	}

	v := newViper()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, debugInfo, fmt.Errorf("failed to read config file: %w", err)
		}
		if debug {
			recordConfigFile(debugInfo, v)
		}
	}

	if debug {
		recordEnvironment(debugInfo)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, debugInfo, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if flagConfig != nil && explicitFields != nil {
		config = *config.MergeWithExplicitFlags(flagConfig, explicitFields)
		if debug {
			recordExplicitFlags(debugInfo, flagConfig, explicitFields)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, debugInfo, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, debugInfo, nil
}

// WatchFile reloads the config file on every change and passes the result
// to onChange. The watch lasts for the life of the process.
func WatchFile(configFile string, onChange func(*Config, error)) error {
	v := newViper()
	v.SetConfigFile(configFile)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, key := range configKeys {
		v.BindEnv(key)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// defaultValues are the documented defaults, keyed like the config file
func defaultValues() map[string]interface{} {
	return map[string]interface{}{
		"model":        sampling.DefaultModel,
		"scheduler":    shift.DefaultScheduler,
		"steps_high":   shift.DefaultSteps,
		"steps_low":    shift.DefaultSteps,
		"boundary":     shift.DefaultBoundary,
		"interval":     shift.DefaultInterval,
		"denoise":      shift.DefaultDenoise,
		"format":       "text",
		"presets_file": "",
		"cache_path":   "",
		"no_cache":     false,
		"log_level":    string(logging.LogLevelWarn),
		"socket_path":  DefaultSocketPath(),
		"rate_limit":   DefaultRateLimit,
		"rate_burst":   DefaultRateBurst,
	}
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	for key, value := range defaultValues() {
		v.SetDefault(key, value)
	}
}

// Daemon search throttling defaults, in searches per second
const (
	DefaultRateLimit = 20.0
	DefaultRateBurst = 5
)

// DefaultSocketPath returns the daemon socket location
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), "sigmashift.sock")
}

// Request converts the search-related fields into a search request
func (c *Config) Request() shift.Request {
	return shift.Request{
		Scheduler: c.Scheduler,
		StepsHigh: c.StepsHigh,
		StepsLow:  c.StepsLow,
		Denoise:   c.Denoise,
		Boundary:  c.Boundary,
		Interval:  c.Interval,
	}
}

// MergeWithExplicitFlags merges configuration with explicitly set flag values
// This version handles zero values correctly by using explicit field setting
func (c *Config) MergeWithExplicitFlags(flags *Config, explicitFields map[string]bool) *Config {
	result := *c

	if explicitFields["model"] {
		result.Model = flags.Model
	}
	if explicitFields["scheduler"] {
		result.Scheduler = flags.Scheduler
	}
	if explicitFields["steps_high"] {
		result.StepsHigh = flags.StepsHigh
	}
	if explicitFields["steps_low"] {
		result.StepsLow = flags.StepsLow
	}
	if explicitFields["boundary"] {
		result.Boundary = flags.Boundary
	}
	if explicitFields["interval"] {
		result.Interval = flags.Interval
	}
	if explicitFields["denoise"] {
		result.Denoise = flags.Denoise
	}
	if explicitFields["format"] {
		result.Format = flags.Format
	}
	if explicitFields["presets_file"] {
		result.PresetsFile = flags.PresetsFile
	}
	if explicitFields["cache_path"] {
		result.CachePath = flags.CachePath
	}
	if explicitFields["no_cache"] {
		result.NoCache = flags.NoCache
	}
	if explicitFields["log_level"] {
		result.LogLevel = flags.LogLevel
	}
	if explicitFields["socket_path"] {
		result.SocketPath = flags.SocketPath
	}
	if explicitFields["rate_limit"] {
		result.RateLimit = flags.RateLimit
	}
	if explicitFields["rate_burst"] {
		result.RateBurst = flags.RateBurst
	}

	return &result
}

// FindConfigFile searches for a configuration file in the given directory
// It looks for .sigmashift.toml then sigmashift.toml
func FindConfigFile(dir string) string {
	configNames := []string{".sigmashift.toml", "sigmashift.toml"}

	for _, name := range configNames {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	return ""
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []ValidationError

	if c.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "model",
			Value:   c.Model,
			Message: "must not be empty",
		})
	}

	var requestErrs shift.ValidationErrors
	if err := c.Request().Validate(); errors.As(err, &requestErrs) {
		for _, e := range requestErrs {
			errs = append(errs, ValidationError{Field: e.Field, Value: e.Value, Message: e.Message})
		}
	}

	if c.Format != "text" && c.Format != "json" {
		errs = append(errs, ValidationError{
			Field:   "format",
			Value:   c.Format,
			Message: "must be 'text' or 'json'",
		})
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Value:   c.LogLevel,
			Message: "must be one of debug, info, warn, error",
		})
	}

	if !(c.RateLimit > 0) {
		errs = append(errs, ValidationError{
			Field:   "rate_limit",
			Value:   c.RateLimit,
			Message: "must be greater than 0",
		})
	}

	if c.RateBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "rate_burst",
			Value:   c.RateBurst,
			Message: "must be at least 1",
		})
	}

	if len(errs) > 0 {
		var messages []string
		for _, err := range errs {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
	}

	return nil
}

// recordDefaults records default values in debug info
func recordDefaults(debug *ConfigDebugInfo) {
	for key, value := range defaultValues() {
		debug.Sources[key] = SourceDefault
		debug.Values[key] = value
	}
}

// recordConfigFile records config file values in debug info
func recordConfigFile(debug *ConfigDebugInfo, v *viper.Viper) {
	for _, key := range configKeys {
		if v.InConfig(key) {
			debug.Sources[key] = SourceConfigFile
			debug.Values[key] = v.Get(key)
		}
	}
}

// recordEnvironment records environment variable values in debug info
func recordEnvironment(debug *ConfigDebugInfo) {
	for _, key := range configKeys {
		if value := os.Getenv(EnvVar(key)); value != "" {
			debug.Sources[key] = SourceEnvironment
			debug.Values[key] = value
		}
	}
}

// recordExplicitFlags records CLI flag values that were explicitly set in debug info
func recordExplicitFlags(debug *ConfigDebugInfo, flags *Config, explicitFields map[string]bool) {
	values := map[string]interface{}{
		"model":        flags.Model,
		"scheduler":    flags.Scheduler,
		"steps_high":   flags.StepsHigh,
		"steps_low":    flags.StepsLow,
		"boundary":     flags.Boundary,
		"interval":     flags.Interval,
		"denoise":      flags.Denoise,
		"format":       flags.Format,
		"presets_file": flags.PresetsFile,
		"cache_path":   flags.CachePath,
		"no_cache":     flags.NoCache,
		"log_level":    flags.LogLevel,
		"socket_path":  flags.SocketPath,
		"rate_limit":   flags.RateLimit,
		"rate_burst":   flags.RateBurst,
	}
	for key, value := range values {
		if explicitFields[key] {
			debug.Sources[key] = SourceCLIFlag
			debug.Values[key] = value
		}
	}
}

// EnvVar returns the environment variable that overrides a key
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// PrintDebugInfo prints configuration debug information
func (debug *ConfigDebugInfo) PrintDebugInfo() {
	fmt.Println("Configuration Resolution Debug Info:")
	fmt.Println("===================================")

	for _, key := range configKeys {
		source := debug.Sources[key]
		value := debug.Values[key]
		fmt.Printf("%-20s: %-15v (from %s)\n", key, value, source)
	}
}
