package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLevel converts a level name, defaulting to warn for CLI use
func ParseLevel(s string) (LogLevel, error) {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug, nil
	case LogLevelInfo:
		return LogLevelInfo, nil
	case LogLevelWarn, "":
		return LogLevelWarn, nil
	case LogLevelError:
		return LogLevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger wraps zap.Logger with a component field
type Logger struct {
	*zap.Logger
	component string
}

// New creates a JSON logger on stderr for a component
func New(component string, level LogLevel) (*Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level.zapLevel())
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &Logger{
		Logger:    logger.With(zap.String("component", component)),
		component: component,
	}, nil
}

// Wrap adopts an existing zap logger, e.g. zaptest or observer loggers
func Wrap(logger *zap.Logger, component string) *Logger {
	return &Logger{
		Logger:    logger.With(zap.String("component", component)),
		component: component,
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop(), component: "nop"}
}

// Component returns the component name
func (l *Logger) Component() string {
	return l.component
}

// WithComponent creates a logger for a sub-component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(zap.String("subcomponent", component)),
		component: component,
	}
}

// WithRequest creates a logger with request context
func (l *Logger) WithRequest(requestID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(zap.String("request_id", requestID)),
		component: l.component,
	}
}

// LogSearchStart logs the inputs of a shift search
func (l *Logger) LogSearchStart(scheduler string, stepsHigh, stepsLow, calculationSteps int, boundary, interval float64) {
	l.Info("shift search starting",
		zap.String("scheduler", scheduler),
		zap.Int("steps_high", stepsHigh),
		zap.Int("steps_low", stepsLow),
		zap.Int("calculation_steps", calculationSteps),
		zap.Float64("boundary", boundary),
		zap.Float64("interval", interval))
}

// LogIteration logs one evaluated candidate
func (l *Logger) LogIteration(shift, boundarySigma float64) {
	l.Debug("shift candidate evaluated",
		zap.Float64("shift", shift),
		zap.Float64("boundary_sigma", boundarySigma))
}

// LogStop logs how a search ended
func (l *Logger) LogStop(reason string, shift float64, iterations int) {
	l.Info("shift search finished",
		zap.String("stop", reason),
		zap.Float64("shift", shift),
		zap.Int("iterations", iterations))
}

// LogError logs error events with context
func (l *Logger) LogError(operation string, err error, fields ...zap.Field) {
	l.Error("operation failed", append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)...)
}

// Sync flushes buffered entries, ignoring the EINVAL returned for stderr
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}
