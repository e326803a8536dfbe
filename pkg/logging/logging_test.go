package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return Wrap(zap.New(core), "test-component"), logs
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{"INFO", LogLevelInfo, false},
		{"", LogLevelWarn, false},
		{" error ", LogLevelError, false},
		{"loud", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	for _, level := range []LogLevel{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError} {
		t.Run(string(level), func(t *testing.T) {
			logger, err := New("test", level)
			require.NoError(t, err)
			assert.Equal(t, "test", logger.Component())
			assert.True(t, logger.Core().Enabled(level.zapLevel()))
		})
	}
}

func TestLogger_ComponentField(t *testing.T) {
	logger, logs := observed(zapcore.DebugLevel)

	logger.Info("test message", zap.String("key", "value"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "test message", entry.Message)
	assert.Equal(t, "test-component", entry.ContextMap()["component"])
	assert.Equal(t, "value", entry.ContextMap()["key"])
}

func TestLogger_WithRequestAndComponent(t *testing.T) {
	logger, logs := observed(zapcore.InfoLevel)

	child := logger.WithComponent("search").WithRequest("req-1")
	child.Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "search", fields["subcomponent"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "search", child.Component())
}

func TestLogger_SearchHelpers(t *testing.T) {
	logger, logs := observed(zapcore.DebugLevel)

	logger.LogSearchStart("simple", 4, 4, 8, 0.875, 0.01)
	logger.LogIteration(1.5, 0.6)
	logger.LogStop("accepted", 7.0, 701)
	logger.LogError("search", errors.New("boom"))

	require.Equal(t, 4, logs.Len())
	assert.Equal(t, int64(8), logs.All()[0].ContextMap()["calculation_steps"])
	assert.Equal(t, zapcore.DebugLevel, logs.All()[1].Level)
	assert.Equal(t, "accepted", logs.All()[2].ContextMap()["stop"])
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[3].Level)
	assert.Equal(t, "boom", logs.All()[3].ContextMap()["error"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, logs := observed(zapcore.WarnLevel)

	logger.LogIteration(1, 1)
	logger.Warn("kept")

	assert.Equal(t, 1, logs.Len())
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Info("discarded")
	logger.Sync()
}
