package observability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultLogConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  LogConfig
		wantErr bool
	}{
		{
			name:   "default config",
			config: DefaultLogConfig(),
		},
		{
			name:   "console format",
			config: LogConfig{Level: "debug", Format: "console", Output: "stdout"},
		},
		{
			name:   "stderr output",
			config: LogConfig{Level: "warn", Format: "json", Output: "stderr"},
		},
		{
			name:    "invalid level",
			config:  LogConfig{Level: "loud", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestZapLogger_WithFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	var logger Logger = &zapLogger{logger: zap.New(core)}
	logger = logger.With(String("component", "listener"))

	logger.Warn("bind failed", Error(errors.New("address in use")))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "bind failed", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "listener", ctx["component"])
	assert.Equal(t, "address in use", ctx["error"])
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := NopLogger()
	require.NotNil(t, logger)

	assert.NotPanics(t, func() {
		logger.Debug("debug")
		logger.Info("info")
		logger.Warn("warn")
		logger.Error("error")
		_ = logger.With(Int("n", 1)).Sync()
	})
	assert.NotNil(t, Zap(logger))
}
