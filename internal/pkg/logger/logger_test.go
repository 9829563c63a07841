package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{"json info", "info", "json", zapcore.InfoLevel, false},
		{"console debug", "debug", "console", zapcore.DebugLevel, false},
		{"json warn", "warn", "json", zapcore.WarnLevel, false},
		{"invalid level", "invalid", "json", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Init(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, GetLevel())
			assert.NotNil(t, L())
		})
	}
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, Init("info", "json"))

	require.NoError(t, SetLevel("error"))
	assert.Equal(t, zapcore.ErrorLevel, GetLevel())
	assert.Equal(t, zapcore.ErrorLevel, Level().Level())
	assert.Error(t, SetLevel("bogus"))
	assert.Equal(t, zapcore.ErrorLevel, GetLevel())
}
