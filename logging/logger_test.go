package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		enabled       zap.AtomicLevel
	}{
		{"debug", "console", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{"", "json", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"warn", "json", zap.NewAtomicLevelAt(zap.WarnLevel)},
	}

	for _, tc := range tests {
		t.Run(tc.level+"/"+tc.format, func(t *testing.T) {
			logger, err := New(tc.level, tc.format)

			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tc.enabled.Level()))
			assert.False(t, logger.Core().Enabled(tc.enabled.Level()-1))
		})
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("loud", "json")

	assert.ErrorContains(t, err, "invalid log level")
}
