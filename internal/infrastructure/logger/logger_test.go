package logger

import (
	"testing"

	"mealsub/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	log, err := New(config.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = New(config.LogConfig{})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))

	_, err = New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
