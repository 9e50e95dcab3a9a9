package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Level(t *testing.T) {
	logger, err := NewLogger("svc", "debug")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("svc", "")
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("svc", "loud")
	require.Error(t, err)
}

func TestDrift_TagsCondition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Drift(zap.New(core), "device out of sync", errors.New("boom"), zap.String("task", "profile.update"))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	require.Equal(t, "drift", fields["condition"])
	require.Equal(t, "profile.update", fields["task"])
	require.Equal(t, "boom", fields["error"])
}
