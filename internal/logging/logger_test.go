package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ianlrsn/livegate/internal/config"
)

func TestNewDefaults(t *testing.T) {
	logger, err := New(config.LoggingConfig{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.True(t, logger.Enabled(t.Context(), slog.LevelInfo))
	require.False(t, logger.Enabled(t.Context(), slog.LevelDebug))
}

func TestNewLevels(t *testing.T) {
	cases := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
	}
	for _, tc := range cases {
		logger, err := New(config.LoggingConfig{Level: tc.level, Format: "text"})
		require.NoError(t, err, tc.level)
		require.True(t, logger.Enabled(t.Context(), tc.enabled), tc.level)
		require.False(t, logger.Enabled(t.Context(), tc.muted), tc.level)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Format: "xml"})
	require.Error(t, err)
}
