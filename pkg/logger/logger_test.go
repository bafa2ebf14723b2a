package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	testCases := []struct {
		level    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			New(Config{Level: tc.level})
			assert.Equal(t, tc.expected, zerolog.GlobalLevel())
		})
	}
}

func TestNew_ErrorLevelFiltersInfo(t *testing.T) {
	logger := New(Config{Level: "error"})
	var buf bytes.Buffer
	logger = logger.Output(&buf)

	logger.Info().Msg("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	logger.Error().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestNew_PrettyOutput(t *testing.T) {
	logger := New(Config{Level: "info", Pretty: true})
	var buf bytes.Buffer
	logger = logger.Output(&buf)

	logger.Info().Str("user_id", "u-1").Msg("cash updated")
	assert.Contains(t, buf.String(), "cash updated")
}

func TestSetGlobalLogger(t *testing.T) {
	logger := New(Config{Level: "info"})
	assert.NotPanics(t, func() { SetGlobalLogger(logger) })
}
