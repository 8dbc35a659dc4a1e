package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "debug", Format: "json", Output: &buf})

	log.With(Fields{"queue": "webhooks"}).Info("tick", Fields{"batch": 10})

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"queue":"webhooks"`)
	assert.Contains(t, out, `"batch":10`)
	assert.Contains(t, out, `"msg":"tick"`)
}

func TestErrorAppendsError(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Format: "json", Output: &buf})

	log.Error("boom", errors.New("broken pipe"), nil)

	assert.Contains(t, buf.String(), "broken pipe")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "warn", Output: &buf})

	log.Debug("hidden", nil)
	log.Info("hidden too", nil)
	log.Warn("visible", nil)

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, "visible")
}

func TestNopLoggerIsSilent(t *testing.T) {
	log := Nop()
	log.Debug("x", nil)
	log.Info("x", nil)
	log.Warn("x", nil)
	log.Error("x", errors.New("x"), Fields{"k": "v"})
	assert.NotNil(t, log.With(Fields{"k": "v"}))
}
