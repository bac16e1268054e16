package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects the default logger into a buffer for the duration of the test.
func captureOutput(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	originalLogger := DefaultLogger
	originalOutput := logOutput
	originalModules := globalModuleConfig
	t.Cleanup(func() {
		setupMu.Lock()
		DefaultLogger = originalLogger
		logOutput = originalOutput
		globalModuleConfig = originalModules
		customHandler = nil
		setupMu.Unlock()
	})

	var buf bytes.Buffer
	SetOutput(&buf, level)
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetVerbose(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)

	Debug("hidden")
	assert.Empty(t, buf.String())

	SetVerbose(true)
	Debug("Realtime: visible", "event", "session.created")
	assert.Contains(t, buf.String(), "Realtime: visible")
	assert.True(t, DebugEnabled())

	SetVerbose(false)
	assert.False(t, DebugEnabled())
}

func TestLevelFunctions(t *testing.T) {
	buf := captureOutput(t, slog.LevelDebug)
	ctx := context.Background()

	Debug("d1")
	DebugContext(ctx, "d2")
	Info("i1")
	InfoContext(ctx, "i2")
	Warn("w1")
	WarnContext(ctx, "w2")
	Error("e1")
	ErrorContext(ctx, "e2")

	out := buf.String()
	for _, msg := range []string{"d1", "d2", "i1", "i2", "w1", "w2", "e1", "e2"} {
		assert.Contains(t, out, "msg="+msg)
	}
}

func TestContextFieldsAreLogged(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)

	ctx := WithSessionID(context.Background(), "sess_42")
	ctx = WithTurnID(ctx, "turn-7")
	InfoContext(ctx, "Coordinator: turn started")

	out := buf.String()
	assert.Contains(t, out, "session_id=sess_42")
	assert.Contains(t, out, "turn_id=turn-7")
}

func TestSetLogger_PreservedAcrossConfigure(t *testing.T) {
	captureOutput(t, slog.LevelInfo)

	var custom bytes.Buffer
	SetLogger(slog.New(slog.NewJSONHandler(&custom, nil)))

	require.NoError(t, Configure(&LoggingConfigSpec{DefaultLevel: "error"}))
	SetLevel(slog.LevelError)

	Info("still custom")
	assert.Contains(t, custom.String(), `"msg":"still custom"`)

	SetLogger(nil)
	assert.Nil(t, customHandler)
}

func TestRedactSensitiveData(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
		absent   string
	}{
		{
			name:     "api key",
			input:    "key=sk-abcdefghijklmnopqrstuvwxyz123456",
			contains: "sk-a...[REDACTED]",
			absent:   "qrstuvwxyz",
		},
		{
			name:     "bearer header",
			input:    "Authorization: Bearer abc.def-123",
			contains: "Bearer [REDACTED]",
			absent:   "abc.def-123",
		},
		{
			name:     "query parameter",
			input:    "wss://host/realtime?model=m&api_key=secret123",
			contains: "api_key=[REDACTED]",
			absent:   "secret123",
		},
		{
			name:     "clean text",
			input:    "nothing to hide",
			contains: "nothing to hide",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactSensitiveData(tt.input)
			assert.Contains(t, got, tt.contains)
			if tt.absent != "" {
				assert.False(t, strings.Contains(got, tt.absent), "leaked secret in %q", got)
			}
		})
	}
}
