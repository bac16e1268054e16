package logger

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleConfig_LevelFor(t *testing.T) {
	mc := NewModuleConfig(slog.LevelInfo)
	mc.SetModuleLevel(ComponentRealtime, slog.LevelDebug)
	mc.SetModuleLevel(ComponentAudio, slog.LevelWarn)

	tests := []struct {
		component string
		expected  slog.Level
	}{
		{ComponentRealtime, slog.LevelDebug},
		{ComponentAudio, slog.LevelWarn},
		{ComponentCoordinator, slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.component, func(t *testing.T) {
			assert.Equal(t, tt.expected, mc.LevelFor(tt.component))
		})
	}

	assert.Equal(t, slog.LevelDebug, mc.minLevel())
	mc.SetDefaultLevel(slog.LevelError)
	assert.Equal(t, slog.LevelError, mc.LevelFor(ComponentMonitor))
}

func TestIsComponent(t *testing.T) {
	for _, c := range Components {
		assert.True(t, IsComponent(c), c)
	}
	assert.False(t, IsComponent("runtime.audio"))
	assert.False(t, IsComponent(""))
}

func TestConfigure_JSONWithCommonFields(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)

	require.NoError(t, Configure(&LoggingConfigSpec{
		DefaultLevel: "info",
		Format:       FormatJSON,
		CommonFields: map[string]string{"service": "fractflow-voice"},
	}))

	InfoContext(WithMode(context.Background(), "manual"), "Coordinator: ready")

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "Coordinator: ready", record["msg"])
	assert.Equal(t, "fractflow-voice", record["service"])
	assert.Equal(t, "manual", record["mode"])
}

func TestConfigure_ModuleLevels(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)

	require.NoError(t, Configure(&LoggingConfigSpec{
		DefaultLevel: "warn",
		Format:       FormatText,
		Modules: []ModuleLoggingSpec{{
			Name:   ComponentCoordinator,
			Level:  "debug",
			Fields: map[string]string{"team": "voice"},
		}},
	}))

	mc := GetModuleConfig()
	assert.Equal(t, slog.LevelDebug, mc.LevelFor(ComponentCoordinator))
	assert.Equal(t, slog.LevelWarn, mc.LevelFor(ComponentAudio))

	ctx := context.Background()
	DebugContext(WithComponent(ctx, ComponentCoordinator), "Coordinator: state change")
	DebugContext(WithComponent(ctx, ComponentAudio), "Audio: frame read")
	Info("Logger: info below default")
	Warn("Logger: warn at default")

	out := buf.String()
	assert.Contains(t, out, "Coordinator: state change")
	assert.Contains(t, out, "team=voice")
	assert.NotContains(t, out, "Audio: frame read")
	assert.NotContains(t, out, "info below default")
	assert.Contains(t, out, "warn at default")
}

func TestCallerComponentIsLogged(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)

	Info("Logger: hello")

	// The caller is this package's test, so its component is "logger".
	assert.Contains(t, buf.String(), "component=logger")
}

func TestConfigure_Nil(t *testing.T) {
	assert.NoError(t, Configure(nil))
}

func TestComponentFromFunction(t *testing.T) {
	tests := []struct {
		fn   string
		want string
	}{
		{"github.com/RRiiiccckkk/FractFlow/runtime/audio.(*IOManager).StartCapture", ComponentAudio},
		{"github.com/RRiiiccckkk/FractFlow/runtime/realtime.NewClient", ComponentRealtime},
		{"github.com/RRiiiccckkk/FractFlow/runtime/metrics/prometheus.RecordTurn", ComponentMetrics},
		{"github.com/RRiiiccckkk/FractFlow/pkg/config.LoadConfig", ComponentConfig},
		{"github.com/RRiiiccckkk/FractFlow/runtime/coordinator.(*Coordinator).loop.func1", ComponentCoordinator},
		{"github.com/other/module.Func", ""},
		{"main.main", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			assert.Equal(t, tt.want, componentFromFunction(tt.fn))
		})
	}
}
