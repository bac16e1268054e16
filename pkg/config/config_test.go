package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RRiiiccckkk/FractFlow/pkg/testutil"
	"github.com/RRiiiccckkk/FractFlow/runtime/coordinator"
	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
)

const minimalManifest = `
apiVersion: fractflow.io/v1alpha1
kind: VoiceAgent
metadata:
  name: desk
spec:
  mode: manual
`

func clearKeyEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DASHSCOPE_API_KEY", "")
	t.Setenv("QWEN_API_KEY", "")
}

func TestParseConfig_Defaults(t *testing.T) {
	clearKeyEnv(t)

	cfg, err := ParseConfig([]byte(minimalManifest))
	require.NoError(t, err)

	assert.Equal(t, "desk", cfg.Metadata.Name)
	s := cfg.Spec
	assert.Equal(t, "manual", s.Mode)
	assert.Equal(t, realtime.DefaultVoice, s.Realtime.Voice)
	assert.Equal(t, realtime.DefaultModel, s.Realtime.Model)
	assert.Equal(t, realtime.DefaultCancelAckTimeout, s.Realtime.CancelAckTimeout)
	assert.Nil(t, s.Realtime.VAD)
	assert.Equal(t, DevicePortAudio, s.Audio.Device)
	assert.Equal(t, 16000, s.Audio.InputSampleRate)
	assert.Equal(t, 24000, s.Audio.OutputSampleRate)
	assert.Equal(t, "auto", s.Interrupt.Source)
	assert.True(t, *s.Interrupt.Enabled)
	assert.Equal(t, BackendFile, s.Conversation.Backend)
	assert.Equal(t, 24*time.Hour, s.Conversation.ResumeWindow)
	assert.Equal(t, 7*24*time.Hour, s.Conversation.Retention)
	assert.True(t, s.MonitorEnabled())
	require.NotNil(t, s.Logging)
	assert.Equal(t, LogLevelInfo, s.Logging.DefaultLevel)
	assert.Empty(t, s.Realtime.APIKey)
}

func TestParseConfig_Full(t *testing.T) {
	clearKeyEnv(t)

	manifest := `
apiVersion: fractflow.io/v1alpha1
kind: VoiceAgent
metadata:
  name: kiosk
  labels:
    site: lobby
spec:
  mode: continuous
  realtime:
    voice: Ethan
    temperature: 0.5
    cancelAckTimeout: 1500ms
    maxReconnectAttempts: 3
    vad:
      threshold: 0.2
      silenceDurationMs: 600
  audio:
    device: memory
    framesPerBuffer: 1024
  interrupt:
    source: both
    enabled: false
    baseThreshold: 900
  conversation:
    backend: redis
    maxContextChars: 2000
    redis:
      addr: redis:6379
      prefix: kiosk
  monitor:
    interval: 2s
    memoryCriticalMB: 2048
  tracing:
    endpoint: http://collector:4318
    sampleRatio: 0.25
  logging:
    defaultLevel: debug
    format: json
    modules:
      - name: realtime
        level: trace
`
	cfg, err := ParseConfig([]byte(manifest))
	require.NoError(t, err)
	s := &cfg.Spec

	assert.Equal(t, "lobby", cfg.Metadata.Labels["site"])

	rc := s.RealtimeConfig()
	assert.Equal(t, realtime.ModeContinuous, rc.Mode)
	assert.Equal(t, "Ethan", rc.Voice)
	assert.InDelta(t, 0.5, rc.Temperature, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, rc.CancelAckTimeout)
	assert.Equal(t, 3, rc.MaxReconnectAttempts)
	require.NotNil(t, rc.TurnDetection)
	assert.InDelta(t, 0.2, rc.TurnDetection.Threshold, 1e-9)
	assert.Equal(t, 600, rc.TurnDetection.SilenceDurationMs)
	assert.Equal(t, 200, rc.TurnDetection.PrefixPaddingMs)
	require.NotNil(t, rc.TurnDetection.CreateResponse)
	assert.False(t, *rc.TurnDetection.CreateResponse)

	io := s.IOConfig()
	assert.Equal(t, 1024, io.FramesPerBuffer)

	cc := s.CoordinatorConfig()
	assert.Equal(t, coordinator.InterruptBoth, cc.InterruptSource)
	assert.True(t, cc.IgnoreSpeechInterrupts)
	assert.InDelta(t, 900, cc.Detector.BaseThreshold, 1e-9)
	assert.Equal(t, 2000, cc.MaxContextChars)
	assert.Equal(t, 1500*time.Millisecond, cc.CancelAckTimeout)
	require.NoError(t, cc.Validate())

	mc := s.MonitorConfig()
	assert.Equal(t, 2*time.Second, mc.Interval)
	assert.InDelta(t, 2048, mc.Thresholds.MemoryCriticalMB, 1e-9)

	tc := s.TelemetryConfig("1.2.3")
	assert.Equal(t, "http://collector:4318", tc.Endpoint)
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.InDelta(t, 0.25, tc.SampleRatio, 1e-9)

	ls := s.Logging.LoggerSpec()
	assert.Equal(t, "json", ls.Format)
	require.Len(t, ls.Modules, 1)
	assert.Equal(t, "trace", ls.Modules[0].Level)
}

func TestParseConfig_SchemaErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		contains string
	}{
		{
			name:     "wrong kind",
			manifest: "apiVersion: fractflow.io/v1alpha1\nkind: Arena\nspec: {}\n",
			contains: "kind",
		},
		{
			name:     "missing spec",
			manifest: "apiVersion: fractflow.io/v1alpha1\nkind: VoiceAgent\n",
			contains: "spec",
		},
		{
			name:     "unknown mode",
			manifest: "apiVersion: fractflow.io/v1alpha1\nkind: VoiceAgent\nspec:\n  mode: walkie-talkie\n",
			contains: "mode",
		},
		{
			name:     "unknown field",
			manifest: "apiVersion: fractflow.io/v1alpha1\nkind: VoiceAgent\nspec:\n  speakers: 2\n",
			contains: "speakers",
		},
		{
			name:     "bad duration",
			manifest: "apiVersion: fractflow.io/v1alpha1\nkind: VoiceAgent\nspec:\n  realtime:\n    cancelAckTimeout: soon\n",
			contains: "cancelAckTimeout",
		},
		{
			name:     "sample rate not supported",
			manifest: "apiVersion: fractflow.io/v1alpha1\nkind: VoiceAgent\nspec:\n  audio:\n    inputSampleRate: 11025\n",
			contains: "inputSampleRate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.manifest))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "does not match schema")
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestParseConfig_Malformed(t *testing.T) {
	_, err := ParseConfig([]byte("spec: [unterminated"))
	require.Error(t, err)

	_, err = ParseConfig(nil)
	require.Error(t, err)
}

func TestParseConfig_SemanticErrors(t *testing.T) {
	clearKeyEnv(t)
	manifest := minimalManifest + `  monitor:
    memoryWarningMB: 900
    memoryCriticalMB: 800
`
	_, err := ParseConfig([]byte(manifest))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spec.monitor.memoryWarningMB")
}

func TestApplyEnv(t *testing.T) {
	env := func(vars map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := vars[k]
			return v, ok
		}
	}

	s := DefaultVoiceAgentSpec(realtime.ModeManual)
	s.ApplyEnv(env(map[string]string{"DASHSCOPE_API_KEY": "sk-dash", "QWEN_API_KEY": "sk-qwen"}))
	assert.Equal(t, "sk-dash", s.Realtime.APIKey)

	s = DefaultVoiceAgentSpec(realtime.ModeManual)
	s.ApplyEnv(env(map[string]string{"DASHSCOPE_API_KEY": "", "QWEN_API_KEY": "sk-qwen"}))
	assert.Equal(t, "sk-qwen", s.Realtime.APIKey)

	s = DefaultVoiceAgentSpec(realtime.ModeManual)
	s.Realtime.APIKey = "sk-manifest"
	s.ApplyEnv(env(map[string]string{"DASHSCOPE_API_KEY": "sk-dash"}))
	assert.Equal(t, "sk-manifest", s.Realtime.APIKey)
	assert.Equal(t, "sk-manifest", s.Credentials().APIKey)
}

func TestParseConfig_APIKeyFromEnvironment(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("QWEN_API_KEY", "sk-from-env")

	cfg, err := ParseConfig([]byte(minimalManifest))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Spec.CoordinatorConfig().Credentials.APIKey)
}

func TestLoadConfig(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalManifest), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "desk", cfg.Metadata.Name)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("apiVersion: v0\nkind: VoiceAgent\nspec: {}\n"), 0o600))
	_, err = LoadConfig(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
}

func TestDefaultVoiceAgentSpec(t *testing.T) {
	for _, mode := range []realtime.Mode{realtime.ModeManual, realtime.ModeContinuous} {
		t.Run(string(mode), func(t *testing.T) {
			s := DefaultVoiceAgentSpec(mode)
			require.NoError(t, s.Validate())
			assert.Equal(t, string(mode), s.Mode)
			assert.Equal(t, mode == realtime.ModeContinuous, s.Realtime.VAD != nil)
			assert.Equal(t, mode, s.RealtimeConfig().Mode)
		})
	}
}

func TestNewVoiceAgentConfig(t *testing.T) {
	cfg := NewVoiceAgentConfig("desk", realtime.ModeContinuous)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, APIVersion, cfg.APIVersion)
	assert.Equal(t, KindVoice, cfg.Kind)
	assert.Equal(t, "desk", cfg.Metadata.Name)
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*VoiceAgentSpec)
		field  string
	}{
		{"mode", func(s *VoiceAgentSpec) { s.Mode = "ptt" }, "spec.mode"},
		{"device", func(s *VoiceAgentSpec) { s.Audio.Device = "alsa" }, "spec.audio.device"},
		{"interrupt source", func(s *VoiceAgentSpec) { s.Interrupt.Source = "nowhere" }, "spec.interrupt.source"},
		{"detector", func(s *VoiceAgentSpec) { s.Interrupt.SpeechRatio = 3 }, "spec.interrupt"},
		{"backend", func(s *VoiceAgentSpec) { s.Conversation.Backend = "sqlite" }, "spec.conversation.backend"},
		{"file dir", func(s *VoiceAgentSpec) { s.Conversation.Dir = "" }, "spec.conversation.dir"},
		{"redis addr", func(s *VoiceAgentSpec) {
			s.Conversation.Backend = BackendRedis
			s.Conversation.Redis.Addr = ""
		}, "spec.conversation.redis.addr"},
		{"backoff", func(s *VoiceAgentSpec) { s.Realtime.InitialBackoff = time.Minute }, "spec.realtime.initialBackoff"},
		{"sample ratio", func(s *VoiceAgentSpec) { s.Tracing.SampleRatio = 2 }, "spec.tracing.sampleRatio"},
		{"logging", func(s *VoiceAgentSpec) { s.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultVoiceAgentSpec(realtime.ModeManual)
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestSchemaJSON(t *testing.T) {
	data, err := SchemaJSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, SchemaID, doc["$id"])
	assert.Equal(t, KindVoice, doc["title"])
	assert.Equal(t, false, doc["additionalProperties"])
	assert.ElementsMatch(t, []any{"apiVersion", "kind", "spec"}, doc["required"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "$schema")
	apiVersion, ok := props["apiVersion"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, APIVersion, apiVersion["const"])

	meta, ok := props["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, meta["properties"], "labels")
}

func TestGenerateSchema_MapsDurationsToStrings(t *testing.T) {
	schema := GenerateSchema()
	assert.Equal(t, SchemaID, string(schema.ID))

	realtimeDef, ok := schema.Definitions["RealtimeSpec"]
	require.True(t, ok)
	timeout, ok := realtimeDef.Properties.Get("cancelAckTimeout")
	require.True(t, ok)
	assert.Equal(t, "string", timeout.Type)
	assert.Equal(t, durationPattern, timeout.Pattern)

	// Durations round-trip through the schema and the loader.
	res, err := ValidateWithSchema([]byte("apiVersion: fractflow.io/v1alpha1\nkind: VoiceAgent\nspec:\n  realtime:\n    cancelAckTimeout: 1500ms\n"))
	require.NoError(t, err)
	assert.True(t, res.Valid, "%v", res.Errors)
}

func TestParseConfig_Options(t *testing.T) {
	clearKeyEnv(t)

	cfg, err := ParseConfig([]byte(minimalManifest),
		WithMode(realtime.ModeContinuous),
		WithDevice(DeviceMemory),
		WithMetricsAddr(":9464"),
	)
	require.NoError(t, err)
	assert.Equal(t, "continuous", cfg.Spec.Mode)
	assert.Equal(t, DeviceMemory, cfg.Spec.Audio.Device)
	assert.Equal(t, ":9464", cfg.Spec.Metrics.Addr)
	// Mode-dependent defaults follow the override.
	require.NotNil(t, cfg.Spec.Realtime.VAD)
	assert.InDelta(t, 0.6, cfg.Spec.Realtime.Temperature, 1e-9)
}

func TestDefault(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("DASHSCOPE_API_KEY", "sk-env")

	cfg, err := Default("cli", WithMode(realtime.ModeManual), WithMode(""))
	require.NoError(t, err)
	assert.Equal(t, "cli", cfg.Metadata.Name)
	assert.Equal(t, "manual", cfg.Spec.Mode)
	assert.Equal(t, "sk-env", cfg.Spec.Realtime.APIKey)

	_, err = Default("cli", WithMode("walkie-talkie"))
	require.Error(t, err)
}

func TestDisabledToggles(t *testing.T) {
	s := DefaultVoiceAgentSpec(realtime.ModeManual)
	s.Interrupt.Enabled = testutil.Ptr(false)
	s.Monitor.Enabled = testutil.Ptr(false)
	require.NoError(t, s.Validate())

	assert.True(t, s.CoordinatorConfig().IgnoreSpeechInterrupts)
	assert.False(t, s.MonitorEnabled())

	// Defaulting keeps explicit false values.
	s.applyDefaults()
	assert.False(t, *s.Interrupt.Enabled)
	assert.False(t, *s.Monitor.Enabled)
}

func TestValidateWithSchema_Fields(t *testing.T) {
	doc := "apiVersion: fractflow.io/v1alpha1\nkind: VoiceAgent\nspec:\n  mode: walkie-talkie\n  audio:\n    inputSampleRate: 11025\n"
	res, err := ValidateWithSchema([]byte(doc))
	require.NoError(t, err)
	assert.False(t, res.Valid)

	fields := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "spec.audio.inputSampleRate")
	assert.Contains(t, fields, "spec.mode")
	assert.True(t, sort.StringsAreSorted(fields))

	_, err = ValidateWithSchema([]byte("# nothing here\n"))
	require.ErrorIs(t, err, errEmptyManifest)
}
