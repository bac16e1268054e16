package config

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Manifest identity.
const (
	APIVersion = "fractflow.io/v1alpha1"
	KindVoice  = "VoiceAgent"
)

// Audio device backends.
const (
	DevicePortAudio = "portaudio"
	DeviceMemory    = "memory"
)

// Conversation cache backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Defaults not owned by a runtime package.
const (
	DefaultHistoryDir  = ".fractflow/history"
	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "fractflow"
	DefaultMetricsAddr = ""
)

// VoiceAgentConfig is the top-level manifest.
type VoiceAgentConfig struct {
	APIVersion string            `yaml:"apiVersion" jsonschema:"const=fractflow.io/v1alpha1"`
	Kind       string            `yaml:"kind" jsonschema:"const=VoiceAgent"`
	Metadata   metav1.ObjectMeta `yaml:"metadata,omitempty"`
	Spec       VoiceAgentSpec    `yaml:"spec"`
}

// VoiceAgentSpec configures one voice session.
type VoiceAgentSpec struct {
	// Mode is "manual" (push-to-talk) or "continuous" (server VAD).
	Mode string `yaml:"mode,omitempty" jsonschema:"enum=manual,enum=continuous"`

	Realtime     RealtimeSpec       `yaml:"realtime,omitempty"`
	Audio        AudioSpec          `yaml:"audio,omitempty"`
	Interrupt    InterruptSpec      `yaml:"interrupt,omitempty"`
	Conversation ConversationSpec   `yaml:"conversation,omitempty"`
	Monitor      MonitorSpec        `yaml:"monitor,omitempty"`
	Metrics      MetricsSpec        `yaml:"metrics,omitempty"`
	Tracing      TracingSpec        `yaml:"tracing,omitempty"`
	Logging      *LoggingConfigSpec `yaml:"logging,omitempty"`
}

// RealtimeSpec configures the realtime session. Zero fields take the preset
// for the mode.
type RealtimeSpec struct {
	Endpoint           string  `yaml:"endpoint,omitempty" jsonschema:"pattern=^wss?://"`
	Model              string  `yaml:"model,omitempty" jsonschema:"minLength=1"`
	Voice              string  `yaml:"voice,omitempty" jsonschema:"minLength=1"`
	Instructions       string  `yaml:"instructions,omitempty"`
	Temperature        float64 `yaml:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`
	TranscriptionModel string  `yaml:"transcriptionModel,omitempty"`
	// APIKey is normally left empty and taken from the environment.
	APIKey string `yaml:"apiKey,omitempty"`

	SetupTimeout         time.Duration `yaml:"setupTimeout,omitempty"`
	CancelAckTimeout     time.Duration `yaml:"cancelAckTimeout,omitempty"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts,omitempty" jsonschema:"minimum=0"`
	InitialBackoff       time.Duration `yaml:"initialBackoff,omitempty"`
	MaxBackoff           time.Duration `yaml:"maxBackoff,omitempty"`

	// VAD tunes server turn detection in continuous mode.
	VAD *VADSpec `yaml:"vad,omitempty"`
}

// VADSpec tunes server-side voice activity detection.
type VADSpec struct {
	Threshold         float64 `yaml:"threshold,omitempty" jsonschema:"minimum=0,maximum=1"`
	PrefixPaddingMs   int     `yaml:"prefixPaddingMs,omitempty" jsonschema:"minimum=0"`
	SilenceDurationMs int     `yaml:"silenceDurationMs,omitempty" jsonschema:"minimum=0"`
}

// AudioSpec configures local audio.
type AudioSpec struct {
	// Device is "portaudio" or "memory".
	Device            string `yaml:"device,omitempty" jsonschema:"enum=portaudio,enum=memory"`
	InputSampleRate   int    `yaml:"inputSampleRate,omitempty" jsonschema:"enum=8000,enum=16000,enum=24000,enum=48000"`
	OutputSampleRate  int    `yaml:"outputSampleRate,omitempty" jsonschema:"enum=8000,enum=16000,enum=24000,enum=48000"`
	Channels          int    `yaml:"channels,omitempty" jsonschema:"minimum=1,maximum=2"`
	FramesPerBuffer   int    `yaml:"framesPerBuffer,omitempty" jsonschema:"minimum=64"`
	PlaybackQueueSize int    `yaml:"playbackQueueSize,omitempty" jsonschema:"minimum=1"`
}

// InterruptSpec configures barge-in.
type InterruptSpec struct {
	// Source is auto, local, remote or both.
	Source string `yaml:"source,omitempty" jsonschema:"enum=auto,enum=local,enum=remote,enum=both"`
	// Enabled turns speech-triggered interrupts on. Defaults to true.
	Enabled              *bool `yaml:"enabled,omitempty"`
	RecordAfterInterrupt bool  `yaml:"recordAfterInterrupt,omitempty"`

	BaseThreshold     float64 `yaml:"baseThreshold,omitempty" jsonschema:"minimum=0"`
	NoiseMargin       float64 `yaml:"noiseMargin,omitempty" jsonschema:"minimum=0"`
	CalibrationFrames int     `yaml:"calibrationFrames,omitempty" jsonschema:"minimum=0"`
	WindowSize        int     `yaml:"windowSize,omitempty" jsonschema:"minimum=1"`
	MinWindow         int     `yaml:"minWindow,omitempty" jsonschema:"minimum=1"`
	SpeechRatio       float64 `yaml:"speechRatio,omitempty" jsonschema:"exclusiveMinimum=0,maximum=1"`
}

// ConversationSpec configures the turn history cache.
type ConversationSpec struct {
	// Backend is memory, file or redis.
	Backend         string        `yaml:"backend,omitempty" jsonschema:"enum=memory,enum=file,enum=redis"`
	Dir             string        `yaml:"dir,omitempty"`
	MaxTurns        int           `yaml:"maxTurns,omitempty" jsonschema:"minimum=1"`
	MaxContextChars int           `yaml:"maxContextChars,omitempty" jsonschema:"minimum=100"`
	ResumeWindow    time.Duration `yaml:"resumeWindow,omitempty"`
	Retention       time.Duration `yaml:"retention,omitempty"`
	Redis           RedisSpec     `yaml:"redis,omitempty"`
}

// RedisSpec configures the redis backend.
type RedisSpec struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" jsonschema:"minimum=0"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// MonitorSpec configures the resource monitor.
type MonitorSpec struct {
	// Enabled defaults to true.
	Enabled          *bool         `yaml:"enabled,omitempty"`
	Interval         time.Duration `yaml:"interval,omitempty"`
	MemoryWarningMB  float64       `yaml:"memoryWarningMB,omitempty" jsonschema:"exclusiveMinimum=0"`
	MemoryCriticalMB float64       `yaml:"memoryCriticalMB,omitempty" jsonschema:"exclusiveMinimum=0"`
	ThreadsCritical  int           `yaml:"threadsCritical,omitempty" jsonschema:"minimum=1"`
	FDsCritical      int           `yaml:"fdsCritical,omitempty" jsonschema:"minimum=1"`
}

// MetricsSpec configures the Prometheus endpoint. An empty Addr disables it.
type MetricsSpec struct {
	Addr string `yaml:"addr,omitempty"`
}

// TracingSpec configures OTLP trace export. An empty Endpoint disables it.
type TracingSpec struct {
	Endpoint    string  `yaml:"endpoint,omitempty"`
	ServiceName string  `yaml:"serviceName,omitempty"`
	Environment string  `yaml:"environment,omitempty"`
	SampleRatio float64 `yaml:"sampleRatio,omitempty" jsonschema:"minimum=0,maximum=1"`
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
	Value   string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return "config validation error: " + e.Field + ": " + e.Message + " (got: " + e.Value + ")"
	}
	return "config validation error: " + e.Field + ": " + e.Message
}

func boolPtr(b bool) *bool { return &b }

func enabled(b *bool) bool { return b == nil || *b }
