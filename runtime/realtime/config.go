package realtime

import (
	"net/url"
	"time"
)

// Mode selects who decides turn boundaries.
type Mode string

const (
	// ModeManual uses explicit commit calls; server VAD is disabled.
	ModeManual Mode = "manual"
	// ModeContinuous lets server VAD detect speech start and stop.
	ModeContinuous Mode = "continuous"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeManual || m == ModeContinuous
}

// Defaults.
const (
	DefaultEndpoint             = "wss://dashscope.aliyuncs.com/api-ws/v1/realtime"
	DefaultModel                = "qwen-omni-turbo-realtime"
	DefaultVoice                = "Chelsie"
	DefaultTranscriptionModel   = "gummy-realtime-v1"
	DefaultAudioFormat          = "pcm16"
	DefaultSetupTimeout         = 10 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultOutboundQueueSize    = 256
	DefaultMaxReconnectAttempts = 5
	DefaultInitialBackoff       = 500 * time.Millisecond
	DefaultMaxReconnectBackoff  = 30 * time.Second
	DefaultCancelAckTimeout     = 2 * time.Second

	serverVADType = "server_vad"
)

// Credentials authenticate a connection.
type Credentials struct {
	APIKey string
}

// Config configures a Client.
type Config struct {
	// Endpoint is the WebSocket base URL. The model is added as a query
	// parameter unless the endpoint already carries one.
	Endpoint string
	Model    string
	Mode     Mode

	Voice                   string
	Instructions            string
	Modalities              []string
	Temperature             float64
	MaxResponseOutputTokens any
	TranscriptionModel      string
	// TurnDetection is sent in continuous mode. Manual mode always sends null.
	TurnDetection *TurnDetectionConfig

	DialTimeout       time.Duration
	SetupTimeout      time.Duration
	HeartbeatInterval time.Duration
	OutboundQueueSize int

	// DisableReconnect turns off automatic reconnection on connection loss.
	DisableReconnect bool
	// MaxReconnectAttempts bounds reconnection. Zero retries indefinitely.
	MaxReconnectAttempts    int
	InitialReconnectBackoff time.Duration
	MaxReconnectBackoff     time.Duration

	// CancelAckTimeout bounds CancelAndWait.
	CancelAckTimeout time.Duration

	// Observer receives connection activity. Optional.
	Observer Observer
}

// ManualPreset returns the push-to-talk session settings.
func ManualPreset() Config {
	return Config{
		Endpoint:                DefaultEndpoint,
		Model:                   DefaultModel,
		Mode:                    ModeManual,
		Voice:                   DefaultVoice,
		Instructions:            "You are a helpful voice assistant. Keep answers short and conversational.",
		Modalities:              []string{"text", "audio"},
		Temperature:             0.8,
		MaxResponseOutputTokens: "inf",
		TranscriptionModel:      DefaultTranscriptionModel,
		SetupTimeout:            DefaultSetupTimeout,
		HeartbeatInterval:       DefaultHeartbeatInterval,
		OutboundQueueSize:       DefaultOutboundQueueSize,
		MaxReconnectAttempts:    DefaultMaxReconnectAttempts,
		InitialReconnectBackoff: DefaultInitialBackoff,
		MaxReconnectBackoff:     DefaultMaxReconnectBackoff,
		CancelAckTimeout:        DefaultCancelAckTimeout,
	}
}

// ContinuousPreset returns hands-free settings driven by server VAD.
func ContinuousPreset() Config {
	cfg := ManualPreset()
	cfg.Mode = ModeContinuous
	cfg.Temperature = 0.6
	cfg.MaxResponseOutputTokens = 2048
	cfg.TurnDetection = &TurnDetectionConfig{
		Type:              serverVADType,
		Threshold:         0.08,
		PrefixPaddingMs:   200,
		SilenceDurationMs: 800,
		CreateResponse:    boolPtr(false),
	}
	return cfg
}

// PresetFor returns the preset for mode.
func PresetFor(mode Mode) Config {
	if mode == ModeContinuous {
		return ContinuousPreset()
	}
	return ManualPreset()
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if !c.Mode.Valid() {
		c.Mode = ModeManual
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = DefaultSetupTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = DefaultOutboundQueueSize
	}
	if c.InitialReconnectBackoff <= 0 {
		c.InitialReconnectBackoff = DefaultInitialBackoff
	}
	if c.MaxReconnectBackoff <= 0 {
		c.MaxReconnectBackoff = DefaultMaxReconnectBackoff
	}
	if c.CancelAckTimeout <= 0 {
		c.CancelAckTimeout = DefaultCancelAckTimeout
	}
	if c.Mode == ModeContinuous && c.TurnDetection == nil {
		c.TurnDetection = ContinuousPreset().TurnDetection
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

// URL returns the dial URL.
func (c Config) URL() string {
	u, err := url.Parse(c.Endpoint)
	if err != nil || c.Model == "" {
		return c.Endpoint
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", c.Model)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// sessionConfig builds the session.update payload.
func (c Config) sessionConfig() SessionConfig {
	sc := SessionConfig{
		Modalities:              c.Modalities,
		Instructions:            c.Instructions,
		Voice:                   c.Voice,
		InputAudioFormat:        DefaultAudioFormat,
		OutputAudioFormat:       DefaultAudioFormat,
		Temperature:             c.Temperature,
		MaxResponseOutputTokens: c.MaxResponseOutputTokens,
	}
	if c.TranscriptionModel != "" {
		sc.InputAudioTranscription = &TranscriptionConfig{Model: c.TranscriptionModel}
	}
	if c.Mode == ModeContinuous {
		td := *c.TurnDetection
		sc.TurnDetection = &td
	}
	return sc
}

func boolPtr(b bool) *bool { return &b }
