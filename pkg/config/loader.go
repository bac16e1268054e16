package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
)

// Environment variables consulted for the API key, in order.
var apiKeyEnvVars = []string{"DASHSCOPE_API_KEY", "QWEN_API_KEY"}

// Option adjusts a decoded spec before defaults are applied, so mode
// dependent defaults follow the override.
type Option func(*VoiceAgentSpec)

// WithMode overrides spec.mode.
func WithMode(mode realtime.Mode) Option {
	return func(s *VoiceAgentSpec) {
		if mode != "" {
			s.Mode = string(mode)
		}
	}
}

// WithDevice overrides spec.audio.device.
func WithDevice(device string) Option {
	return func(s *VoiceAgentSpec) {
		if device != "" {
			s.Audio.Device = device
		}
	}
}

// WithMetricsAddr overrides spec.metrics.addr.
func WithMetricsAddr(addr string) Option {
	return func(s *VoiceAgentSpec) {
		if addr != "" {
			s.Metrics.Addr = addr
		}
	}
}

// LoadConfig reads, validates and defaults a manifest file.
func LoadConfig(filename string, opts ...Option) (*VoiceAgentConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := ParseConfig(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return cfg, nil
}

// ParseConfig validates data against the schema, decodes it, applies
// options, defaults and environment overrides, then validates the result.
func ParseConfig(data []byte, opts ...Option) (*VoiceAgentConfig, error) {
	if err := ValidateVoiceAgent(data); err != nil {
		return nil, err
	}

	var cfg VoiceAgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&cfg, opts)
}

// Default builds a manifest from defaults alone, for runs without a
// config file.
func Default(name string, opts ...Option) (*VoiceAgentConfig, error) {
	cfg := &VoiceAgentConfig{APIVersion: APIVersion, Kind: KindVoice}
	cfg.Metadata.Name = name
	return finish(cfg, opts)
}

func finish(cfg *VoiceAgentConfig, opts []Option) (*VoiceAgentConfig, error) {
	for _, opt := range opts {
		opt(&cfg.Spec)
	}
	cfg.Spec.applyDefaults()
	cfg.Spec.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills the API key from the environment when the manifest leaves
// it empty. lookup is usually os.LookupEnv.
func (s *VoiceAgentSpec) ApplyEnv(lookup func(string) (string, bool)) {
	if s.Realtime.APIKey != "" {
		return
	}
	for _, name := range apiKeyEnvVars {
		if v, ok := lookup(name); ok && v != "" {
			s.Realtime.APIKey = v
			return
		}
	}
}
