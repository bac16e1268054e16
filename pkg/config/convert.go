package config

import (
	"github.com/RRiiiccckkk/FractFlow/runtime/audio"
	"github.com/RRiiiccckkk/FractFlow/runtime/coordinator"
	"github.com/RRiiiccckkk/FractFlow/runtime/monitor"
	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
	"github.com/RRiiiccckkk/FractFlow/runtime/telemetry"
)

// RealtimeConfig returns the client config: the mode preset with the
// manifest's overrides.
func (s *VoiceAgentSpec) RealtimeConfig() realtime.Config {
	mode := realtime.Mode(s.Mode)
	cfg := realtime.PresetFor(mode)
	r := s.Realtime

	overrideString(&cfg.Endpoint, r.Endpoint)
	overrideString(&cfg.Model, r.Model)
	overrideString(&cfg.Voice, r.Voice)
	overrideString(&cfg.Instructions, r.Instructions)
	overrideString(&cfg.TranscriptionModel, r.TranscriptionModel)
	if r.Temperature != 0 {
		cfg.Temperature = r.Temperature
	}
	if r.SetupTimeout > 0 {
		cfg.SetupTimeout = r.SetupTimeout
	}
	if r.CancelAckTimeout > 0 {
		cfg.CancelAckTimeout = r.CancelAckTimeout
	}
	if r.MaxReconnectAttempts > 0 {
		cfg.MaxReconnectAttempts = r.MaxReconnectAttempts
	}
	if r.InitialBackoff > 0 {
		cfg.InitialReconnectBackoff = r.InitialBackoff
	}
	if r.MaxBackoff > 0 {
		cfg.MaxReconnectBackoff = r.MaxBackoff
	}
	if mode == realtime.ModeContinuous && cfg.TurnDetection != nil && r.VAD != nil {
		td := *cfg.TurnDetection
		if r.VAD.Threshold > 0 {
			td.Threshold = r.VAD.Threshold
		}
		if r.VAD.PrefixPaddingMs > 0 {
			td.PrefixPaddingMs = r.VAD.PrefixPaddingMs
		}
		if r.VAD.SilenceDurationMs > 0 {
			td.SilenceDurationMs = r.VAD.SilenceDurationMs
		}
		cfg.TurnDetection = &td
	}
	return cfg
}

// Credentials returns the resolved API key.
func (s *VoiceAgentSpec) Credentials() realtime.Credentials {
	return realtime.Credentials{APIKey: s.Realtime.APIKey}
}

// IOConfig returns the audio I/O settings.
func (s *VoiceAgentSpec) IOConfig() audio.IOConfig {
	cfg := audio.DefaultIOConfig()
	a := s.Audio
	if a.InputSampleRate > 0 {
		cfg.InputSampleRate = a.InputSampleRate
	}
	if a.OutputSampleRate > 0 {
		cfg.OutputSampleRate = a.OutputSampleRate
	}
	if a.Channels > 0 {
		cfg.Channels = a.Channels
	}
	if a.FramesPerBuffer > 0 {
		cfg.FramesPerBuffer = a.FramesPerBuffer
	}
	if a.PlaybackQueueSize > 0 {
		cfg.PlaybackQueueSize = a.PlaybackQueueSize
	}
	return cfg
}

// DetectorParams returns the local interrupt detector tuning.
func (s *VoiceAgentSpec) DetectorParams() audio.DetectorParams {
	p := audio.DefaultDetectorParams()
	in := s.Interrupt
	if in.BaseThreshold > 0 {
		p.BaseThreshold = in.BaseThreshold
	}
	if in.NoiseMargin > 0 {
		p.NoiseMargin = in.NoiseMargin
	}
	if in.CalibrationFrames > 0 {
		p.CalibrationFrames = in.CalibrationFrames
	}
	if in.WindowSize > 0 {
		p.WindowSize = in.WindowSize
	}
	if in.MinWindow > 0 {
		p.MinWindow = in.MinWindow
	}
	if in.SpeechRatio > 0 {
		p.SpeechRatio = in.SpeechRatio
	}
	return p
}

// CoordinatorConfig returns the conversation coordinator settings.
func (s *VoiceAgentSpec) CoordinatorConfig() coordinator.Config {
	cfg := coordinator.DefaultConfig(realtime.Mode(s.Mode))
	cfg.Credentials = s.Credentials()
	if src, err := coordinator.ParseInterruptSource(s.Interrupt.Source); err == nil {
		cfg.InterruptSource = src
	}
	cfg.IgnoreSpeechInterrupts = !enabled(s.Interrupt.Enabled)
	cfg.RecordAfterInterrupt = s.Interrupt.RecordAfterInterrupt
	cfg.Detector = s.DetectorParams()
	if s.Conversation.MaxContextChars > 0 {
		cfg.MaxContextChars = s.Conversation.MaxContextChars
	}
	if s.Realtime.CancelAckTimeout > 0 {
		cfg.CancelAckTimeout = s.Realtime.CancelAckTimeout
	}
	return cfg
}

// MonitorEnabled reports whether the resource monitor should run.
func (s *VoiceAgentSpec) MonitorEnabled() bool { return enabled(s.Monitor.Enabled) }

// MonitorConfig returns the resource monitor settings.
func (s *VoiceAgentSpec) MonitorConfig() monitor.Config {
	cfg := monitor.DefaultConfig()
	m := s.Monitor
	if m.Interval > 0 {
		cfg.Interval = m.Interval
	}
	if m.MemoryWarningMB > 0 {
		cfg.Thresholds.MemoryWarningMB = m.MemoryWarningMB
	}
	if m.MemoryCriticalMB > 0 {
		cfg.Thresholds.MemoryCriticalMB = m.MemoryCriticalMB
	}
	if m.ThreadsCritical > 0 {
		cfg.Thresholds.ThreadsCritical = m.ThreadsCritical
	}
	if m.FDsCritical > 0 {
		cfg.Thresholds.FDsCritical = m.FDsCritical
	}
	return cfg
}

// TelemetryConfig returns the tracing settings. version is reported as
// service.version.
func (s *VoiceAgentSpec) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Endpoint:       s.Tracing.Endpoint,
		ServiceName:    s.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    s.Tracing.Environment,
		SampleRatio:    s.Tracing.SampleRatio,
	}
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
