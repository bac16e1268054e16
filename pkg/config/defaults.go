package config

import (
	"time"

	"github.com/RRiiiccckkk/FractFlow/runtime/audio"
	"github.com/RRiiiccckkk/FractFlow/runtime/conversation"
	"github.com/RRiiiccckkk/FractFlow/runtime/coordinator"
	"github.com/RRiiiccckkk/FractFlow/runtime/monitor"
	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
	"github.com/RRiiiccckkk/FractFlow/runtime/telemetry"
)

// DefaultVoiceAgentSpec returns a fully populated spec for mode.
func DefaultVoiceAgentSpec(mode realtime.Mode) VoiceAgentSpec {
	var s VoiceAgentSpec
	s.Mode = string(mode)
	s.applyDefaults()
	return s
}

// NewVoiceAgentConfig wraps a default spec in a manifest.
func NewVoiceAgentConfig(name string, mode realtime.Mode) *VoiceAgentConfig {
	cfg := &VoiceAgentConfig{
		APIVersion: APIVersion,
		Kind:       KindVoice,
		Spec:       DefaultVoiceAgentSpec(mode),
	}
	cfg.Metadata.Name = name
	return cfg
}

// applyDefaults fills every zero field.
func (s *VoiceAgentSpec) applyDefaults() {
	if s.Mode == "" {
		s.Mode = string(realtime.ModeManual)
	}
	preset := realtime.PresetFor(realtime.Mode(s.Mode))

	r := &s.Realtime
	setString(&r.Endpoint, preset.Endpoint)
	setString(&r.Model, preset.Model)
	setString(&r.Voice, preset.Voice)
	setString(&r.Instructions, preset.Instructions)
	setString(&r.TranscriptionModel, preset.TranscriptionModel)
	if r.Temperature == 0 {
		r.Temperature = preset.Temperature
	}
	setDuration(&r.SetupTimeout, preset.SetupTimeout)
	setDuration(&r.CancelAckTimeout, preset.CancelAckTimeout)
	setDuration(&r.InitialBackoff, preset.InitialReconnectBackoff)
	setDuration(&r.MaxBackoff, preset.MaxReconnectBackoff)
	if r.MaxReconnectAttempts == 0 {
		r.MaxReconnectAttempts = preset.MaxReconnectAttempts
	}
	if r.VAD == nil && preset.TurnDetection != nil {
		r.VAD = &VADSpec{}
	}
	if r.VAD != nil && preset.TurnDetection != nil {
		td := preset.TurnDetection
		if r.VAD.Threshold == 0 {
			r.VAD.Threshold = td.Threshold
		}
		setInt(&r.VAD.PrefixPaddingMs, td.PrefixPaddingMs)
		setInt(&r.VAD.SilenceDurationMs, td.SilenceDurationMs)
	}

	io := audio.DefaultIOConfig()
	a := &s.Audio
	setString(&a.Device, DevicePortAudio)
	setInt(&a.InputSampleRate, io.InputSampleRate)
	setInt(&a.OutputSampleRate, io.OutputSampleRate)
	setInt(&a.Channels, io.Channels)
	setInt(&a.FramesPerBuffer, io.FramesPerBuffer)
	setInt(&a.PlaybackQueueSize, io.PlaybackQueueSize)

	det := audio.DefaultDetectorParams()
	in := &s.Interrupt
	setString(&in.Source, string(coordinator.InterruptAuto))
	if in.Enabled == nil {
		in.Enabled = boolPtr(true)
	}
	if in.BaseThreshold == 0 {
		in.BaseThreshold = det.BaseThreshold
	}
	if in.NoiseMargin == 0 {
		in.NoiseMargin = det.NoiseMargin
	}
	if in.SpeechRatio == 0 {
		in.SpeechRatio = det.SpeechRatio
	}
	setInt(&in.CalibrationFrames, det.CalibrationFrames)
	setInt(&in.WindowSize, det.WindowSize)
	setInt(&in.MinWindow, det.MinWindow)

	c := &s.Conversation
	setString(&c.Backend, BackendFile)
	setString(&c.Dir, DefaultHistoryDir)
	setInt(&c.MaxTurns, conversation.DefaultMaxTurns)
	setInt(&c.MaxContextChars, conversation.DefaultMaxContextChars)
	setDuration(&c.ResumeWindow, conversation.DefaultResumeWindow)
	setDuration(&c.Retention, conversation.DefaultRetention)
	setString(&c.Redis.Addr, DefaultRedisAddr)
	setString(&c.Redis.Prefix, DefaultRedisPrefix)

	th := monitor.DefaultThresholds()
	m := &s.Monitor
	if m.Enabled == nil {
		m.Enabled = boolPtr(true)
	}
	setDuration(&m.Interval, monitor.DefaultInterval)
	if m.MemoryWarningMB == 0 {
		m.MemoryWarningMB = th.MemoryWarningMB
	}
	if m.MemoryCriticalMB == 0 {
		m.MemoryCriticalMB = th.MemoryCriticalMB
	}
	setInt(&m.ThreadsCritical, th.ThreadsCritical)
	setInt(&m.FDsCritical, th.FDsCritical)

	setString(&s.Tracing.ServiceName, telemetry.DefaultServiceName)
	if s.Tracing.SampleRatio == 0 {
		s.Tracing.SampleRatio = 1
	}

	if s.Logging == nil {
		l := DefaultLoggingConfig()
		s.Logging = &l
	}
	setString(&s.Logging.DefaultLevel, LogLevelInfo)
	setString(&s.Logging.Format, LogFormatText)
}

func setString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}
