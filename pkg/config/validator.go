package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/RRiiiccckkk/FractFlow/runtime/coordinator"
	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
)

// Validate checks the semantic rules the schema cannot express. It reports
// every problem found.
func (c *VoiceAgentConfig) Validate() error {
	var errs []error
	if c.APIVersion != APIVersion {
		errs = append(errs, &ValidationError{Field: "apiVersion", Message: "must be " + APIVersion, Value: c.APIVersion})
	}
	if c.Kind != KindVoice {
		errs = append(errs, &ValidationError{Field: "kind", Message: "must be " + KindVoice, Value: c.Kind})
	}
	if err := c.Spec.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks a defaulted spec.
func (s *VoiceAgentSpec) Validate() error {
	var errs []error
	add := func(field, msg, value string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg, Value: value})
	}

	if !realtime.Mode(s.Mode).Valid() {
		add("spec.mode", "must be manual or continuous", s.Mode)
	}
	if s.Realtime.Endpoint == "" {
		add("spec.realtime.endpoint", "is required", "")
	}
	if s.Realtime.Model == "" {
		add("spec.realtime.model", "is required", "")
	}
	if s.Realtime.InitialBackoff > s.Realtime.MaxBackoff {
		add("spec.realtime.initialBackoff", "must not exceed maxBackoff", s.Realtime.InitialBackoff.String())
	}

	switch s.Audio.Device {
	case DevicePortAudio, DeviceMemory:
	default:
		add("spec.audio.device", "must be portaudio or memory", s.Audio.Device)
	}

	if _, err := coordinator.ParseInterruptSource(s.Interrupt.Source); err != nil {
		add("spec.interrupt.source", "must be auto, local, remote or both", s.Interrupt.Source)
	}
	if err := s.DetectorParams().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("spec.interrupt: %w", err))
	}

	switch s.Conversation.Backend {
	case BackendMemory:
	case BackendFile:
		if s.Conversation.Dir == "" {
			add("spec.conversation.dir", "is required for the file backend", "")
		}
	case BackendRedis:
		if s.Conversation.Redis.Addr == "" {
			add("spec.conversation.redis.addr", "is required for the redis backend", "")
		}
	default:
		add("spec.conversation.backend", "must be memory, file or redis", s.Conversation.Backend)
	}

	if s.Monitor.MemoryWarningMB >= s.Monitor.MemoryCriticalMB {
		add("spec.monitor.memoryWarningMB", "must be below memoryCriticalMB",
			strconv.FormatFloat(s.Monitor.MemoryWarningMB, 'f', -1, 64))
	}
	if r := s.Tracing.SampleRatio; r < 0 || r > 1 {
		add("spec.tracing.sampleRatio", "must be between 0 and 1", strconv.FormatFloat(r, 'f', -1, 64))
	}

	if s.Logging != nil {
		if err := s.Logging.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
