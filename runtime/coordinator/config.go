package coordinator

import (
	"fmt"
	"time"

	"github.com/RRiiiccckkk/FractFlow/runtime/audio"
	"github.com/RRiiiccckkk/FractFlow/runtime/conversation"
	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
)

// Coordinator defaults.
const (
	DefaultCancelAckTimeout  = realtime.DefaultCancelAckTimeout
	DefaultDisconnectTimeout = 3 * time.Second
	DefaultInboxSize         = 256
)

// InterruptSource selects which speech signal may interrupt the assistant.
// An explicit Interrupt call is always honored.
type InterruptSource string

// Interrupt source settings.
const (
	// InterruptAuto uses the local detector in manual mode and remote VAD in
	// continuous mode.
	InterruptAuto   InterruptSource = "auto"
	InterruptLocal  InterruptSource = "local"
	InterruptRemote InterruptSource = "remote"
	InterruptBoth   InterruptSource = "both"
)

// ParseInterruptSource maps a config value to a source. Empty means auto.
func ParseInterruptSource(s string) (InterruptSource, error) {
	switch src := InterruptSource(s); src {
	case "":
		return InterruptAuto, nil
	case InterruptAuto, InterruptLocal, InterruptRemote, InterruptBoth:
		return src, nil
	default:
		return "", fmt.Errorf("unknown interrupt source %q", s)
	}
}

// Config configures a Coordinator.
type Config struct {
	Mode        realtime.Mode
	Credentials realtime.Credentials

	InterruptSource InterruptSource
	// IgnoreSpeechInterrupts disables speech-triggered interrupts entirely.
	IgnoreSpeechInterrupts bool
	Detector               audio.DetectorParams

	// RecordAfterInterrupt starts a new recording turn after an interrupt in
	// manual mode instead of returning to Idle.
	RecordAfterInterrupt bool

	// MaxContextChars bounds the history injected after each connect.
	MaxContextChars int

	CancelAckTimeout  time.Duration
	DisconnectTimeout time.Duration
	InboxSize         int
}

// DefaultConfig returns defaults for mode.
func DefaultConfig(mode realtime.Mode) Config {
	return Config{
		Mode:              mode,
		InterruptSource:   InterruptAuto,
		Detector:          audio.DefaultDetectorParams(),
		MaxContextChars:   conversation.DefaultMaxContextChars,
		CancelAckTimeout:  DefaultCancelAckTimeout,
		DisconnectTimeout: DefaultDisconnectTimeout,
		InboxSize:         DefaultInboxSize,
	}
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = realtime.ModeManual
	}
	if c.InterruptSource == "" {
		c.InterruptSource = InterruptAuto
	}
	if c.Detector == (audio.DetectorParams{}) {
		c.Detector = audio.DefaultDetectorParams()
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = conversation.DefaultMaxContextChars
	}
	if c.CancelAckTimeout <= 0 {
		c.CancelAckTimeout = DefaultCancelAckTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if _, err := ParseInterruptSource(string(c.InterruptSource)); err != nil {
		return err
	}
	return c.Detector.Validate()
}

// localInterrupts reports whether the local detector may interrupt.
func (c Config) localInterrupts() bool {
	switch c.InterruptSource {
	case InterruptLocal, InterruptBoth:
		return true
	case InterruptRemote:
		return false
	default:
		return c.Mode == realtime.ModeManual
	}
}

func (c Config) strategy() audio.InterruptionStrategy {
	if c.IgnoreSpeechInterrupts {
		return audio.InterruptionIgnore
	}
	return audio.InterruptionImmediate
}

// remoteInterrupts reports whether remote SpeechStarted may interrupt.
func (c Config) remoteInterrupts() bool {
	switch c.InterruptSource {
	case InterruptRemote, InterruptBoth:
		return true
	case InterruptLocal:
		return false
	default:
		return c.Mode == realtime.ModeContinuous
	}
}
