package audio

import (
	"sync"
)

// InterruptionStrategy determines how to handle the user talking over the assistant.
type InterruptionStrategy int

const (
	// InterruptionIgnore ignores user speech during assistant output.
	InterruptionIgnore InterruptionStrategy = iota
	// InterruptionImmediate stops the assistant as soon as speech is detected.
	InterruptionImmediate
)

// String returns a human-readable representation of the interruption strategy.
func (s InterruptionStrategy) String() string {
	switch s {
	case InterruptionIgnore:
		return "ignore"
	case InterruptionImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// ParseInterruptionStrategy maps a config value to a strategy. Unknown
// values fall back to InterruptionImmediate.
func ParseInterruptionStrategy(s string) InterruptionStrategy {
	if s == "ignore" {
		return InterruptionIgnore
	}
	return InterruptionImmediate
}

// InterruptionHandler latches at most one interruption per assistant
// utterance. Frames are always fed to the detector so calibration keeps
// tracking the room even while nobody can interrupt.
type InterruptionHandler struct {
	strategy InterruptionStrategy
	detector *InterruptDetector

	mu          sync.RWMutex
	botSpeaking bool
	interrupted bool
	last        SpeechState
}

// NewInterruptionHandler creates an InterruptionHandler with the given strategy and detector.
func NewInterruptionHandler(strategy InterruptionStrategy, detector *InterruptDetector) *InterruptionHandler {
	return &InterruptionHandler{
		strategy: strategy,
		detector: detector,
	}
}

// Strategy returns the configured strategy.
func (h *InterruptionHandler) Strategy() InterruptionStrategy {
	return h.strategy
}

// SetBotSpeaking marks the start or end of assistant output. Starting a new
// utterance re-arms the latch.
func (h *InterruptionHandler) SetBotSpeaking(speaking bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if speaking && !h.botSpeaking {
		h.interrupted = false
	}
	h.botSpeaking = speaking
}

// Observe runs frame through the detector without touching the latch, so
// calibration and LastState keep tracking the room while local speech may
// not interrupt. Must be called from the ProcessFrame goroutine.
func (h *InterruptionHandler) Observe(frame AudioFrame) SpeechState {
	state := h.detector.Observe(frame)

	h.mu.Lock()
	h.last = state
	h.mu.Unlock()
	return state
}

// ProcessFrame runs frame through the detector and reports whether it
// triggers an interruption. It returns true at most once per utterance.
// Must be called from a single goroutine.
func (h *InterruptionHandler) ProcessFrame(frame AudioFrame) (bool, SpeechState) {
	state := h.Observe(frame)
	if !state.Speaking {
		return false, state
	}
	return h.trigger(), state
}

// ProcessSpeechStarted applies an externally detected speech start, such as
// a remote VAD event, through the same latch.
func (h *InterruptionHandler) ProcessSpeechStarted() bool {
	return h.trigger()
}

func (h *InterruptionHandler) trigger() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.botSpeaking || h.interrupted {
		return false
	}

	switch h.strategy {
	case InterruptionImmediate:
		h.interrupted = true
		return true
	default:
		return false
	}
}

// LastState returns the detector verdict for the most recent frame.
func (h *InterruptionHandler) LastState() SpeechState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Reset clears interruption state for a new turn. Calibration is kept.
func (h *InterruptionHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.botSpeaking = false
	h.interrupted = false
	h.last = SpeechState{}
}
