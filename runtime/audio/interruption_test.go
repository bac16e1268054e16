package audio

import (
	"testing"
	"time"
)

func TestInterruptionStrategy_String(t *testing.T) {
	tests := []struct {
		strategy InterruptionStrategy
		want     string
	}{
		{InterruptionIgnore, "ignore"},
		{InterruptionImmediate, "immediate"},
		{InterruptionStrategy(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.strategy.String(); got != tt.want {
				t.Errorf("InterruptionStrategy.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseInterruptionStrategy(t *testing.T) {
	if ParseInterruptionStrategy("ignore") != InterruptionIgnore {
		t.Error("ignore not parsed")
	}
	if ParseInterruptionStrategy("immediate") != InterruptionImmediate {
		t.Error("immediate not parsed")
	}
	if ParseInterruptionStrategy("") != InterruptionImmediate {
		t.Error("empty should default to immediate")
	}
}

func newTestHandler(t *testing.T, strategy InterruptionStrategy) *InterruptionHandler {
	t.Helper()
	d, err := NewInterruptDetector(noCalibration())
	if err != nil {
		t.Fatal(err)
	}
	return NewInterruptionHandler(strategy, d)
}

func loudFrame() AudioFrame {
	return NewAudioFrame(0, pcmConst(512, 3000), time.Now())
}

func TestInterruptionHandler_SetBotSpeaking(t *testing.T) {
	h := newTestHandler(t, InterruptionImmediate)

	if h.ProcessSpeechStarted() {
		t.Error("no interrupt expected before the assistant speaks")
	}
	h.SetBotSpeaking(true)
	if !h.ProcessSpeechStarted() {
		t.Error("interrupt expected while the assistant speaks")
	}
	h.SetBotSpeaking(false)
	if h.ProcessSpeechStarted() {
		t.Error("no interrupt expected after the assistant stopped")
	}
}

func TestInterruptionHandler_NotSpeaking(t *testing.T) {
	h := newTestHandler(t, InterruptionImmediate)

	for i := 0; i < 5; i++ {
		if ok, _ := h.ProcessFrame(loudFrame()); ok {
			t.Fatal("interrupt reported while bot is quiet")
		}
	}
	if !h.LastState().Speaking {
		t.Error("detector should still run while bot is quiet")
	}
}

func TestInterruptionHandler_ObserveLeavesLatchArmed(t *testing.T) {
	h := newTestHandler(t, InterruptionImmediate)
	h.SetBotSpeaking(true)

	for i := 0; i < 5; i++ {
		h.Observe(loudFrame())
	}
	last := h.LastState()
	if !last.Speaking || last.Energy <= last.Threshold {
		t.Errorf("LastState() = %+v, want speaking above threshold", last)
	}
	if !h.ProcessSpeechStarted() {
		t.Error("Observe must not consume the latch")
	}
}

func TestInterruptionHandler_IgnoreStrategy(t *testing.T) {
	h := newTestHandler(t, InterruptionIgnore)
	h.SetBotSpeaking(true)

	for i := 0; i < 5; i++ {
		if ok, _ := h.ProcessFrame(loudFrame()); ok {
			t.Fatal("InterruptionIgnore should not trigger interruption")
		}
	}
	if h.ProcessSpeechStarted() {
		t.Error("InterruptionIgnore should not trigger on remote speech")
	}
}

func TestInterruptionHandler_ImmediateOncePerUtterance(t *testing.T) {
	h := newTestHandler(t, InterruptionImmediate)
	h.SetBotSpeaking(true)

	triggers := 0
	for i := 0; i < 6; i++ {
		if ok, _ := h.ProcessFrame(loudFrame()); ok {
			triggers++
		}
	}
	if triggers != 1 {
		t.Fatalf("triggers = %d, want 1", triggers)
	}
	if h.ProcessSpeechStarted() {
		t.Error("remote speech must share the latch")
	}

	// A new utterance re-arms the latch.
	h.SetBotSpeaking(false)
	h.SetBotSpeaking(true)
	if !h.ProcessSpeechStarted() {
		t.Error("latch not re-armed for the next utterance")
	}
}

func TestInterruptionHandler_Reset(t *testing.T) {
	h := newTestHandler(t, InterruptionImmediate)
	h.SetBotSpeaking(true)
	h.ProcessFrame(loudFrame())

	h.Reset()
	if h.LastState() != (SpeechState{}) {
		t.Error("Reset() should clear the last verdict")
	}
	if h.ProcessSpeechStarted() {
		t.Error("Reset() should end the assistant utterance")
	}
}
