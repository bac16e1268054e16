package prometheus

import (
	"time"

	"github.com/RRiiiccckkk/FractFlow/runtime/audio"
	"github.com/RRiiiccckkk/FractFlow/runtime/monitor"
)

// Collector forwards component activity into the package metrics. One
// value satisfies the observer interfaces of the audio, realtime, monitor
// and coordinator packages.
type Collector struct{}

// NewCollector creates a new Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// ObserveFrames records frames for a stream ("capture", "playback", "uplink").
func (c *Collector) ObserveFrames(stream, result string, n int) {
	RecordFrames(stream, result, n)
}

// ObservePlaybackDepth records the playback queue length.
func (c *Collector) ObservePlaybackDepth(depth int) {
	RecordPlaybackDepth(depth)
}

// ObserveFlush records playback flush latency.
func (c *Collector) ObserveFlush(d time.Duration) {
	RecordFlush(seconds(d))
}

// ObserveSpeech records the local detector's verdict for a frame.
func (c *Collector) ObserveSpeech(st audio.SpeechState) {
	RecordSpeech(st.Energy, st.Threshold)
}

// ObserveReconnect records a reconnection outcome.
func (c *Collector) ObserveReconnect(result string) {
	RecordReconnect(result)
}

// ObserveProtocolError records a protocol error.
func (c *Collector) ObserveProtocolError(code string) {
	RecordProtocolError(code)
}

// ObserveHealth records a health sample.
func (c *Collector) ObserveHealth(st monitor.HealthStatus) {
	RecordHealth(st)
}

// ObserveEmergencyCleanup counts an emergency cleanup.
func (c *Collector) ObserveEmergencyCleanup() {
	RecordEmergencyCleanup()
}

// ObserveTurn records a finished turn.
func (c *Collector) ObserveTurn(mode, status string, d time.Duration) {
	RecordTurn(mode, status, seconds(d))
}

// ObserveInterrupt records an interrupt.
func (c *Collector) ObserveInterrupt(source string) {
	RecordInterrupt(source)
}

// ObserveState records a coordinator state change.
func (c *Collector) ObserveState(state string) {
	RecordState(state)
}
