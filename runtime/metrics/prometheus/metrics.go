// Package prometheus exports FractFlow voice metrics in Prometheus format.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/RRiiiccckkk/FractFlow/runtime/monitor"
)

const namespace = "fractflow"

var (
	// turnsTotal counts finished turns by mode and outcome.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns",
		},
		[]string{"mode", "status"}, // status: completed, interrupted, failed
	)

	// turnDuration is a histogram of turn duration from request to end.
	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Histogram of conversation turn duration in seconds",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	// interruptsTotal counts barge-ins by trigger.
	interruptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of interrupts",
		},
		[]string{"source"}, // source: local, remote, explicit
	)

	// interruptFlush is a histogram of playback flush latency.
	interruptFlush = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interrupt_flush_seconds",
			Help:      "Time taken to flush and abort playback",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	// audioFramesTotal counts audio frames and chunks by stream and result.
	audioFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Total number of audio frames by stream and result",
		},
		[]string{"stream", "result"}, // stream: capture, playback, uplink
	)

	// playbackQueueDepth is the current playback queue length.
	playbackQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Number of chunks waiting for playback",
		},
	)

	// speechEnergy is the RMS energy of the last captured frame.
	speechEnergy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_energy",
			Help:      "RMS energy of the last captured frame in int16 units",
		},
	)

	// speechThreshold is the adaptive interrupt threshold for that frame.
	speechThreshold = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_threshold",
			Help:      "Adaptive speech threshold of the local interrupt detector",
		},
	)

	// reconnectsTotal counts reconnection outcomes.
	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of session reconnections",
		},
		[]string{"result"}, // result: success, failure
	)

	// protocolErrorsTotal counts server and decoding errors.
	protocolErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total number of protocol errors by code",
		},
		[]string{"code"},
	)

	healthMemory = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_health_memory_megabytes",
		Help:      "Resident memory at the last health sample",
	})
	healthThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_health_threads",
		Help:      "OS threads at the last health sample",
	})
	healthFDs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_health_open_fds",
		Help:      "Open file descriptors at the last health sample",
	})
	healthCPU = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_health_cpu_percent",
		Help:      "CPU use between the last two health samples",
	})
	healthGoroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_health_goroutines",
		Help:      "Goroutines at the last health sample",
	})
	healthLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_health_level",
		Help:      "Health level: 0 ok, 1 warning, 2 critical",
	})

	// emergencyCleanupsTotal counts emergency cleanup runs.
	emergencyCleanupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_cleanups_total",
			Help:      "Total number of emergency cleanups",
		},
	)

	// coordinatorState is 1 for the current coordinator state and 0 otherwise.
	coordinatorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coordinator_state",
			Help:      "Current conversation coordinator state",
		},
		[]string{"state"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		turnsTotal,
		turnDuration,
		interruptsTotal,
		interruptFlush,
		audioFramesTotal,
		playbackQueueDepth,
		speechEnergy,
		speechThreshold,
		reconnectsTotal,
		protocolErrorsTotal,
		healthMemory,
		healthThreads,
		healthFDs,
		healthCPU,
		healthGoroutines,
		healthLevel,
		emergencyCleanupsTotal,
		coordinatorState,
	}
)

// RecordTurn records a finished turn.
func RecordTurn(mode, status string, durationSeconds float64) {
	turnsTotal.WithLabelValues(mode, status).Inc()
	if durationSeconds > 0 {
		turnDuration.Observe(durationSeconds)
	}
}

// RecordInterrupt records an interrupt from the given source.
func RecordInterrupt(source string) {
	interruptsTotal.WithLabelValues(source).Inc()
}

// RecordFlush records playback flush latency.
func RecordFlush(durationSeconds float64) {
	interruptFlush.Observe(durationSeconds)
}

// RecordFrames adds n frames to a stream/result pair.
func RecordFrames(stream, result string, n int) {
	if n > 0 {
		audioFramesTotal.WithLabelValues(stream, result).Add(float64(n))
	}
}

// RecordPlaybackDepth sets the playback queue gauge.
func RecordPlaybackDepth(depth int) {
	playbackQueueDepth.Set(float64(depth))
}

// RecordSpeech sets the speech energy and threshold gauges.
func RecordSpeech(energy, threshold float64) {
	speechEnergy.Set(energy)
	speechThreshold.Set(threshold)
}

// RecordReconnect records a reconnection outcome.
func RecordReconnect(result string) {
	reconnectsTotal.WithLabelValues(result).Inc()
}

// RecordProtocolError records a protocol error code.
func RecordProtocolError(code string) {
	if code == "" {
		code = "unknown"
	}
	protocolErrorsTotal.WithLabelValues(code).Inc()
}

// RecordHealth updates the process health gauges.
func RecordHealth(st monitor.HealthStatus) {
	healthMemory.Set(st.MemoryMB)
	healthThreads.Set(float64(st.ThreadCount))
	healthFDs.Set(float64(st.FDCount))
	healthCPU.Set(st.CPUPercent)
	healthGoroutines.Set(float64(st.Goroutines))
	healthLevel.Set(float64(st.Level))
}

// RecordEmergencyCleanup counts an emergency cleanup.
func RecordEmergencyCleanup() {
	emergencyCleanupsTotal.Inc()
}

// RecordState marks state as the current coordinator state.
func RecordState(state string) {
	coordinatorState.Reset()
	coordinatorState.WithLabelValues(state).Set(1)
}

func seconds(d time.Duration) float64 { return d.Seconds() }
