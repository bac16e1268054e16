package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/RRiiiccckkk/FractFlow/runtime/audio"
	"github.com/RRiiiccckkk/FractFlow/runtime/coordinator"
	"github.com/RRiiiccckkk/FractFlow/runtime/monitor"
	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
)

// The collector must satisfy every component observer.
var (
	_ audio.Observer       = (*Collector)(nil)
	_ realtime.Observer    = (*Collector)(nil)
	_ monitor.Observer     = (*Collector)(nil)
	_ coordinator.Observer = (*Collector)(nil)
)

func TestRecordTurn(t *testing.T) {
	turnsTotal.Reset()

	RecordTurn("manual", "completed", 2.5)
	RecordTurn("manual", "completed", 1.0)
	RecordTurn("continuous", "interrupted", 0)

	if got := testutil.ToFloat64(turnsTotal.WithLabelValues("manual", "completed")); got != 2 {
		t.Errorf("Expected 2 completed manual turns, got %f", got)
	}
	if got := testutil.ToFloat64(turnsTotal.WithLabelValues("continuous", "interrupted")); got != 1 {
		t.Errorf("Expected 1 interrupted continuous turn, got %f", got)
	}
	if count := testutil.CollectAndCount(turnDuration); count != 1 {
		t.Errorf("Expected one histogram series, got %d", count)
	}
}

func TestRecordFrames(t *testing.T) {
	audioFramesTotal.Reset()

	RecordFrames("capture", "ok", 3)
	RecordFrames("capture", "dropped", 0)
	RecordFrames("playback", "flushed", 7)

	if got := testutil.ToFloat64(audioFramesTotal.WithLabelValues("capture", "ok")); got != 3 {
		t.Errorf("Expected 3 captured frames, got %f", got)
	}
	if got := testutil.ToFloat64(audioFramesTotal.WithLabelValues("playback", "flushed")); got != 7 {
		t.Errorf("Expected 7 flushed chunks, got %f", got)
	}
	if count := testutil.CollectAndCount(audioFramesTotal); count != 2 {
		t.Errorf("Expected zero counts to be skipped, got %d series", count)
	}
}

func TestRecordProtocolError(t *testing.T) {
	protocolErrorsTotal.Reset()

	RecordProtocolError("rate_limited")
	RecordProtocolError("")

	if got := testutil.ToFloat64(protocolErrorsTotal.WithLabelValues("unknown")); got != 1 {
		t.Errorf("Expected empty code to map to unknown, got %f", got)
	}
}

func TestRecordState(t *testing.T) {
	coordinatorState.Reset()

	RecordState("idle")
	RecordState("recording_user")

	if got := testutil.ToFloat64(coordinatorState.WithLabelValues("recording_user")); got != 1 {
		t.Errorf("Expected current state gauge 1, got %f", got)
	}
	if count := testutil.CollectAndCount(coordinatorState); count != 1 {
		t.Errorf("Expected only the current state series, got %d", count)
	}
}

func TestRecordHealth(t *testing.T) {
	RecordHealth(monitor.HealthStatus{
		MemoryMB:    321,
		ThreadCount: 12,
		FDCount:     40,
		CPUPercent:  15,
		Goroutines:  30,
		Level:       monitor.LevelWarning,
	})

	if got := testutil.ToFloat64(healthMemory); got != 321 {
		t.Errorf("Expected memory 321, got %f", got)
	}
	if got := testutil.ToFloat64(healthLevel); got != 1 {
		t.Errorf("Expected warning level 1, got %f", got)
	}
	if got := testutil.ToFloat64(healthFDs); got != 40 {
		t.Errorf("Expected 40 fds, got %f", got)
	}
}

func TestCollector(t *testing.T) {
	audioFramesTotal.Reset()
	reconnectsTotal.Reset()
	interruptsTotal.Reset()
	turnsTotal.Reset()

	c := NewCollector()
	c.ObserveFrames(realtime.StreamUplink, realtime.ResultDropped, 2)
	c.ObservePlaybackDepth(9)
	c.ObserveFlush(3 * time.Millisecond)
	c.ObserveReconnect(realtime.ReconnectSuccess)
	c.ObserveProtocolError("bad")
	c.ObserveEmergencyCleanup()
	c.ObserveInterrupt("remote")
	c.ObserveTurn("manual", "interrupted", time.Second)
	c.ObserveState("interrupting")
	c.ObserveHealth(monitor.HealthStatus{ThreadCount: 5})
	c.ObserveSpeech(audio.SpeechState{Energy: 812.5, Threshold: 40})

	if got := testutil.ToFloat64(audioFramesTotal.WithLabelValues("uplink", "dropped")); got != 2 {
		t.Errorf("Expected 2 dropped uplink frames, got %f", got)
	}
	if got := testutil.ToFloat64(playbackQueueDepth); got != 9 {
		t.Errorf("Expected queue depth 9, got %f", got)
	}
	if got := testutil.ToFloat64(reconnectsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 reconnect, got %f", got)
	}
	if got := testutil.ToFloat64(interruptsTotal.WithLabelValues("remote")); got != 1 {
		t.Errorf("Expected 1 remote interrupt, got %f", got)
	}
	if got := testutil.ToFloat64(turnsTotal.WithLabelValues("manual", "interrupted")); got != 1 {
		t.Errorf("Expected 1 interrupted turn, got %f", got)
	}
	if got := testutil.ToFloat64(healthThreads); got != 5 {
		t.Errorf("Expected 5 threads, got %f", got)
	}
	if got := testutil.ToFloat64(speechEnergy); got != 812.5 {
		t.Errorf("Expected speech energy 812.5, got %f", got)
	}
	if got := testutil.ToFloat64(speechThreshold); got != 40 {
		t.Errorf("Expected speech threshold 40, got %f", got)
	}
}

func TestRecordSpeech(t *testing.T) {
	RecordSpeech(12, 25)
	RecordSpeech(3000, 25)

	if got := testutil.ToFloat64(speechEnergy); got != 3000 {
		t.Errorf("Expected the latest energy 3000, got %f", got)
	}
	if got := testutil.ToFloat64(speechThreshold); got != 25 {
		t.Errorf("Expected threshold 25, got %f", got)
	}
}

func TestExporterMux(t *testing.T) {
	RecordReconnect("success")
	exporter := NewExporter(":0")
	mux := exporter.Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("Expected 200 ok from /health, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.Contains(string(body), "fractflow_reconnects_total") {
		t.Error("Expected /metrics to expose fractflow_reconnects_total")
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("Expected /metrics to expose Go runtime metrics")
	}
}

func TestExporterHealthReportsState(t *testing.T) {
	state := "ai_responding"
	exporter := NewExporter(":0",
		WithRegistry(prometheus.NewRegistry()),
		WithStateFunc(func() string { return state }),
	)
	mux := exporter.Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"ai_responding"`) {
		t.Errorf("Expected state in body, got %q", rec.Body.String())
	}

	state = "closing"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 while closing, got %d", rec.Code)
	}
}

func TestExporterWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})
	reg.MustRegister(counter)
	counter.Inc()

	exporter := NewExporter(":0", WithRegistry(reg))
	if exporter.Registry() != reg {
		t.Fatal("Expected custom registry to be used")
	}

	rec := httptest.NewRecorder()
	exporter.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.Contains(string(body), "test_counter") {
		t.Error("Expected response to contain test_counter metric")
	}
	if strings.Contains(string(body), "fractflow_") {
		t.Error("Custom registry should not carry the default collectors")
	}
}

func TestExporterStartShutdown(t *testing.T) {
	exporter := NewExporter("127.0.0.1:0", WithRegistry(prometheus.NewRegistry()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- exporter.Start()
	}()

	// Wait until Start has installed the server.
	deadline := time.Now().Add(2 * time.Second)
	for {
		exporter.mu.Lock()
		started := exporter.started
		exporter.mu.Unlock()
		if started || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A second Start while serving is a no-op.
	if err := exporter.Start(); err != nil {
		t.Errorf("Expected nil on double start, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exporter.Shutdown(ctx); err != nil {
		t.Errorf("Expected no error on shutdown, got %v", err)
	}

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			t.Errorf("Expected ErrServerClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for server to stop")
	}

	// Shutdown of a stopped exporter is a no-op.
	if err := exporter.Shutdown(ctx); err != nil {
		t.Errorf("Expected nil on second shutdown, got %v", err)
	}
}

func TestTotals(t *testing.T) {
	turnsTotal.Reset()
	interruptsTotal.Reset()

	RecordTurn("manual", "completed", 1)
	RecordTurn("manual", "interrupted", 1)
	RecordInterrupt("explicit")

	totals, err := Totals(NewSessionRegistry())
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if got := totals["turns_total"]; got != 2 {
		t.Errorf("Expected 2 turns, got %f", got)
	}
	if got := totals["interrupts_total"]; got != 1 {
		t.Errorf("Expected 1 interrupt, got %f", got)
	}
	if _, ok := totals["turn_duration_seconds"]; ok {
		t.Error("Histograms should not be summed")
	}
}

func TestWriteText(t *testing.T) {
	reconnectsTotal.Reset()
	RecordReconnect("success")

	reg := NewSessionRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "other_total"}))

	var b strings.Builder
	if err := WriteText(&b, reg); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	out := b.String()
	if !strings.Contains(out, "# TYPE fractflow_reconnects_total counter") {
		t.Errorf("Expected reconnect family in output:\n%s", out)
	}
	if !strings.Contains(out, `fractflow_reconnects_total{result="success"} 1`) {
		t.Errorf("Expected reconnect sample in output:\n%s", out)
	}
	if strings.Contains(out, "other_total") {
		t.Error("Foreign families should be skipped")
	}
}
