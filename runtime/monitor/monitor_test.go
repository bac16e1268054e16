package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/RRiiiccckkk/FractFlow/pkg/errors"
)

// scriptedSampler returns queued samples, repeating the last one.
type scriptedSampler struct {
	mu      sync.Mutex
	samples []RawSample
	err     error
}

func (s *scriptedSampler) push(r ...RawSample) {
	s.mu.Lock()
	s.samples = append(s.samples, r...)
	s.mu.Unlock()
}

func (s *scriptedSampler) Sample() (RawSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return RawSample{}, s.err
	}
	if len(s.samples) == 0 {
		return RawSample{}, nil
	}
	r := s.samples[0]
	if len(s.samples) > 1 {
		s.samples = s.samples[1:]
	}
	return r, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []HealthStatus
	cleanups int
}

func (o *recordingObserver) ObserveHealth(s HealthStatus) {
	o.mu.Lock()
	o.statuses = append(o.statuses, s)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveEmergencyCleanup() {
	o.mu.Lock()
	o.cleanups++
	o.mu.Unlock()
}

func mb(n float64) uint64 { return uint64(n * bytesPerMB) }

func newTestMonitor(s *scriptedSampler, opts ...Option) *Monitor {
	clock := &fakeClock{t: time.Unix(0, 0)}
	opts = append([]Option{WithSampler(s), WithClock(clock.now)}, opts...)
	return New(DefaultConfig(), opts...)
}

func TestMonitor_Levels(t *testing.T) {
	tests := []struct {
		name   string
		sample RawSample
		level  Level
		reason string
	}{
		{name: "healthy", sample: RawSample{RSSBytes: mb(100), Threads: 10, FDs: 20}, level: LevelOK},
		{name: "memory warning", sample: RawSample{RSSBytes: mb(600)}, level: LevelWarning, reason: "memory 600 MB >= 500 MB"},
		{name: "memory critical", sample: RawSample{RSSBytes: mb(1100)}, level: LevelCritical, reason: "memory 1100 MB >= 1024 MB"},
		{name: "threads warning", sample: RawSample{Threads: 70}, level: LevelWarning, reason: "threads 70 >= 64"},
		{name: "threads critical", sample: RawSample{Threads: 300}, level: LevelCritical, reason: "threads 300 >= 256"},
		{name: "fds warning", sample: RawSample{FDs: 300}, level: LevelWarning, reason: "file descriptors 300 >= 256"},
		{name: "fds critical", sample: RawSample{FDs: 2000}, level: LevelCritical, reason: "file descriptors 2000 >= 1024"},
		{name: "fds near limit", sample: RawSample{FDs: 100, FDLimit: 100}, level: LevelCritical, reason: "file descriptors 100 near limit 100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scriptedSampler{}
			s.push(tt.sample)
			m := newTestMonitor(s)

			st, err := m.Sample(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.level, st.Level)
			if tt.reason != "" {
				assert.Contains(t, st.Reasons, tt.reason)
			}
			assert.Equal(t, st, m.Last())
		})
	}
}

func TestMonitor_CPUPercent(t *testing.T) {
	s := &scriptedSampler{}
	// One second passes between samples on the fake clock.
	s.push(RawSample{CPUSeconds: 10}, RawSample{CPUSeconds: 10.9})
	m := newTestMonitor(s)

	st, err := m.Sample(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.CPUPercent)

	st, err = m.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 90, st.CPUPercent, 0.01)
	assert.Equal(t, LevelWarning, st.Level)
}

func TestMonitor_MemoryGrowth(t *testing.T) {
	s := &scriptedSampler{}
	for i := 0; i < growthWindow; i++ {
		s.push(RawSample{RSSBytes: mb(100 + float64(i)*25)})
	}
	m := newTestMonitor(s)

	var st HealthStatus
	for i := 0; i < growthWindow; i++ {
		var err error
		st, err = m.Sample(context.Background())
		require.NoError(t, err)
		if i < growthWindow-1 {
			assert.Equal(t, LevelOK, st.Level, "sample %d", i)
		}
	}
	// 225 MB growth over the window.
	assert.Equal(t, LevelCritical, st.Level)
	assert.Contains(t, st.Reasons, "memory grew 225 MB >= 200 MB")
}

func TestMonitor_ThreadTrend(t *testing.T) {
	s := &scriptedSampler{}
	for _, n := range []int{10, 10, 10, 10, 10, 20, 20, 20, 20, 20} {
		s.push(RawSample{Threads: n})
	}
	m := newTestMonitor(s)

	var st HealthStatus
	for i := 0; i < 10; i++ {
		st, _ = m.Sample(context.Background())
	}
	assert.Equal(t, LevelWarning, st.Level)
	assert.Contains(t, st.Reasons, "thread count rising: 10.0 -> 20.0")
}

func TestMonitor_EmergencyCleanupRunsOnce(t *testing.T) {
	s := &scriptedSampler{}
	s.push(RawSample{RSSBytes: mb(100)}, RawSample{RSSBytes: mb(2048)})
	obs := &recordingObserver{}
	m := newTestMonitor(s, WithObserver(obs))

	var calls []string
	m.OnCritical(func(st HealthStatus) {
		calls = append(calls, "first")
		assert.Equal(t, LevelCritical, st.Level)
	})
	m.OnCritical(func(HealthStatus) { calls = append(calls, "second") })

	for i := 0; i < 4; i++ {
		_, err := m.Sample(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, 1, obs.cleanups)
	assert.Len(t, obs.statuses, 4)
}

func TestHealthStatus_Err(t *testing.T) {
	assert.NoError(t, HealthStatus{Level: LevelWarning}.Err())

	err := HealthStatus{Level: LevelCritical, Reasons: []string{"a", "b"}}.Err()
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindResourceExhaustion))
	assert.Contains(t, err.Error(), "a; b")
}

func TestMonitor_SampleError(t *testing.T) {
	s := &scriptedSampler{err: errors.New("proc unavailable")}
	m := newTestMonitor(s)

	_, err := m.Sample(context.Background())
	assert.ErrorContains(t, err, "proc unavailable")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	s := &scriptedSampler{}
	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	m := New(cfg, WithSampler(s), WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.statuses) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNew_Defaults(t *testing.T) {
	m := New(Config{}, WithSampler(&scriptedSampler{}))
	assert.Equal(t, DefaultInterval, m.cfg.Interval)
	assert.Equal(t, DefaultSummaryEvery, m.cfg.SummaryEvery)
	assert.Equal(t, DefaultThresholds(), m.cfg.Thresholds)
}

func TestProcessSampler(t *testing.T) {
	raw, err := newProcessSampler().Sample()
	require.NoError(t, err)
	assert.Positive(t, raw.RSSBytes)
	assert.Positive(t, raw.Threads)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "ok", LevelOK.String())
	assert.Equal(t, "warning", LevelWarning.String())
	assert.Equal(t, "critical", LevelCritical.String())
}
