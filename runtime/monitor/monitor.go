// Package monitor samples process health and triggers emergency cleanup
// when resource use becomes critical.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/RRiiiccckkk/FractFlow/pkg/errors"
	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
)

// Level is the overall health classification.
type Level int

// Health levels.
const (
	LevelOK Level = iota
	LevelWarning
	LevelCritical
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "ok"
	}
}

const (
	bytesPerMB = 1024 * 1024

	// DefaultInterval is the polling period used by Run.
	DefaultInterval = 5 * time.Second
	// DefaultSummaryEvery is how many samples pass between summary logs.
	DefaultSummaryEvery = 50

	growthWindow      = 10
	threadTrendWindow = 5
	fdLimitRatio      = 0.9
)

// Thresholds bound each metric. A zero value disables that check.
type Thresholds struct {
	MemoryWarningMB        float64
	MemoryCriticalMB       float64
	MemoryGrowthWarningMB  float64
	MemoryGrowthCriticalMB float64
	ThreadsWarning         int
	ThreadsCritical        int
	FDsWarning             int
	FDsCritical            int
	CPUWarningPercent      float64
	// ThreadGrowthRatio flags a warning when the mean of the last five
	// thread counts exceeds the mean of the five before by this factor.
	ThreadGrowthRatio float64
}

// DefaultThresholds returns the standard limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MemoryWarningMB:        500,
		MemoryCriticalMB:       1024,
		MemoryGrowthWarningMB:  50,
		MemoryGrowthCriticalMB: 200,
		ThreadsWarning:         64,
		ThreadsCritical:        256,
		FDsWarning:             256,
		FDsCritical:            1024,
		CPUWarningPercent:      80,
		ThreadGrowthRatio:      1.5,
	}
}

// HealthStatus is one evaluated sample.
type HealthStatus struct {
	Time        time.Time
	MemoryMB    float64
	ThreadCount int
	FDCount     int
	FDLimit     uint64
	CPUPercent  float64
	Goroutines  int
	Level       Level
	Reasons     []string
}

// Err returns a resource_exhaustion error for a critical status, else nil.
func (s HealthStatus) Err() error {
	if s.Level != LevelCritical {
		return nil
	}
	return pkgerrors.New("monitor", "Sample", errors.New(strings.Join(s.Reasons, "; "))).
		WithKind(pkgerrors.KindResourceExhaustion)
}

// RawSample is what a Sampler reads from the OS.
type RawSample struct {
	RSSBytes   uint64
	Threads    int
	FDs        int
	FDLimit    uint64
	CPUSeconds float64
}

// Sampler reads process resource usage.
type Sampler interface {
	Sample() (RawSample, error)
}

// Observer receives each evaluated sample.
type Observer interface {
	ObserveHealth(HealthStatus)
	ObserveEmergencyCleanup()
}

type nopObserver struct{}

func (nopObserver) ObserveHealth(HealthStatus) {}
func (nopObserver) ObserveEmergencyCleanup()   {}

// Config configures a Monitor.
type Config struct {
	Interval     time.Duration
	Thresholds   Thresholds
	SummaryEvery int
}

// DefaultConfig returns the standard monitor settings.
func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		Thresholds:   DefaultThresholds(),
		SummaryEvery: DefaultSummaryEvery,
	}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSampler replaces the OS sampler.
func WithSampler(s Sampler) Option {
	return func(m *Monitor) { m.sampler = s }
}

// WithObserver sets the health observer.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor samples the process and evaluates Thresholds.
type Monitor struct {
	cfg      Config
	sampler  Sampler
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	memory   []float64
	threads  []int
	last     HealthStatus
	prevCPU  float64
	prevAt   time.Time
	samples  int
	warnings int
	critical int
	peakMB   float64
	cpuSum   float64

	cleanups []func(HealthStatus)
	fired    bool
}

// New creates a Monitor. The default sampler reads /proc on Linux and
// falls back to Go runtime statistics elsewhere.
func New(cfg Config, opts ...Option) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.SummaryEvery <= 0 {
		cfg.SummaryEvery = DefaultSummaryEvery
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	m := &Monitor{
		cfg:      cfg,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sampler == nil {
		m.sampler = newProcessSampler()
	}
	return m
}

// OnCritical registers an emergency cleanup. Cleanups run once, on the
// first critical sample, in registration order.
func (m *Monitor) OnCritical(fn func(HealthStatus)) {
	m.mu.Lock()
	m.cleanups = append(m.cleanups, fn)
	m.mu.Unlock()
}

// Last returns the most recent status.
func (m *Monitor) Last() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Run samples every Interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	logger.Debug("Monitor: started", "interval", m.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sample(ctx); err != nil {
				logger.Warn("Monitor: sample failed", "error", err)
			}
		}
	}
}

// Sample reads and evaluates one sample. A critical result fires the
// emergency cleanups if they have not run yet.
func (m *Monitor) Sample(ctx context.Context) (HealthStatus, error) {
	if err := ctx.Err(); err != nil {
		return HealthStatus{}, err
	}
	raw, err := m.sampler.Sample()
	if err != nil {
		return HealthStatus{}, pkgerrors.New("monitor", "Sample", err)
	}

	m.mu.Lock()
	st := m.evaluateLocked(raw)
	var toRun []func(HealthStatus)
	if st.Level == LevelCritical && !m.fired {
		m.fired = true
		toRun = m.cleanups
	}
	summary := m.samples%m.cfg.SummaryEvery == 0
	m.mu.Unlock()

	m.observer.ObserveHealth(st)
	switch st.Level {
	case LevelCritical:
		logger.Error("Monitor: critical resource usage", "reasons", st.Reasons, "memory_mb", st.MemoryMB)
	case LevelWarning:
		logger.Warn("Monitor: resource warning", "reasons", st.Reasons)
	}
	if summary {
		m.logSummary()
	}

	if len(toRun) > 0 {
		logger.Error("Monitor: running emergency cleanup", "handlers", len(toRun))
		m.observer.ObserveEmergencyCleanup()
		for _, fn := range toRun {
			fn(st)
		}
	}
	return st, nil
}

func (m *Monitor) evaluateLocked(raw RawSample) HealthStatus {
	now := m.now()
	th := m.cfg.Thresholds

	st := HealthStatus{
		Time:        now,
		MemoryMB:    float64(raw.RSSBytes) / bytesPerMB,
		ThreadCount: raw.Threads,
		FDCount:     raw.FDs,
		FDLimit:     raw.FDLimit,
		Goroutines:  runtime.NumGoroutine(),
	}
	if !m.prevAt.IsZero() {
		if wall := now.Sub(m.prevAt).Seconds(); wall > 0 && raw.CPUSeconds >= m.prevCPU {
			st.CPUPercent = (raw.CPUSeconds - m.prevCPU) / wall * 100
		}
	}
	m.prevAt, m.prevCPU = now, raw.CPUSeconds

	m.memory = appendBounded(m.memory, st.MemoryMB, growthWindow)
	m.threads = appendBounded(m.threads, raw.Threads, 2*threadTrendWindow)

	var warn, crit []string
	check := func(value, warnAt, critAt float64, format string) {
		switch {
		case critAt > 0 && value >= critAt:
			crit = append(crit, fmt.Sprintf(format, value, critAt))
		case warnAt > 0 && value >= warnAt:
			warn = append(warn, fmt.Sprintf(format, value, warnAt))
		}
	}
	check(st.MemoryMB, th.MemoryWarningMB, th.MemoryCriticalMB, "memory %.0f MB >= %.0f MB")
	if len(m.memory) == growthWindow {
		growth := m.memory[len(m.memory)-1] - m.memory[0]
		check(growth, th.MemoryGrowthWarningMB, th.MemoryGrowthCriticalMB, "memory grew %.0f MB >= %.0f MB")
	}
	check(float64(raw.Threads), float64(th.ThreadsWarning), float64(th.ThreadsCritical), "threads %.0f >= %.0f")
	check(float64(raw.FDs), float64(th.FDsWarning), float64(th.FDsCritical), "file descriptors %.0f >= %.0f")
	if raw.FDLimit > 0 && float64(raw.FDs) >= fdLimitRatio*float64(raw.FDLimit) {
		crit = append(crit, fmt.Sprintf("file descriptors %d near limit %d", raw.FDs, raw.FDLimit))
	}
	check(st.CPUPercent, th.CPUWarningPercent, 0, "cpu %.0f%% >= %.0f%%")
	if th.ThreadGrowthRatio > 0 && len(m.threads) == 2*threadTrendWindow {
		older := mean(m.threads[:threadTrendWindow])
		recent := mean(m.threads[threadTrendWindow:])
		if older > 0 && recent > th.ThreadGrowthRatio*older {
			warn = append(warn, fmt.Sprintf("thread count rising: %.1f -> %.1f", older, recent))
		}
	}

	switch {
	case len(crit) > 0:
		st.Level = LevelCritical
		st.Reasons = append(crit, warn...)
		m.critical++
	case len(warn) > 0:
		st.Level = LevelWarning
		st.Reasons = warn
		m.warnings++
	}

	m.samples++
	m.cpuSum += st.CPUPercent
	if st.MemoryMB > m.peakMB {
		m.peakMB = st.MemoryMB
	}
	m.last = st
	return st
}

func (m *Monitor) logSummary() {
	m.mu.Lock()
	samples, warnings, critical := m.samples, m.warnings, m.critical
	peak, avgCPU := m.peakMB, m.cpuSum/float64(max(m.samples, 1))
	last := m.last
	m.mu.Unlock()

	logger.Info("Monitor: health summary",
		"samples", samples,
		"warnings", warnings,
		"critical", critical,
		"peak_memory_mb", fmt.Sprintf("%.1f", peak),
		"avg_cpu_percent", fmt.Sprintf("%.1f", avgCPU),
		"threads", last.ThreadCount,
		"fds", last.FDCount,
		"goroutines", last.Goroutines)
}

// ReleaseMemory forces a collection and returns freed memory to the OS.
func ReleaseMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

func appendBounded[T any](s []T, v T, n int) []T {
	s = append(s, v)
	if len(s) > n {
		s = append(s[:0:0], s[len(s)-n:]...)
	}
	return s
}

func mean(s []int) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum int
	for _, v := range s {
		sum += v
	}
	return float64(sum) / float64(len(s))
}
