package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/RRiiiccckkk/FractFlow/pkg/config"
	"github.com/RRiiiccckkk/FractFlow/runtime/audio"
	"github.com/RRiiiccckkk/FractFlow/runtime/conversation"
	"github.com/RRiiiccckkk/FractFlow/runtime/coordinator"
	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
	prommetrics "github.com/RRiiiccckkk/FractFlow/runtime/metrics/prometheus"
	"github.com/RRiiiccckkk/FractFlow/runtime/monitor"
	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
	"github.com/RRiiiccckkk/FractFlow/runtime/telemetry"
)

const shutdownTimeout = 5 * time.Second

// app holds one wired voice session and everything it must release.
type app struct {
	spec     *config.VoiceAgentSpec
	coord    *coordinator.Coordinator
	cache    conversation.Cache
	exporter *prommetrics.Exporter
	metrics  prometheus.Gatherer
	closers  []func(context.Context) error
}

// buildApp wires the session described by cfg. Transcripts are written to
// out.
func buildApp(ctx context.Context, cfg *config.VoiceAgentConfig, out io.Writer) (*app, error) {
	spec := &cfg.Spec
	a := &app{spec: spec}

	shutdownTracing, err := telemetry.Setup(ctx, spec.TelemetryConfig(GetVersion()))
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	collector := prommetrics.NewCollector()

	cache, closeCache, err := openCache(ctx, spec)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.cache = cache
	a.closers = append(a.closers, closeCache)

	dev, err := openDevice(spec)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	iom := audio.NewIOManager(dev, spec.IOConfig(), audio.WithObserver(collector))

	rcfg := spec.RealtimeConfig()
	rcfg.Observer = collector
	client := realtime.NewClient(rcfg)

	opts := []coordinator.Option{
		coordinator.WithCache(cache),
		coordinator.WithObserver(collector),
		coordinator.WithTracer(telemetry.Tracer(nil)),
		coordinator.WithTranscriptSink(transcriptPrinter(out)),
	}
	if spec.MonitorEnabled() {
		mon := monitor.New(spec.MonitorConfig(), monitor.WithObserver(collector))
		opts = append(opts, coordinator.WithMonitor(mon))
	}

	a.coord, err = coordinator.New(spec.CoordinatorConfig(), client, iom, opts...)
	if err != nil {
		_ = iom.Close()
		_ = a.Close(ctx)
		return nil, err
	}

	a.metrics = prommetrics.NewSessionRegistry()
	if spec.Metrics.Addr != "" {
		coord := a.coord
		a.exporter = prommetrics.NewExporter(spec.Metrics.Addr,
			prommetrics.WithStateFunc(func() string { return coord.State().String() }))
		a.metrics = a.exporter.Registry()
		go func() {
			if err := a.exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics: exporter stopped", "addr", spec.Metrics.Addr, "error", err)
			}
		}()
		a.closers = append(a.closers, a.exporter.Shutdown)
		logger.Info("Metrics: serving", "addr", spec.Metrics.Addr)
	}
	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openDevice(spec *config.VoiceAgentSpec) (audio.Device, error) {
	switch spec.Audio.Device {
	case config.DeviceMemory:
		// An idle microphone: silence every buffer period.
		ioCfg := spec.IOConfig()
		period := time.Duration(ioCfg.FramesPerBuffer) * time.Second / time.Duration(ioCfg.InputSampleRate)
		return audio.NewMemoryDevice(audio.WithSilence(period)), nil
	default:
		dev, err := audio.NewPortAudioDevice()
		if err != nil {
			return nil, fmt.Errorf("audio device: %w (use --dry-run for a silent device)", err)
		}
		return dev, nil
	}
}

// openCache opens the configured history backend. The returned func
// releases it.
func openCache(ctx context.Context, spec *config.VoiceAgentSpec) (conversation.Cache, func(context.Context) error, error) {
	c := spec.Conversation
	switch c.Backend {
	case config.BackendMemory:
		cache := conversation.NewMemoryCache(c.MaxTurns)
		return cache, func(context.Context) error { return cache.Close() }, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", c.Redis.Addr, err)
		}
		cache := conversation.NewRedisCache(client,
			conversation.WithRedisPrefix(c.Redis.Prefix),
			conversation.WithRedisTTL(c.ResumeWindow),
			conversation.WithRedisMaxTurns(c.MaxTurns),
		)
		return cache, func(context.Context) error {
			return errors.Join(cache.Close(), client.Close())
		}, nil

	default:
		cache, err := conversation.OpenFileCache(c.Dir,
			conversation.WithResumeWindow(c.ResumeWindow),
			conversation.WithContextChars(c.MaxContextChars),
		)
		if err != nil {
			return nil, nil, err
		}
		if _, err := cache.Cleanup(c.Retention); err != nil {
			logger.Warn("Conversation: cleanup failed", "error", err)
		}
		return cache, func(context.Context) error { return cache.Close() }, nil
	}
}

// transcriptPrinter prints finished utterances. It runs on the coordinator
// loop, so it only writes.
func transcriptPrinter(out io.Writer) func(coordinator.Transcript) {
	return func(tr coordinator.Transcript) {
		if !tr.Final {
			return
		}
		switch tr.Role {
		case coordinator.RoleUser:
			fmt.Fprintf(out, "You: %s\n", tr.Text)
		case coordinator.RoleAssistant:
			fmt.Fprintf(out, "Assistant: %s\n", tr.Text)
		}
	}
}

// printSummary writes the session counters, and the full FractFlow metric
// set when full is set.
func printSummary(out io.Writer, g prometheus.Gatherer, full bool) error {
	if full {
		return prommetrics.WriteText(out, g)
	}
	totals, err := prommetrics.Totals(g)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session: %.0f turns, %.0f interrupts, %.0f reconnects\n",
		totals["turns_total"], totals["interrupts_total"], totals["reconnects_total"])
	return nil
}
