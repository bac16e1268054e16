package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	pkgerrors "github.com/RRiiiccckkk/FractFlow/pkg/errors"
	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
)

const (
	componentName    = "audio"
	eventsBufferSize = 8
	dropLogInterval  = time.Second
	streamCapture    = "capture"
	streamPlayback   = "playback"
	resultOK         = "ok"
	resultDropped    = "dropped"
	resultFlushed    = "flushed"
	resultUnplayable = "unplayable"
)

// errPlaybackAborted stops the current chunk after a flush or stop.
var errPlaybackAborted = errors.New("playback aborted")

// Observer receives IOManager activity as it happens. Implementations must
// not block; they are called from the capture and playback loops.
type Observer interface {
	// ObserveFrames counts frames or chunks by stream ("capture", "playback")
	// and result ("ok", "dropped", "flushed", "unplayable").
	ObserveFrames(stream, result string, n int)
	// ObservePlaybackDepth reports the playback queue length.
	ObservePlaybackDepth(depth int)
	// ObserveFlush reports how long FlushAndAbortPlayback took.
	ObserveFlush(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveFrames(string, string, int) {}
func (nopObserver) ObservePlaybackDepth(int)          {}
func (nopObserver) ObserveFlush(time.Duration)        {}

// IOOption configures an IOManager.
type IOOption func(*IOManager)

// WithObserver installs an activity observer, typically a metrics collector.
func WithObserver(o Observer) IOOption {
	return func(m *IOManager) {
		if o != nil {
			m.observer = o
		}
	}
}

// Stats is a snapshot of IOManager counters.
type Stats struct {
	FramesCaptured uint64
	FramesDropped  uint64
	ChunksEnqueued uint64
	ChunksPlayed   uint64
	ChunksDropped  uint64
	ChunksFlushed  uint64
	Flushes        uint64
	QueueDepth     int
	Capturing      bool
	Playing        bool
}

// CaptureHandle is a running capture loop.
type CaptureHandle struct {
	frames   chan AudioFrame
	stop     chan struct{}
	done     chan struct{}
	in       InputStream
	stopOnce sync.Once
}

// Frames returns captured frames. The channel is closed when the loop exits.
func (h *CaptureHandle) Frames() <-chan AudioFrame { return h.frames }

// Done is closed when the capture loop has exited.
func (h *CaptureHandle) Done() <-chan struct{} { return h.done }

func (h *CaptureHandle) signalStop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *CaptureHandle) stopping() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

type playbackLoop struct {
	out  OutputStream
	gen  uint64
	done chan struct{}
}

// IOManager owns capture and playback on one Device.
//
// Capture and playback each run on their own goroutine and touch only
// bounded queues, atomic flags and the output lock. All methods are safe
// for concurrent use.
type IOManager struct {
	dev      Device
	cfg      IOConfig
	observer Observer

	captureMu sync.Mutex
	capture   *CaptureHandle
	seq       atomic.Uint64

	// playMu serializes playback start, stop and flush.
	playMu     sync.Mutex
	playback   *playbackLoop
	queue      *playbackQueue
	playStop   atomic.Bool
	generation atomic.Uint64
	// outMu is held for every sub-chunk write and while the output stream closes.
	outMu sync.Mutex

	events chan DeviceEvent
	closed atomic.Bool

	framesCaptured atomic.Uint64
	framesDropped  atomic.Uint64
	chunksEnqueued atomic.Uint64
	chunksPlayed   atomic.Uint64
	chunksDropped  atomic.Uint64
	chunksFlushed  atomic.Uint64
	flushes        atomic.Uint64

	captureDropLog  rate.Sometimes
	playbackDropLog rate.Sometimes
}

// NewIOManager creates an IOManager on dev. Zero fields in cfg take defaults.
func NewIOManager(dev Device, cfg IOConfig, opts ...IOOption) *IOManager {
	cfg = cfg.withDefaults()
	m := &IOManager{
		dev:             dev,
		cfg:             cfg,
		observer:        nopObserver{},
		queue:           newPlaybackQueue(cfg.PlaybackQueueSize),
		events:          make(chan DeviceEvent, eventsBufferSize),
		captureDropLog:  rate.Sometimes{First: 1, Interval: dropLogInterval},
		playbackDropLog: rate.Sometimes{First: 1, Interval: dropLogInterval},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *IOManager) Config() IOConfig { return m.cfg }

// Events returns fatal loop notifications. Events are dropped if the
// channel is not drained.
func (m *IOManager) Events() <-chan DeviceEvent { return m.events }

// StartCapture opens the input stream and starts the capture loop. If
// capture is already running the existing handle is returned.
//
// The loop exits when ctx is cancelled, StopCapture is called, or the device
// keeps failing past MaxDeviceRetries.
func (m *IOManager) StartCapture(ctx context.Context) (*CaptureHandle, error) {
	if m.closed.Load() {
		return nil, deviceError("StartCapture", ErrManagerClosed)
	}

	m.captureMu.Lock()
	defer m.captureMu.Unlock()

	if h := m.capture; h != nil {
		select {
		case <-h.done:
			// Previous loop exited on its own; release its stream and reopen.
			_ = h.in.Close()
			m.capture = nil
		default:
			return h, nil
		}
	}

	streamCfg := m.cfg.inputStream()
	in, err := m.dev.OpenInput(streamCfg)
	if err != nil {
		logger.Error("Audio: failed to open input stream", "device", m.dev.Name(), "error", err)
		return nil, deviceError("StartCapture", err)
	}

	h := &CaptureHandle{
		frames: make(chan AudioFrame, m.cfg.CaptureQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		in:     in,
	}
	m.capture = h
	go m.captureLoop(ctx, h, streamCfg.BufferBytes())

	logger.Debug("Audio: capture started", "device", m.dev.Name(), "stream", streamCfg.String())
	return h, nil
}

// StopCapture stops the capture loop, discards queued frames and closes the
// input stream. Safe to call when capture is not running.
func (m *IOManager) StopCapture() error {
	m.captureMu.Lock()
	defer m.captureMu.Unlock()

	h := m.capture
	if h == nil {
		return nil
	}
	m.capture = nil

	h.signalStop()
	closeErr := h.in.Close()

	if !waitDone(h.done, m.cfg.CaptureJoinTimeout) {
		logger.Warn("Audio: capture loop did not exit in time", "timeout", m.cfg.CaptureJoinTimeout)
		return closeErr
	}

	discarded := 0
	for range h.frames {
		discarded++
	}
	logger.Debug("Audio: capture stopped", "discarded", discarded)

	if closeErr != nil {
		return deviceError("StopCapture", closeErr)
	}
	return nil
}

// Capturing reports whether a capture loop is running.
func (m *IOManager) Capturing() bool {
	m.captureMu.Lock()
	defer m.captureMu.Unlock()
	if m.capture == nil {
		return false
	}
	select {
	case <-m.capture.done:
		return false
	default:
		return true
	}
}

func (m *IOManager) captureLoop(ctx context.Context, h *CaptureHandle, bufBytes int) {
	defer close(h.done)
	defer close(h.frames)

	buf := make([]byte, bufBytes)
	failures := 0

	for {
		if h.stopping() || ctx.Err() != nil {
			return
		}

		n, err := h.in.Read(buf)
		if err != nil {
			if h.stopping() || ctx.Err() != nil {
				return
			}
			failures++
			if failures > m.cfg.MaxDeviceRetries {
				logger.Error("Audio: capture failed, giving up", "error", err, "attempts", failures)
				m.publish(DeviceEvent{Type: DeviceCaptureStopped, Err: deviceError("Read", err)})
				return
			}
			logger.Warn("Audio: capture read failed, retrying", "error", err, "attempt", failures)
			if !sleepUntil(ctx, h.stop, m.cfg.DeviceRetryDelay) {
				return
			}
			continue
		}
		failures = 0
		if n == 0 {
			continue
		}

		frame := NewAudioFrame(m.seq.Add(1), buf[:n], time.Now())
		select {
		case h.frames <- frame:
			m.framesCaptured.Add(1)
			m.observer.ObserveFrames(streamCapture, resultOK, 1)
		default:
			dropped := m.framesDropped.Add(1)
			m.observer.ObserveFrames(streamCapture, resultDropped, 1)
			m.captureDropLog.Do(func() {
				logger.Warn("Audio: capture queue full, dropping frames",
					"dropped", dropped, "queue_size", m.cfg.CaptureQueueSize)
			})
		}
	}
}

// EnqueuePlayback appends a chunk of PCM16 audio at PlaybackSourceRate to the
// playback queue. When the queue is full the oldest chunks are dropped. It
// never blocks beyond the queue lock.
func (m *IOManager) EnqueuePlayback(chunk []byte) {
	if len(chunk) == 0 || m.closed.Load() {
		return
	}

	var data []byte
	if m.cfg.PlaybackSourceRate != m.cfg.OutputSampleRate {
		res, err := ResamplePCM16(chunk, m.cfg.PlaybackSourceRate, m.cfg.OutputSampleRate)
		if err != nil {
			m.observer.ObserveFrames(streamPlayback, resultUnplayable, 1)
			logger.Warn("Audio: dropping unplayable chunk", "bytes", len(chunk), "error", err)
			return
		}
		data = res
	} else {
		data = append([]byte(nil), chunk...)
	}

	m.chunksEnqueued.Add(1)
	if dropped := m.queue.push(data); dropped > 0 {
		total := m.chunksDropped.Add(uint64(dropped))
		m.observer.ObserveFrames(streamPlayback, resultDropped, dropped)
		m.playbackDropLog.Do(func() {
			logger.Warn("Audio: playback queue full, dropping oldest chunks",
				"dropped", total, "queue_size", m.cfg.PlaybackQueueSize)
		})
	}
	m.observer.ObservePlaybackDepth(m.queue.size())
}

// PlaybackQueueLen returns the number of chunks waiting to be played.
func (m *IOManager) PlaybackQueueLen() int { return m.queue.size() }

// StartPlayback opens the output stream and starts the playback loop.
// Calling it while playback runs is a no-op.
func (m *IOManager) StartPlayback() error {
	if m.closed.Load() {
		return deviceError("StartPlayback", ErrManagerClosed)
	}

	m.playMu.Lock()
	defer m.playMu.Unlock()

	if p := m.playback; p != nil {
		select {
		case <-p.done:
			_ = p.out.Close()
			m.playback = nil
		default:
			return nil
		}
	}
	return m.startPlaybackLocked()
}

func (m *IOManager) startPlaybackLocked() error {
	streamCfg := m.cfg.outputStream()
	out, err := m.dev.OpenOutput(streamCfg)
	if err != nil {
		logger.Error("Audio: failed to open output stream", "device", m.dev.Name(), "error", err)
		return deviceError("StartPlayback", err)
	}

	m.playStop.Store(false)
	p := &playbackLoop{out: out, gen: m.generation.Load(), done: make(chan struct{})}
	m.playback = p
	go m.playbackLoop(p)

	logger.Debug("Audio: playback started", "device", m.dev.Name(), "stream", streamCfg.String(), "generation", p.gen)
	return nil
}

// StopPlayback stops the playback loop, closes the output stream and discards
// queued chunks. Safe to call when playback is not running.
func (m *IOManager) StopPlayback() error {
	m.playMu.Lock()
	defer m.playMu.Unlock()

	p := m.playback
	if p == nil {
		m.queue.reset()
		return nil
	}
	m.playback = nil

	closeErr := m.abortLocked(p)
	discarded := m.queue.reset()
	m.observer.ObservePlaybackDepth(0)
	logger.Debug("Audio: playback stopped", "discarded", discarded)
	return closeErr
}

// Playing reports whether a playback loop is running.
func (m *IOManager) Playing() bool {
	m.playMu.Lock()
	defer m.playMu.Unlock()
	if m.playback == nil {
		return false
	}
	select {
	case <-m.playback.done:
		return false
	default:
		return true
	}
}

// FlushAndAbortPlayback silences output immediately and drops everything
// queued. If playback was running a fresh stream is opened and the loop
// restarted, so later chunks play normally.
//
// After it returns no chunk enqueued before the call is ever written.
func (m *IOManager) FlushAndAbortPlayback() error {
	start := time.Now()

	m.playMu.Lock()
	defer m.playMu.Unlock()

	p := m.playback
	var closeErr error
	if p != nil {
		closeErr = m.abortLocked(p)
		m.playback = nil
	} else {
		m.playStop.Store(true)
		m.generation.Add(1)
	}

	discarded := m.queue.reset()
	m.flushes.Add(1)
	m.chunksFlushed.Add(uint64(discarded))

	var restartErr error
	if p != nil && !m.closed.Load() {
		restartErr = m.startPlaybackLocked()
	}

	elapsed := time.Since(start)
	m.observer.ObserveFlush(elapsed)
	m.observer.ObservePlaybackDepth(0)
	if discarded > 0 {
		m.observer.ObserveFrames(streamPlayback, resultFlushed, discarded)
	}
	logger.Debug("Audio: playback flushed", "discarded", discarded, "elapsed", elapsed, "restarted", p != nil)

	return errors.Join(closeErr, restartErr)
}

// abortLocked stops p: stop flag, generation bump, output lock, close, join.
// The caller holds playMu.
func (m *IOManager) abortLocked(p *playbackLoop) error {
	m.playStop.Store(true)
	m.generation.Add(1)

	m.outMu.Lock()
	closeErr := p.out.Close()
	m.outMu.Unlock()

	if !waitDone(p.done, m.cfg.PlaybackJoinTimeout) {
		logger.Warn("Audio: playback loop did not exit in time", "timeout", m.cfg.PlaybackJoinTimeout)
	}
	if closeErr != nil {
		return deviceError("StopPlayback", closeErr)
	}
	return nil
}

func (m *IOManager) live(p *playbackLoop) bool {
	return !m.playStop.Load() && m.generation.Load() == p.gen
}

func (m *IOManager) playbackLoop(p *playbackLoop) {
	defer close(p.done)

	for m.live(p) {
		chunk, ok := m.queue.pop(m.cfg.PopTimeout)
		if !ok {
			continue
		}
		if err := m.playChunk(p, chunk); err != nil {
			if errors.Is(err, errPlaybackAborted) || !m.live(p) {
				return
			}
			logger.Error("Audio: playback failed, giving up", "error", err)
			m.publish(DeviceEvent{Type: DevicePlaybackStopped, Err: err})
			return
		}
		m.chunksPlayed.Add(1)
		m.observer.ObserveFrames(streamPlayback, resultOK, 1)
		m.observer.ObservePlaybackDepth(m.queue.size())
	}
}

// playChunk writes chunk in sub-chunks, checking liveness around every write.
func (m *IOManager) playChunk(p *playbackLoop, chunk []byte) error {
	sub := m.cfg.PlaybackSubChunkBytes
	failures := 0

	for off := 0; off < len(chunk); {
		if !m.live(p) {
			return errPlaybackAborted
		}
		end := min(off+sub, len(chunk))

		err := m.writeSubChunk(p, chunk[off:end])
		switch {
		case errors.Is(err, errPlaybackAborted):
			return err
		case err != nil:
			failures++
			if failures > m.cfg.MaxDeviceRetries {
				return deviceError("Write", err)
			}
			logger.Warn("Audio: playback write failed, retrying", "error", err, "attempt", failures)
			time.Sleep(m.cfg.DeviceRetryDelay)
			continue
		}

		failures = 0
		off = end
	}

	if !m.live(p) {
		return errPlaybackAborted
	}
	return nil
}

func (m *IOManager) writeSubChunk(p *playbackLoop, b []byte) error {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	if !m.live(p) {
		return errPlaybackAborted
	}
	_, err := p.out.Write(b)
	return err
}

// Stats returns a snapshot of the manager's counters.
func (m *IOManager) Stats() Stats {
	return Stats{
		FramesCaptured: m.framesCaptured.Load(),
		FramesDropped:  m.framesDropped.Load(),
		ChunksEnqueued: m.chunksEnqueued.Load(),
		ChunksPlayed:   m.chunksPlayed.Load(),
		ChunksDropped:  m.chunksDropped.Load(),
		ChunksFlushed:  m.chunksFlushed.Load(),
		Flushes:        m.flushes.Load(),
		QueueDepth:     m.queue.size(),
		Capturing:      m.Capturing(),
		Playing:        m.Playing(),
	}
}

// Close stops both loops, clears the playback queue and releases the
// device. It is idempotent.
func (m *IOManager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	captureErr := m.StopCapture()
	playbackErr := m.StopPlayback()
	deviceErr := m.dev.Close()
	if deviceErr != nil {
		deviceErr = deviceError("Close", deviceErr)
	}

	s := m.Stats()
	logger.Info("Audio: io manager closed",
		"frames_captured", s.FramesCaptured,
		"frames_dropped", s.FramesDropped,
		"chunks_played", s.ChunksPlayed,
		"chunks_dropped", s.ChunksDropped,
		"flushes", s.Flushes)

	return errors.Join(captureErr, playbackErr, deviceErr)
}

func (m *IOManager) publish(ev DeviceEvent) {
	select {
	case m.events <- ev:
	default:
		logger.Warn("Audio: device event dropped", "type", ev.Type.String())
	}
}

func deviceError(op string, err error) error {
	return pkgerrors.New(componentName, op, err).WithKind(pkgerrors.KindDevice)
}

// waitDone waits for done up to timeout.
func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// sleepUntil waits d unless ctx or stop fire first. It reports whether the
// full delay elapsed.
func sleepUntil(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}
