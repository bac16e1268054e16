package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/RRiiiccckkk/FractFlow/runtime/audio"
	"github.com/RRiiiccckkk/FractFlow/runtime/conversation"
	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
	"github.com/RRiiiccckkk/FractFlow/runtime/monitor"
	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
	"github.com/RRiiiccckkk/FractFlow/runtime/telemetry"
)

var (
	// ErrNotRunning is returned by calls made before Run or after it returned.
	ErrNotRunning = errors.New("coordinator is not running")
	// ErrAlreadyRunning is returned by a second Run.
	ErrAlreadyRunning = errors.New("coordinator is already running")
	// ErrClosed is returned by calls that race with shutdown.
	ErrClosed = errors.New("coordinator is closed")
	// ErrInvalidState is returned when a call does not apply to the current state.
	ErrInvalidState = errors.New("operation not valid in current state")
	// ErrWrongMode is returned for manual-only calls in continuous mode.
	ErrWrongMode = errors.New("operation requires manual mode")
	// ErrEmptyText is returned by SendText for blank input.
	ErrEmptyText = errors.New("text is empty")
)

// Session is the remote protocol surface the coordinator drives.
// *realtime.Client implements it.
type Session interface {
	OnEvent(handler func(realtime.Event))
	Connect(ctx context.Context, creds realtime.Credentials) (*realtime.Session, error)
	Disconnect(ctx context.Context) error
	SendAudio(frame audio.AudioFrame) error
	CommitAndRequestResponse(ctx context.Context) error
	ClearAudioBuffer(ctx context.Context) error
	CancelCurrentResponse(ctx context.Context) error
	SendContext(ctx context.Context, text string) error
	SendText(ctx context.Context, text string) error
}

// AudioIO is the local audio surface. *audio.IOManager implements it.
type AudioIO interface {
	StartCapture(ctx context.Context) (*audio.CaptureHandle, error)
	StopCapture() error
	EnqueuePlayback(chunk []byte)
	StartPlayback() error
	StopPlayback() error
	FlushAndAbortPlayback() error
	PlaybackQueueLen() int
	Events() <-chan audio.DeviceEvent
	Close() error
}

// Observer receives turn, interrupt and state changes. ObserveSpeech is
// called from the capture pump for every frame.
type Observer interface {
	ObserveTurn(mode, status string, d time.Duration)
	ObserveInterrupt(source string)
	ObserveState(state string)
	ObserveSpeech(st audio.SpeechState)
}

type nopObserver struct{}

func (nopObserver) ObserveTurn(string, string, time.Duration) {}
func (nopObserver) ObserveInterrupt(string)                   {}
func (nopObserver) ObserveState(string)                       {}
func (nopObserver) ObserveSpeech(audio.SpeechState)           {}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCache persists completed turns and injects history after each connect.
func WithCache(cache conversation.Cache) Option {
	return func(c *Coordinator) { c.cache = cache }
}

// WithMonitor runs m under Run and registers the emergency cleanup on it.
func WithMonitor(m *monitor.Monitor) Option {
	return func(c *Coordinator) { c.monitor = m }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithTracer records session, turn and response spans with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) { c.spans = telemetry.NewSessionListener(tracer) }
}

// WithTranscriptSink receives user and assistant text. It is called on the
// event loop and must not block.
func WithTranscriptSink(fn func(Transcript)) Option {
	return func(c *Coordinator) { c.sink = fn }
}

// Coordinator is the conversation state machine. Every transition runs on
// one event-loop goroutine; API calls, client events, capture notifications
// and monitor alerts are posted to it.
type Coordinator struct {
	cfg      Config
	client   Session
	io       AudioIO
	cache    conversation.Cache
	monitor  *monitor.Monitor
	observer Observer
	spans    *telemetry.SessionListener
	sink     func(Transcript)

	interrupts *audio.InterruptionHandler

	inbox    chan message
	captures chan *audio.CaptureHandle
	ready    chan struct{}
	stopped  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	uplink   atomic.Bool

	mu       sync.Mutex
	state    State
	snapshot *TurnSnapshot

	// Loop-owned fields.
	ctx         context.Context //nolint:containedctx // loop logging context
	turn        *turn
	capturing   bool
	dropped     map[string]struct{}
	cancelSeq   uint64
	cancelTimer *time.Timer
	err         error

	sendDropLog rate.Sometimes
}

// New creates a Coordinator. It takes ownership of client and io: both are
// closed when Run returns.
func New(cfg Config, client Session, io AudioIO, opts ...Option) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	detector, err := audio.NewInterruptDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:         cfg,
		client:      client,
		io:          io,
		observer:    nopObserver{},
		spans:       telemetry.NewSessionListener(telemetry.Tracer(nil)),
		interrupts:  audio.NewInterruptionHandler(cfg.strategy(), detector),
		inbox:       make(chan message, cfg.InboxSize),
		captures:    make(chan *audio.CaptureHandle, 4),
		ready:       make(chan struct{}),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
		dropped:     make(map[string]struct{}),
		sendDropLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Turn returns the open turn, if any.
func (c *Coordinator) Turn() (TurnSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return TurnSnapshot{}, false
	}
	return *c.snapshot, true
}

// Ready is closed once the session is established and the loop is running.
func (c *Coordinator) Ready() <-chan struct{} { return c.ready }

// Done is closed when Run has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Run connects, then supervises the event loop, the capture pump and the
// resource monitor until Shutdown, ctx cancellation or a fatal error. It
// returns the first fatal error, or nil for a clean shutdown.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	c.ctx = logger.WithComponent(logger.WithMode(ctx, string(c.cfg.Mode)), "coordinator")
	c.client.OnEvent(c.onRemoteEvent)

	sess, err := c.client.Connect(ctx, c.cfg.Credentials)
	if err != nil {
		c.stopOnce.Do(func() { close(c.stopped) })
		if cerr := c.io.Close(); cerr != nil {
			logger.Warn("Coordinator: closing audio after failed connect", "error", cerr)
		}
		return err
	}
	c.ctx = logger.WithSessionID(c.ctx, sess.ID)
	c.spans.StartSession(ctx, sess.ID, string(c.cfg.Mode))

	if c.monitor != nil {
		c.monitor.OnCritical(c.emergencyCleanup)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.loop(gctx, cancel) })
	g.Go(func() error { return c.pump(gctx) })
	if c.monitor != nil {
		g.Go(func() error { return c.monitor.Run(gctx) })
	}
	_ = g.Wait()

	return c.err
}

// StartTurn begins recording a user turn. Manual mode only, from Idle.
func (c *Coordinator) StartTurn(ctx context.Context) error {
	return c.call(ctx, cmdStartTurn{})
}

// Commit ends the recording turn and requests a response. Manual mode only.
func (c *Coordinator) Commit(ctx context.Context) error {
	return c.call(ctx, cmdCommit{})
}

// Interrupt stops the assistant. It is honored whatever the interrupt
// source setting. Outside a response it only flushes queued playback.
func (c *Coordinator) Interrupt(ctx context.Context) error {
	return c.call(ctx, cmdInterrupt{})
}

// SendText sends a typed user message and requests a response.
func (c *Coordinator) SendText(ctx context.Context, text string) error {
	return c.call(ctx, cmdSendText{text: text})
}

// Shutdown moves to Closing and waits for Run to return or ctx to end.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.running.Load() {
		return nil
	}
	select {
	case c.inbox <- cmdShutdown{}:
	case <-c.stopped:
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// message is anything posted to the event loop.
type message interface{}

type command interface {
	apply(c *Coordinator) error
}

type callMsg struct {
	cmd   command
	reply chan error
}

type (
	cmdStartTurn struct{}
	cmdCommit    struct{}
	cmdInterrupt struct{}
	cmdSendText  struct{ text string }
	cmdShutdown  struct{}

	remoteEvent   struct{ ev realtime.Event }
	localSpeech   struct{}
	cancelTimeout struct{ seq uint64 }
	criticalAlert struct{ status monitor.HealthStatus }
)

func (cmdStartTurn) apply(c *Coordinator) error { return c.startTurn() }
func (cmdCommit) apply(c *Coordinator) error    { return c.commit() }
func (cmdInterrupt) apply(c *Coordinator) error { return c.explicitInterrupt() }
func (m cmdSendText) apply(c *Coordinator) error {
	return c.sendText(m.text)
}

func (c *Coordinator) call(ctx context.Context, cmd command) error {
	select {
	case <-c.ready:
	default:
		return ErrNotRunning
	}
	reply := make(chan error, 1)
	select {
	case c.inbox <- callMsg{cmd: cmd, reply: reply}:
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers m to the loop unless it is shutting down.
func (c *Coordinator) post(m message) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Coordinator) onRemoteEvent(ev realtime.Event) {
	c.spans.OnEvent(ev)
	c.post(remoteEvent{ev: ev})
}

// emergencyCleanup runs on the monitor goroutine. It releases audio and
// memory immediately, then hands the transition to the loop.
func (c *Coordinator) emergencyCleanup(st monitor.HealthStatus) {
	logger.Error("Coordinator: resources critical, emergency cleanup", "reasons", st.Reasons)
	if err := c.io.Close(); err != nil {
		logger.Warn("Coordinator: audio close during emergency cleanup", "error", err)
	}
	monitor.ReleaseMemory()
	c.post(criticalAlert{status: st})
}

func (c *Coordinator) loop(ctx context.Context, cancel context.CancelFunc) error {
	defer cancel()

	close(c.ready)
	c.injectContext()
	if c.cfg.Mode == realtime.ModeContinuous {
		c.startRecording()
	} else {
		c.setState(StateIdle)
	}

	for {
		select {
		case <-ctx.Done():
			c.enterClosing(nil)
			return nil
		case ev := <-c.io.Events():
			logger.ErrorContext(c.ctx, "Coordinator: audio device failed", "event", ev.Type.String(), "error", ev.Err)
			c.enterClosing(ev.Err)
		case m := <-c.inbox:
			c.handle(m)
		}
		if c.State() == StateClosing {
			return nil
		}
	}
}

func (c *Coordinator) handle(m message) {
	switch m := m.(type) {
	case callMsg:
		m.reply <- m.cmd.apply(c)
	case cmdShutdown:
		c.enterClosing(nil)
	case remoteEvent:
		c.handleRemote(m.ev)
	case localSpeech:
		if c.cfg.localInterrupts() {
			c.interrupt(SourceLocal)
		}
	case cancelTimeout:
		if c.State() == StateInterrupting && m.seq == c.cancelSeq {
			logger.WarnContext(c.ctx, "Coordinator: cancel not acknowledged, resuming", "timeout", c.cfg.CancelAckTimeout)
			c.finishInterrupt(realtime.CancelUnacknowledged)
		}
	case criticalAlert:
		c.enterClosing(m.status.Err())
	}
}

func (c *Coordinator) handleRemote(ev realtime.Event) {
	state := c.State()
	if state == StateClosing {
		return
	}

	//nolint:exhaustive // span-only events are ignored here
	switch ev.Type {
	case realtime.EventResponseCreated:
		switch {
		case state == StateInterrupting:
			c.drop(ev.ResponseID)
		case c.turn != nil && c.turn.requested && c.turn.responseID == "":
			c.turn.responseID = ev.ResponseID
			c.publishTurn()
		}

	case realtime.EventAudioDelta, realtime.EventTranscriptDelta:
		c.handleDelta(ev)

	case realtime.EventTranscriptDone:
		if c.ownsResponse(ev.ResponseID) && ev.Text != "" {
			c.turn.aiText = append(c.turn.aiText[:0], ev.Text...)
			c.publishTurn()
			c.emitTranscript(RoleAssistant, ev.Text, true)
		}

	case realtime.EventInputTranscript:
		if c.turn != nil {
			c.turn.userText = ev.Text
			c.publishTurn()
			c.emitTranscript(RoleUser, ev.Text, true)
		}

	case realtime.EventResponseDone:
		if (state == StateAwaitingResponse || state == StateAiResponding) && c.ownsResponse(ev.ResponseID) {
			if ev.Status == realtime.StatusCancelled {
				c.endCancelledTurn()
				break
			}
			c.completeTurn(ev.Status)
		}

	case realtime.EventResponseCancelled:
		switch {
		case state == StateInterrupting:
			c.finishInterrupt(ev.Outcome)
		case (state == StateAwaitingResponse || state == StateAiResponding) && c.ownsResponse(ev.ResponseID):
			c.endCancelledTurn()
		}

	case realtime.EventSpeechStarted:
		if !c.cfg.remoteInterrupts() {
			break
		}
		switch state {
		case StateAiResponding:
			if c.interrupts.ProcessSpeechStarted() {
				c.interrupt(SourceRemote)
			}
		case StateAwaitingResponse:
			if c.interrupts.Strategy() == audio.InterruptionImmediate {
				c.interrupt(SourceRemote)
			}
		}

	case realtime.EventSpeechStopped:
		if state == StateRecordingUser && c.cfg.Mode == realtime.ModeContinuous {
			c.requestResponse()
		}

	case realtime.EventProtocolError:
		logger.WarnContext(c.ctx, "Coordinator: protocol error", "code", ev.Code, "error", ev.Err)
		if state == StateAwaitingResponse || state == StateAiResponding {
			c.abortTurn(ev.Err)
		}

	case realtime.EventDisconnected:
		c.handleDisconnected(ev.Err)

	case realtime.EventReconnected:
		c.handleReconnected(ev.Session)

	case realtime.EventConnectionLost:
		c.enterClosing(ev.Err)
	}
}

func (c *Coordinator) handleDelta(ev realtime.Event) {
	if _, ok := c.dropped[ev.ResponseID]; ok && ev.ResponseID != "" {
		return
	}
	switch c.State() {
	case StateAwaitingResponse:
		c.beginStreaming(ev.ResponseID)
	case StateAiResponding:
		if !c.ownsResponse(ev.ResponseID) {
			logger.DebugContext(c.ctx, "Coordinator: delta for another response", "response_id", ev.ResponseID)
			return
		}
	default:
		// Interrupting, Idle, RecordingUser: late or stray.
		return
	}

	if ev.Type == realtime.EventAudioDelta {
		c.io.EnqueuePlayback(ev.Audio)
		return
	}
	c.turn.aiText = append(c.turn.aiText, ev.Text...)
	c.publishTurn()
	c.emitTranscript(RoleAssistant, ev.Text, false)
}

// ownsResponse reports whether id belongs to the open turn. An unknown id
// on either side matches.
func (c *Coordinator) ownsResponse(id string) bool {
	if c.turn == nil {
		return false
	}
	return id == "" || c.turn.responseID == "" || c.turn.responseID == id
}

func (c *Coordinator) drop(id string) {
	if id != "" {
		c.dropped[id] = struct{}{}
	}
}

// --- transitions ---

func (c *Coordinator) startTurn() error {
	if c.cfg.Mode != realtime.ModeManual {
		return ErrWrongMode
	}
	if state := c.State(); state != StateIdle {
		return fmt.Errorf("%w: start turn in %s", ErrInvalidState, state)
	}
	return c.startRecording()
}

// startRecording opens a turn and streams capture to the service. Manual
// mode clears the remote input buffer first.
func (c *Coordinator) startRecording() error {
	if c.cfg.Mode == realtime.ModeManual {
		if err := c.client.ClearAudioBuffer(c.ctx); err != nil {
			logger.WarnContext(c.ctx, "Coordinator: clear input buffer failed", "error", err)
		}
	}
	c.openTurn()
	c.uplink.Store(true)
	if err := c.ensureCapture(); err != nil {
		c.closeTurn(TurnFailed, err)
		c.uplink.Store(false)
		c.setState(StateIdle)
		return err
	}
	c.setState(StateRecordingUser)
	logger.InfoContext(c.turnCtx(), "Coordinator: recording")
	return nil
}

func (c *Coordinator) commit() error {
	if c.cfg.Mode != realtime.ModeManual {
		return ErrWrongMode
	}
	if state := c.State(); state != StateRecordingUser {
		return fmt.Errorf("%w: commit in %s", ErrInvalidState, state)
	}
	c.uplink.Store(false)
	c.stopCapture()
	return c.requestResponse()
}

func (c *Coordinator) requestResponse() error {
	if err := c.client.CommitAndRequestResponse(c.ctx); err != nil {
		c.closeTurn(TurnFailed, err)
		c.settle()
		return err
	}
	c.turn.requested = true
	c.publishTurn()
	c.setState(StateAwaitingResponse)
	logger.DebugContext(c.turnCtx(), "Coordinator: response requested")
	return nil
}

func (c *Coordinator) sendText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	state := c.State()
	switch {
	case state == StateIdle:
		c.openTurn()
	case state == StateRecordingUser && c.cfg.Mode == realtime.ModeContinuous:
	default:
		return fmt.Errorf("%w: send text in %s", ErrInvalidState, state)
	}
	if err := c.client.SendText(c.ctx, text); err != nil {
		c.closeTurn(TurnFailed, err)
		c.settle()
		return err
	}
	c.turn.userText = text
	c.turn.requested = true
	c.publishTurn()
	c.emitTranscript(RoleUser, text, true)
	c.setState(StateAwaitingResponse)
	return nil
}

// beginStreaming moves AwaitingResponse to AiResponding on the first delta.
func (c *Coordinator) beginStreaming(responseID string) {
	c.turn.streaming = true
	if c.turn.responseID == "" {
		c.turn.responseID = responseID
	}
	c.publishTurn()

	if err := c.io.StartPlayback(); err != nil {
		logger.ErrorContext(c.turnCtx(), "Coordinator: start playback failed", "error", err)
	}
	if c.cfg.Mode == realtime.ModeManual && c.cfg.localInterrupts() {
		// Monitor-only capture: frames reach the detector, not the network.
		c.uplink.Store(false)
		if err := c.ensureCapture(); err != nil {
			logger.WarnContext(c.turnCtx(), "Coordinator: monitor capture unavailable", "error", err)
		}
	}
	c.interrupts.SetBotSpeaking(true)
	c.setState(StateAiResponding)
}

func (c *Coordinator) completeTurn(status string) {
	st := TurnCompleted
	if status != "" && status != "completed" {
		st = TurnFailed
		logger.WarnContext(c.turnCtx(), "Coordinator: response ended", "status", status)
	}
	c.persistTurn()
	c.closeTurn(st, nil)
	c.interrupts.SetBotSpeaking(false)
	c.settle()
}

// endCancelledTurn closes a turn whose response the server cancelled
// without a local interrupt. Nothing is persisted.
func (c *Coordinator) endCancelledTurn() {
	logger.InfoContext(c.turnCtx(), "Coordinator: response cancelled by server")
	if c.turn != nil {
		c.drop(c.turn.responseID)
	}
	if err := c.io.FlushAndAbortPlayback(); err != nil {
		logger.WarnContext(c.ctx, "Coordinator: flush failed", "error", err)
	}
	c.closeTurn(TurnCancelled, nil)
	c.interrupts.Reset()
	c.settle()
}

// settle returns to the resting state for the mode: RecordingUser in
// continuous mode, Idle in manual mode.
func (c *Coordinator) settle() {
	if c.cfg.Mode == realtime.ModeContinuous {
		c.startRecording()
		return
	}
	c.uplink.Store(false)
	c.stopCapture()
	c.setState(StateIdle)
}

func (c *Coordinator) explicitInterrupt() error {
	switch c.State() {
	case StateAwaitingResponse, StateAiResponding:
		c.interrupt(SourceExplicit)
	default:
		if c.io.PlaybackQueueLen() > 0 {
			if err := c.io.FlushAndAbortPlayback(); err != nil {
				logger.WarnContext(c.ctx, "Coordinator: flush failed", "error", err)
			}
		}
	}
	return nil
}

// interrupt silences playback first, then cancels the response remotely and
// discards the turn's assistant text.
func (c *Coordinator) interrupt(source string) {
	state := c.State()
	if state != StateAwaitingResponse && state != StateAiResponding {
		return
	}
	speech := c.interrupts.LastState()
	if err := c.io.FlushAndAbortPlayback(); err != nil {
		logger.WarnContext(c.turnCtx(), "Coordinator: flush failed", "error", err)
	}
	c.observer.ObserveInterrupt(source)

	if err := c.client.CancelCurrentResponse(c.ctx); err != nil {
		logger.WarnContext(c.turnCtx(), "Coordinator: cancel failed", "error", err)
	}
	if c.turn != nil {
		c.drop(c.turn.responseID)
		c.turn.aiText = c.turn.aiText[:0]
		c.publishTurn()
	}
	c.closeTurn(TurnInterrupted, nil)
	c.interrupts.Reset()
	c.setState(StateInterrupting)
	if source == SourceLocal {
		logger.InfoContext(c.ctx, "Coordinator: interrupted", "source", source,
			"energy", speech.Energy, "threshold", speech.Threshold, "confidence", speech.Confidence)
	} else {
		logger.InfoContext(c.ctx, "Coordinator: interrupted", "source", source)
	}

	c.cancelSeq++
	seq := c.cancelSeq
	c.stopCancelTimer()
	c.cancelTimer = time.AfterFunc(c.cfg.CancelAckTimeout, func() {
		c.post(cancelTimeout{seq: seq})
	})
}

func (c *Coordinator) finishInterrupt(outcome realtime.CancelOutcome) {
	c.stopCancelTimer()
	logger.DebugContext(c.ctx, "Coordinator: cancel resolved", "outcome", outcome.String())
	if c.cfg.Mode == realtime.ModeManual && c.cfg.RecordAfterInterrupt {
		c.uplink.Store(false)
		c.stopCapture()
		c.startRecording()
		return
	}
	c.settle()
}

// abortTurn ends the open response turn after a protocol error. The session
// stays up.
func (c *Coordinator) abortTurn(err error) {
	if c.turn != nil {
		c.drop(c.turn.responseID)
	}
	if flushErr := c.io.FlushAndAbortPlayback(); flushErr != nil {
		logger.WarnContext(c.ctx, "Coordinator: flush failed", "error", flushErr)
	}
	c.closeTurn(TurnFailed, err)
	c.interrupts.Reset()
	c.settle()
}

func (c *Coordinator) handleDisconnected(err error) {
	logger.WarnContext(c.ctx, "Coordinator: connection lost, waiting for reconnect", "error", err)
	c.stopCancelTimer()
	if flushErr := c.io.FlushAndAbortPlayback(); flushErr != nil {
		logger.WarnContext(c.ctx, "Coordinator: flush failed", "error", flushErr)
	}
	c.closeTurn(TurnCancelled, err)
	c.interrupts.Reset()
	c.uplink.Store(false)
	c.stopCapture()
	c.setState(StateIdle)
}

func (c *Coordinator) handleReconnected(sess *realtime.Session) {
	if sess != nil {
		c.ctx = logger.WithSessionID(c.ctx, sess.ID)
	}
	c.dropped = make(map[string]struct{})
	logger.InfoContext(c.ctx, "Coordinator: session resumed")
	c.injectContext()
	if c.cfg.Mode == realtime.ModeContinuous && c.State() == StateIdle {
		c.startRecording()
	}
}

// enterClosing stops everything once. The first non-nil err is the one Run
// reports.
func (c *Coordinator) enterClosing(err error) {
	if c.State() == StateClosing {
		return
	}
	if err != nil && c.err == nil {
		c.err = err
	}
	c.setState(StateClosing)
	c.stopOnce.Do(func() { close(c.stopped) })

	c.stopCancelTimer()
	c.closeTurn(TurnCancelled, err)
	c.uplink.Store(false)

	dctx, cancel := context.WithTimeout(context.Background(), c.cfg.DisconnectTimeout)
	defer cancel()
	if derr := c.client.Disconnect(dctx); derr != nil {
		logger.Warn("Coordinator: disconnect", "error", derr)
	}
	if cerr := c.io.Close(); cerr != nil {
		logger.Warn("Coordinator: audio close", "error", cerr)
	}
	c.spans.EndSession(c.err)

	if c.err != nil {
		logger.ErrorContext(c.ctx, "Coordinator: closed with error", "error", c.err)
	} else {
		logger.InfoContext(c.ctx, "Coordinator: closed")
	}
}

// --- helpers ---

func (c *Coordinator) openTurn() {
	if c.turn != nil {
		c.closeTurn(TurnCancelled, nil)
	}
	c.turn = &turn{id: uuid.NewString(), started: time.Now()}
	c.spans.StartTurn(c.turn.id, string(c.cfg.Mode))
	c.publishTurn()
}

func (c *Coordinator) closeTurn(status TurnStatus, err error) {
	t := c.turn
	if t == nil {
		return
	}
	c.turn = nil
	c.publishTurn()
	c.spans.EndTurn(t.id, string(status), err)
	// A turn that never reached the service is not counted.
	if t.requested || status == TurnCompleted {
		c.observer.ObserveTurn(string(c.cfg.Mode), string(status), time.Since(t.started))
	}
}

func (c *Coordinator) persistTurn() {
	if c.cache == nil || c.turn == nil {
		return
	}
	err := c.cache.AppendTurn(c.ctx, c.turn.userText, string(c.turn.aiText))
	switch {
	case errors.Is(err, conversation.ErrEmptyTurn):
	case err != nil:
		logger.WarnContext(c.turnCtx(), "Coordinator: saving turn failed", "error", err)
	}
}

func (c *Coordinator) injectContext() {
	if c.cache == nil {
		return
	}
	text, err := c.cache.GetContext(c.ctx, c.cfg.MaxContextChars)
	if err != nil {
		logger.WarnContext(c.ctx, "Coordinator: loading history failed", "error", err)
		return
	}
	if text == "" {
		return
	}
	if err := c.client.SendContext(c.ctx, text); err != nil {
		logger.WarnContext(c.ctx, "Coordinator: injecting history failed", "error", err)
		return
	}
	logger.DebugContext(c.ctx, "Coordinator: history injected", "chars", len(text))
}

// ensureCapture starts capture if it is not running and hands the new
// handle to the pump.
func (c *Coordinator) ensureCapture() error {
	if c.capturing {
		return nil
	}
	h, err := c.io.StartCapture(c.ctx)
	if err != nil {
		return err
	}
	c.capturing = true
	select {
	case c.captures <- h:
	case <-c.stopped:
	}
	return nil
}

func (c *Coordinator) stopCapture() {
	if !c.capturing {
		return
	}
	c.capturing = false
	if err := c.io.StopCapture(); err != nil {
		logger.WarnContext(c.ctx, "Coordinator: stop capture", "error", err)
	}
}

func (c *Coordinator) stopCancelTimer() {
	if c.cancelTimer != nil {
		c.cancelTimer.Stop()
		c.cancelTimer = nil
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		logger.DebugContext(c.ctx, "Coordinator: state", "from", prev.String(), "to", s.String())
	}
	c.observer.ObserveState(s.String())
}

func (c *Coordinator) publishTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		c.snapshot = nil
		return
	}
	s := c.turn.snapshot()
	c.snapshot = &s
}

func (c *Coordinator) emitTranscript(role Role, text string, final bool) {
	if c.sink == nil || c.turn == nil {
		return
	}
	c.sink(Transcript{TurnID: c.turn.id, Role: role, Text: text, Final: final})
}

func (c *Coordinator) turnCtx() context.Context {
	if c.turn == nil {
		return c.ctx
	}
	return logger.WithTurnID(c.ctx, c.turn.id)
}

// pump forwards captured frames to the detector and, when uplink is on, to
// the service. It is the only SendAudio caller, so frame order is kept.
func (c *Coordinator) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case h := <-c.captures:
			c.drain(ctx, h)
		}
	}
}

func (c *Coordinator) drain(ctx context.Context, h *audio.CaptureHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-h.Frames():
			if !ok {
				return
			}
			c.handleFrame(f)
		}
	}
}

func (c *Coordinator) handleFrame(f audio.AudioFrame) {
	var st audio.SpeechState
	if c.cfg.localInterrupts() {
		var hit bool
		if hit, st = c.interrupts.ProcessFrame(f); hit {
			// Non-blocking: the latch fires once per utterance.
			select {
			case c.inbox <- localSpeech{}:
			default:
			}
		}
	} else {
		// Calibration and metering only; the latch is left for remote speech.
		st = c.interrupts.Observe(f)
	}
	c.observer.ObserveSpeech(st)
	if !c.uplink.Load() {
		return
	}
	if err := c.client.SendAudio(f); err != nil {
		c.sendDropLog.Do(func() {
			logger.Warn("Coordinator: dropping captured audio", "seq", f.Seq(), "error", err)
		})
	}
}
