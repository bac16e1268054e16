package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/RRiiiccckkk/FractFlow/runtime/audio"
	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
)

// Observer receives connection activity counters.
type Observer interface {
	ObserveFrames(stream, result string, n int)
	ObserveReconnect(result string)
	ObserveProtocolError(code string)
}

type nopObserver struct{}

func (nopObserver) ObserveFrames(string, string, int) {}
func (nopObserver) ObserveReconnect(string)           {}
func (nopObserver) ObserveProtocolError(string)       {}

// Frame stream and result labels reported to the Observer.
const (
	StreamUplink  = "uplink"
	ResultOK      = "ok"
	ResultDropped = "dropped"

	ReconnectSuccess = "success"
	ReconnectFailure = "failure"

	codeMalformed = "malformed"
)

// Client is a session with the remote realtime service. One goroutine
// owns the read side of the connection, one drains the outbound queue and
// one sends heartbeats. Events are delivered on the read goroutine; the
// handler must not block.
type Client struct {
	cfg Config

	mu            sync.Mutex
	state         SessionState
	creds         Credentials
	session       *Session
	link          *link
	handler       func(Event)
	currentResp   string
	cancelPending bool
	cancelSeq     uint64
	cancelTimer   *time.Timer
	waiters       []chan CancelOutcome
	lifeCancel    context.CancelFunc
	done          chan struct{}
	// abortConnect and connectDone are set while a Connect handshake runs.
	abortConnect context.CancelFunc
	connectDone  chan struct{}

	eventSeq atomic.Uint64
}

// link is the per-connection plumbing. A reconnect replaces it wholesale,
// which also discards anything still queued for the old connection.
type link struct {
	conn   *Conn
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// OnEvent installs the event handler. It may be called before Connect.
func (c *Client) OnEvent(handler func(Event)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// State returns the current session state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the active session, or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	s.State = c.state
	return &s
}

// Connect dials the service, waits for session.created and sends the
// session configuration for the configured mode. ctx bounds the handshake
// only; the session lives until Disconnect.
func (c *Client) Connect(ctx context.Context, creds Credentials) (*Session, error) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	if creds.APIKey == "" {
		c.mu.Unlock()
		return nil, connectError(ErrAuthFailed, ErrMissingAPIKey, 0)
	}
	c.state = StateConnecting
	c.creds = creds
	hctx, abort := context.WithCancel(ctx)
	defer abort()
	c.abortConnect = abort
	c.connectDone = make(chan struct{})
	connectDone := c.connectDone
	c.mu.Unlock()
	defer close(connectDone)

	sess, conn, err := c.handshake(hctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.abortConnect = nil
		c.mu.Unlock()
		if ctx.Err() == nil && hctx.Err() != nil {
			return nil, connectError(ErrNotConnected, context.Canceled, 0)
		}
		return nil, err
	}

	c.mu.Lock()
	c.abortConnect = nil
	if hctx.Err() != nil && ctx.Err() == nil {
		// Disconnect won the race against a finished handshake.
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Abort()
		return nil, connectError(ErrNotConnected, context.Canceled, 0)
	}
	c.mu.Unlock()

	lifeCtx, cancel := context.WithCancel(context.Background())
	l := c.newLink(lifeCtx, conn)

	c.mu.Lock()
	c.session = sess
	c.link = l
	c.state = StateActive
	c.lifeCancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.run(lifeCtx, l, done)

	logger.Info("Realtime session established", "session_id", sess.ID, "mode", string(c.cfg.Mode))
	return c.Session(), nil
}

// Disconnect closes the session. It is safe to call more than once and
// returns once the connection goroutines have exited or ctx is done.
// During a Connect handshake it aborts the handshake, and Connect fails
// with ErrNotConnected.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting && c.abortConnect != nil {
		abort, connectDone := c.abortConnect, c.connectDone
		c.mu.Unlock()
		abort()
		select {
		case <-connectDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.lifeCancel == nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	cancel := c.lifeCancel
	l := c.link
	done := c.done
	c.mu.Unlock()

	cancel()
	if l != nil {
		l.cancel()
		_ = l.conn.Close()
	}

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.link = nil
	c.session = nil
	c.lifeCancel = nil
	c.currentResp = ""
	c.resolveCancelLocked(CancelUnacknowledged)
	c.mu.Unlock()

	logger.Info("Realtime session closed")
	return err
}

// SendAudio queues one PCM16 frame for the input buffer without blocking.
// When the outbound queue is full the frame is dropped and ErrSendQueueFull
// is returned.
func (c *Client) SendAudio(frame audio.AudioFrame) error {
	l, err := c.activeLink()
	if err != nil {
		return err
	}
	data, err := json.Marshal(InputAudioBufferAppendEvent{
		ClientEvent: c.clientEvent(typeInputAudioAppend),
		Audio:       base64.StdEncoding.EncodeToString(frame.Data()),
	})
	if err != nil {
		return protocolError("SendAudio", err)
	}

	select {
	case l.out <- data:
		c.cfg.Observer.ObserveFrames(StreamUplink, ResultOK, 1)
		return nil
	case <-l.ctx.Done():
		return ErrNotConnected
	default:
		c.cfg.Observer.ObserveFrames(StreamUplink, ResultDropped, 1)
		return ErrSendQueueFull
	}
}

// CommitAndRequestResponse closes the user turn: it commits the input
// buffer and asks for a response. In continuous mode the server has already
// committed on speech stop, so only response.create is sent.
func (c *Client) CommitAndRequestResponse(ctx context.Context) error {
	if c.cfg.Mode != ModeContinuous {
		if err := c.enqueue(ctx, c.clientEvent(typeInputAudioCommit)); err != nil {
			return err
		}
	}
	return c.enqueue(ctx, c.clientEvent(typeResponseCreate))
}

// RequestResponse asks for a response without committing audio.
func (c *Client) RequestResponse(ctx context.Context) error {
	return c.enqueue(ctx, c.clientEvent(typeResponseCreate))
}

// ClearAudioBuffer discards uncommitted input audio on the server.
func (c *Client) ClearAudioBuffer(ctx context.Context) error {
	return c.enqueue(ctx, c.clientEvent(typeInputAudioClear))
}

// CancelCurrentResponse sends response.cancel without waiting. The outcome
// arrives as EventResponseCancelled. A cancel that is not acknowledged
// within CancelAckTimeout is abandoned, so a later server-side cancellation
// is reported as an ordinary EventResponseDone.
func (c *Client) CancelCurrentResponse(ctx context.Context) error {
	c.mu.Lock()
	c.markCancelPendingLocked()
	c.mu.Unlock()
	return c.enqueue(ctx, c.clientEvent(typeResponseCancel))
}

// CancelAndWait sends response.cancel and waits for the server to
// acknowledge it. A reply saying no response was active counts as success.
// If nothing arrives within CancelAckTimeout the outcome is
// CancelUnacknowledged with a nil error.
func (c *Client) CancelAndWait(ctx context.Context) (CancelOutcome, error) {
	ch := make(chan CancelOutcome, 1)

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return CancelUnacknowledged, ErrNotConnected
	}
	c.markCancelPendingLocked()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	if err := c.enqueue(ctx, c.clientEvent(typeResponseCancel)); err != nil {
		c.removeWaiter(ch)
		return CancelUnacknowledged, err
	}

	timer := time.NewTimer(c.cfg.CancelAckTimeout)
	defer timer.Stop()

	select {
	case o := <-ch:
		return o, nil
	case <-timer.C:
		if o, ok := c.removeWaiter(ch); ok {
			return o, nil
		}
		logger.Warn("Realtime: cancel not acknowledged", "timeout", c.cfg.CancelAckTimeout)
		return CancelUnacknowledged, nil
	case <-ctx.Done():
		if o, ok := c.removeWaiter(ch); ok {
			return o, nil
		}
		return CancelUnacknowledged, ctx.Err()
	}
}

// SendContext injects prior conversation text as a system message.
func (c *Client) SendContext(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return c.enqueue(ctx, ConversationItemCreateEvent{
		ClientEvent: c.clientEvent(typeConversationItemCreate),
		Item: ConversationItem{
			Type:    "message",
			Role:    "system",
			Content: []ConversationContent{{Type: "input_text", Text: text}},
		},
	})
}

// SendText adds a user text message and requests a response.
func (c *Client) SendText(ctx context.Context, text string) error {
	if err := c.enqueue(ctx, ConversationItemCreateEvent{
		ClientEvent: c.clientEvent(typeConversationItemCreate),
		Item: ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ConversationContent{{Type: "input_text", Text: text}},
		},
	}); err != nil {
		return err
	}
	return c.enqueue(ctx, c.clientEvent(typeResponseCreate))
}

// CurrentResponseID returns the id of the response being streamed, if any.
func (c *Client) CurrentResponseID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentResp
}

func (c *Client) clientEvent(typ string) ClientEvent {
	return ClientEvent{
		EventID: "evt_" + strconv.FormatUint(c.eventSeq.Add(1), 10),
		Type:    typ,
	}
}

func (c *Client) activeLink() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.link == nil {
		return nil, ErrNotConnected
	}
	return c.link, nil
}

// enqueue blocks until msg is queued, ctx is done or the link goes away.
func (c *Client) enqueue(ctx context.Context, msg any) error {
	l, err := c.activeLink()
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return protocolError("Send", err)
	}
	select {
	case l.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrNotConnected
	}
}

func (c *Client) removeWaiter(ch chan CancelOutcome) (CancelOutcome, bool) {
	c.mu.Lock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	select {
	case o := <-ch:
		return o, true
	default:
		return CancelUnacknowledged, false
	}
}

// CancelPending reports whether a response.cancel is awaiting its
// acknowledgement.
func (c *Client) CancelPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelPending
}

// markCancelPendingLocked arms the acknowledgement deadline for a new
// cancel. Each cancel restarts it.
func (c *Client) markCancelPendingLocked() {
	c.cancelPending = true
	c.cancelSeq++
	seq := c.cancelSeq
	if c.cancelTimer != nil {
		c.cancelTimer.Stop()
	}
	c.cancelTimer = time.AfterFunc(c.cfg.CancelAckTimeout, func() { c.expireCancel(seq) })
}

// expireCancel abandons the cancel numbered seq if it is still pending.
func (c *Client) expireCancel(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cancelPending || c.cancelSeq != seq {
		return
	}
	logger.Debug("Realtime: abandoning unacknowledged cancel", "timeout", c.cfg.CancelAckTimeout)
	c.resolveCancelLocked(CancelUnacknowledged)
}

func (c *Client) resolveCancelLocked(o CancelOutcome) {
	for _, w := range c.waiters {
		select {
		case w <- o:
		default:
		}
	}
	c.waiters = nil
	c.cancelPending = false
	if c.cancelTimer != nil {
		c.cancelTimer.Stop()
		c.cancelTimer = nil
	}
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// handshake dials, validates the first server event and configures the session.
func (c *Client) handshake(ctx context.Context) (*Session, *Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.creds.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))

	conn, err := Dial(ctx, ConnConfig{
		URL:         c.cfg.URL(),
		Headers:     headers,
		DialTimeout: c.cfg.DialTimeout,
	})
	if err != nil {
		sentinel, status := classifyDialError(err)
		if sentinel == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			sentinel = ErrTimeout
		}
		return nil, nil, connectError(sentinel, err, status)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Abort() })
	defer stop()

	data, err := conn.ReceiveTimeout(c.cfg.SetupTimeout)
	if err != nil {
		_ = conn.Abort()
		if isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil, connectError(ErrTimeout, err, 0)
		}
		if ctx.Err() != nil {
			return nil, nil, connectError(nil, ctx.Err(), 0)
		}
		return nil, nil, connectError(ErrProtocolMismatch, err, 0)
	}

	created, err := expectSessionCreated(data)
	if err != nil {
		_ = conn.Abort()
		return nil, nil, err
	}

	update := SessionUpdateEvent{
		ClientEvent: c.clientEvent(typeSessionUpdate),
		Session:     c.cfg.sessionConfig(),
	}
	if err := conn.Send(update); err != nil {
		_ = conn.Abort()
		return nil, nil, connectError(nil, err, 0)
	}

	model := created.Session.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Session{
		ID:        created.Session.ID,
		Model:     model,
		Mode:      c.cfg.Mode,
		State:     StateActive,
		CreatedAt: time.Now(),
	}, conn, nil
}

func expectSessionCreated(data []byte) (*SessionCreatedEvent, error) {
	ev, err := ParseServerEvent(data)
	if err != nil {
		return nil, connectError(ErrProtocolMismatch, err, 0)
	}
	switch e := ev.(type) {
	case *SessionCreatedEvent:
		if e.Type == typeSessionCreated {
			return e, nil
		}
	case *ErrorEvent:
		serr := &ServerError{Type: e.Error.Type, Code: e.Error.Code, Message: e.Error.Message}
		if isAuthError(e.Error) {
			return nil, connectError(ErrAuthFailed, serr, 0)
		}
		return nil, connectError(ErrProtocolMismatch, serr, 0)
	}
	return nil, connectError(ErrProtocolMismatch,
		fmt.Errorf("expected %s, got %s", typeSessionCreated, eventTypeOf(ev)), 0)
}

func eventTypeOf(ev any) string {
	switch e := ev.(type) {
	case *ServerEvent:
		return e.Type
	case *ResponseEvent:
		return e.Type
	case *ResponseDeltaEvent:
		return e.Type
	case *SpeechEvent:
		return e.Type
	case *InputTranscriptEvent:
		return e.Type
	default:
		return fmt.Sprintf("%T", ev)
	}
}

func (c *Client) newLink(parent context.Context, conn *Conn) *link {
	ctx, cancel := context.WithCancel(parent)
	l := &link{
		conn:   conn,
		out:    make(chan []byte, c.cfg.OutboundQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	l.wg.Add(2)
	go l.writeLoop()
	go l.heartbeat(c.cfg.HeartbeatInterval)
	return l
}

// writeLoop is the only writer of data frames. A write failure aborts the
// connection so the read side notices and reconnects.
func (l *link) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case msg := <-l.out:
			if err := l.conn.SendRaw(msg); err != nil {
				if l.ctx.Err() == nil {
					logger.Warn("Realtime: write failed", "error", err)
				}
				_ = l.conn.Abort()
				return
			}
		}
	}
}

func (l *link) heartbeat(interval time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.conn.Ping(); err != nil {
				if l.ctx.Err() == nil {
					logger.Warn("Realtime: heartbeat failed", "error", err)
				}
				_ = l.conn.Abort()
				return
			}
		}
	}
}

func (l *link) shutdown() {
	l.cancel()
	_ = l.conn.Abort()
	l.wg.Wait()
}

// run owns the read side for the life of the session, reconnecting on loss.
func (c *Client) run(lifeCtx context.Context, l *link, done chan struct{}) {
	defer close(done)
	for {
		err := c.receiveLoop(l)
		l.shutdown()
		if lifeCtx.Err() != nil {
			return
		}

		c.connectionLost(err)

		if c.cfg.DisableReconnect {
			c.giveUp(err)
			return
		}
		sess, conn, rerr := c.reconnect(lifeCtx)
		if rerr != nil {
			if lifeCtx.Err() != nil {
				return
			}
			c.cfg.Observer.ObserveReconnect(ReconnectFailure)
			c.giveUp(rerr)
			return
		}

		l = c.newLink(lifeCtx, conn)
		c.mu.Lock()
		if lifeCtx.Err() != nil {
			c.mu.Unlock()
			l.shutdown()
			return
		}
		c.session = sess
		c.link = l
		c.state = StateActive
		c.mu.Unlock()

		c.cfg.Observer.ObserveReconnect(ReconnectSuccess)
		logger.Info("Realtime session re-established", "session_id", sess.ID)
		c.emit(Event{Type: EventReconnected, Session: c.Session()})
	}
}

func (c *Client) receiveLoop(l *link) error {
	for {
		data, err := l.conn.Receive()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

// connectionLost resets per-connection state and notifies the handler.
// Queued outbound messages die with the old link.
func (c *Client) connectionLost(err error) {
	if isNormalClose(err) {
		logger.Info("Realtime: server closed the connection")
	} else {
		logger.Warn("Realtime: connection lost", "error", err)
	}

	c.mu.Lock()
	c.state = StateConnecting
	c.link = nil
	c.currentResp = ""
	c.resolveCancelLocked(CancelUnacknowledged)
	c.mu.Unlock()

	c.emit(Event{Type: EventDisconnected, Err: transportError("Receive", err)})
}

func (c *Client) giveUp(err error) {
	logger.Error("Realtime: giving up on session", "error", err)

	c.mu.Lock()
	c.state = StateDisconnected
	c.session = nil
	if c.lifeCancel != nil {
		c.lifeCancel()
		c.lifeCancel = nil
	}
	c.mu.Unlock()

	c.emit(Event{Type: EventConnectionLost, Err: transportError("Reconnect", err)})
}

func (c *Client) reconnect(ctx context.Context) (*Session, *Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialReconnectBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxInterval = c.cfg.MaxReconnectBackoff

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Realtime: reconnect attempt failed", "error", err, "retry_in", next)
		}),
	}
	if c.cfg.MaxReconnectAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(c.cfg.MaxReconnectAttempts)))
	}

	type result struct {
		sess *Session
		conn *Conn
	}
	res, err := backoff.Retry(ctx, func() (result, error) {
		sess, conn, err := c.handshake(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				return result{}, backoff.Permanent(err)
			}
			return result{}, err
		}
		return result{sess: sess, conn: conn}, nil
	}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return res.sess, res.conn, nil
}

// dispatch decodes one server message and emits the matching event.
func (c *Client) dispatch(data []byte) {
	raw, err := ParseServerEvent(data)
	if err != nil {
		c.cfg.Observer.ObserveProtocolError(codeMalformed)
		c.emit(Event{Type: EventProtocolError, Code: codeMalformed, Err: protocolError("Receive", err)})
		return
	}

	switch e := raw.(type) {
	case *ErrorEvent:
		c.handleServerError(e.Error)
	case *SpeechEvent:
		if e.Type == typeSpeechStarted {
			c.emit(Event{Type: EventSpeechStarted})
		} else {
			c.emit(Event{Type: EventSpeechStopped})
		}
	case *InputTranscriptEvent:
		c.emit(Event{Type: EventInputTranscript, Text: e.Transcript})
	case *ResponseEvent:
		if e.Type == typeResponseCreated {
			c.mu.Lock()
			c.currentResp = e.ID()
			c.mu.Unlock()
			c.emit(Event{Type: EventResponseCreated, ResponseID: e.ID()})
			return
		}
		c.handleResponseEnd(e)
	case *ResponseDeltaEvent:
		c.handleDelta(e)
	case *ServerEvent:
		logger.Debug("Realtime: ignoring server event", "type", e.Type)
	case *SessionCreatedEvent:
		logger.Debug("Realtime: session event", "type", e.Type, "session_id", e.Session.ID)
	}
}

func (c *Client) handleDelta(e *ResponseDeltaEvent) {
	switch e.Type {
	case typeResponseAudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(e.Delta)
		if err != nil {
			c.cfg.Observer.ObserveProtocolError(codeMalformed)
			c.emit(Event{Type: EventProtocolError, Code: codeMalformed, Err: protocolError("AudioDelta", err)})
			return
		}
		c.emit(Event{Type: EventAudioDelta, ResponseID: e.ResponseID, Audio: pcm})
	case typeTranscriptDelta, typeResponseTextDelta:
		c.emit(Event{Type: EventTranscriptDelta, ResponseID: e.ResponseID, Text: e.Delta})
	case typeTranscriptDone:
		c.emit(Event{Type: EventTranscriptDone, ResponseID: e.ResponseID, Text: e.Transcript})
	case typeResponseTextDone:
		c.emit(Event{Type: EventTranscriptDone, ResponseID: e.ResponseID, Text: e.Text})
	}
}

// handleResponseEnd handles response.done and response.cancelled. A
// cancelled status while a cancel is outstanding confirms the cancel.
func (c *Client) handleResponseEnd(e *ResponseEvent) {
	id := e.ID()
	status := e.Response.Status
	if e.Type == typeResponseCancelled {
		status = StatusCancelled
	}

	c.mu.Lock()
	if c.currentResp == id || id == "" {
		c.currentResp = ""
	}
	confirmed := status == StatusCancelled && c.cancelPending
	if confirmed {
		c.resolveCancelLocked(CancelConfirmed)
	}
	c.mu.Unlock()

	if confirmed {
		c.emit(Event{Type: EventResponseCancelled, ResponseID: id, Outcome: CancelConfirmed})
		return
	}
	c.emit(Event{Type: EventResponseDone, ResponseID: id, Status: status})
}

// handleServerError treats "no active response" after a cancel as success;
// anything else is surfaced as a protocol error.
func (c *Client) handleServerError(d ErrorDetail) {
	if isBenignCancelError(d) {
		c.mu.Lock()
		pending := c.cancelPending
		if pending {
			c.resolveCancelLocked(CancelNoActiveResponse)
		}
		c.mu.Unlock()

		if pending {
			c.emit(Event{Type: EventResponseCancelled, Outcome: CancelNoActiveResponse})
		} else {
			logger.Debug("Realtime: ignoring benign cancel error", "message", d.Message)
		}
		return
	}

	code := d.Code
	if code == "" {
		code = d.Type
	}
	logger.Warn("Realtime: server error", "type", d.Type, "code", d.Code, "message", d.Message)
	c.cfg.Observer.ObserveProtocolError(code)
	c.emit(Event{
		Type: EventProtocolError,
		Code: code,
		Err:  protocolError("Receive", &ServerError{Type: d.Type, Code: d.Code, Message: d.Message}),
	})
}
