package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
)

// Span names.
const (
	SpanSession  = "fractflow.session"
	SpanTurn     = "fractflow.turn"
	SpanResponse = "fractflow.response"
)

// spanEntry tracks an in-flight span and its context.
type spanEntry struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // needed to parent child spans
}

// SessionListener converts realtime client events and coordinator turn
// boundaries into OTel spans. Responses are parented under the open turn,
// turns under the session. It is safe for concurrent use.
type SessionListener struct {
	tracer trace.Tracer

	mu        sync.Mutex
	session   *spanEntry
	turn      *spanEntry
	turnID    string
	responses map[string]*spanEntry // response id → span
}

// NewSessionListener creates a listener that records spans with tracer.
func NewSessionListener(tracer trace.Tracer) *SessionListener {
	return &SessionListener{
		tracer:    tracer,
		responses: make(map[string]*spanEntry),
	}
}

// StartSession opens the root span, parented under parentCtx if it carries one.
// A second call while a session is open is a no-op.
func (l *SessionListener) StartSession(parentCtx context.Context, sessionID, mode string) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		return l.session.ctx
	}
	ctx, span := l.tracer.Start(parentCtx, SpanSession,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.mode", mode),
		),
	)
	l.session = &spanEntry{span: span, ctx: ctx}
	return ctx
}

// EndSession ends every open span. A non-nil err marks the session failed.
func (l *SessionListener) EndSession(err error) {
	l.mu.Lock()
	session := l.session
	turn := l.turn
	responses := l.responses
	l.session, l.turn, l.turnID = nil, nil, ""
	l.responses = make(map[string]*spanEntry)
	l.mu.Unlock()

	for _, r := range responses {
		finish(r, "session closed")
	}
	if turn != nil {
		finish(turn, "session closed")
	}
	if session == nil {
		return
	}
	if err != nil {
		session.span.RecordError(err)
		session.span.SetStatus(codes.Error, err.Error())
	} else {
		session.span.SetStatus(codes.Ok, "")
	}
	session.span.End()
}

// StartTurn opens a turn span. An already open turn is ended as superseded.
func (l *SessionListener) StartTurn(turnID, mode string) context.Context {
	l.mu.Lock()
	prev := l.turn
	parent := context.Background()
	if l.session != nil {
		parent = l.session.ctx
	}
	ctx, span := l.tracer.Start(parent, SpanTurn,
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("session.mode", mode),
		),
	)
	l.turn = &spanEntry{span: span, ctx: ctx}
	l.turnID = turnID
	l.mu.Unlock()

	if prev != nil {
		finish(prev, "superseded")
	}
	return ctx
}

// EndTurn ends the turn span with the final status. Unknown ids are ignored.
func (l *SessionListener) EndTurn(turnID, status string, err error) {
	l.mu.Lock()
	if l.turn == nil || l.turnID != turnID {
		l.mu.Unlock()
		return
	}
	turn := l.turn
	l.turn, l.turnID = nil, ""
	l.mu.Unlock()

	turn.span.SetAttributes(attribute.String("turn.status", status))
	if err != nil {
		turn.span.RecordError(err)
		turn.span.SetStatus(codes.Error, err.Error())
	} else {
		turn.span.SetStatus(codes.Ok, "")
	}
	turn.span.End()
}

// OnEvent records one realtime event. It can be passed to Client.OnEvent.
func (l *SessionListener) OnEvent(evt realtime.Event) {
	//nolint:exhaustive // only span-producing events
	switch evt.Type {
	case realtime.EventResponseCreated:
		l.startResponse(evt.ResponseID)
	case realtime.EventResponseDone:
		l.endResponse(evt.ResponseID, attribute.String("response.status", evt.Status))
	case realtime.EventResponseCancelled:
		l.endResponse(evt.ResponseID, attribute.String("response.cancel_outcome", evt.Outcome.String()))
	case realtime.EventProtocolError:
		l.sessionEvent("protocol_error", attribute.String("error.code", evt.Code))
	case realtime.EventSpeechStarted, realtime.EventSpeechStopped:
		l.turnEvent(evt.Type.String())
	case realtime.EventDisconnected:
		l.failResponses("connection lost")
		l.sessionEvent("disconnected")
	case realtime.EventReconnected:
		var attrs []attribute.KeyValue
		if evt.Session != nil {
			attrs = append(attrs, attribute.String("session.id", evt.Session.ID))
		}
		l.sessionEvent("reconnected", attrs...)
	case realtime.EventConnectionLost:
		l.failResponses("connection lost")
		l.sessionEvent("connection_lost")
	}
}

// parentCtx returns the open turn, else the session, else Background.
// Callers must hold l.mu.
func (l *SessionListener) parentCtx() context.Context {
	if l.turn != nil {
		return l.turn.ctx
	}
	if l.session != nil {
		return l.session.ctx
	}
	return context.Background()
}

func (l *SessionListener) startResponse(id string) {
	if id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.responses[id]; ok {
		return
	}
	ctx, span := l.tracer.Start(l.parentCtx(), SpanResponse,
		trace.WithAttributes(attribute.String("response.id", id)),
	)
	l.responses[id] = &spanEntry{span: span, ctx: ctx}
}

// endResponse ends the span for id. An empty id ends every open response,
// which covers a cancel confirmed without an id.
func (l *SessionListener) endResponse(id string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	var ended []*spanEntry
	if id == "" {
		for k, r := range l.responses {
			ended = append(ended, r)
			delete(l.responses, k)
		}
	} else if r, ok := l.responses[id]; ok {
		ended = append(ended, r)
		delete(l.responses, id)
	}
	l.mu.Unlock()

	for _, r := range ended {
		r.span.SetAttributes(attrs...)
		r.span.SetStatus(codes.Ok, "")
		r.span.End()
	}
}

func (l *SessionListener) failResponses(msg string) {
	l.mu.Lock()
	responses := l.responses
	l.responses = make(map[string]*spanEntry)
	l.mu.Unlock()
	for _, r := range responses {
		finish(r, msg)
	}
}

func (l *SessionListener) sessionEvent(name string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		l.session.span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func (l *SessionListener) turnEvent(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.turn != nil:
		l.turn.span.AddEvent(name)
	case l.session != nil:
		l.session.span.AddEvent(name)
	}
}

func finish(e *spanEntry, msg string) {
	e.span.SetStatus(codes.Error, msg)
	e.span.End()
}
