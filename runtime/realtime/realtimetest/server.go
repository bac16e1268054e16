// Package realtimetest provides an in-process realtime protocol server for tests.
package realtimetest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CancelReply selects how the server answers response.cancel while a
// response is active. With no active response it always answers with the
// "none active response" error unless the reply is CancelReplySilent.
type CancelReply int

const (
	// CancelReplyDone answers with response.done carrying status cancelled.
	CancelReplyDone CancelReply = iota
	// CancelReplyCancelled answers with a response.cancelled event.
	CancelReplyCancelled
	// CancelReplyNoActive answers with the "none active response" error even
	// though a response is active, as if it finished first.
	CancelReplyNoActive
	// CancelReplySilent never answers.
	CancelReplySilent
)

// Options configures a Server.
type Options struct {
	// APIKey, when set, is required as a Bearer token.
	APIKey string
	// HandshakeStatus rejects every upgrade with this HTTP status.
	HandshakeStatus int
	// FirstEvent replaces the session.created greeting.
	FirstEvent []byte
	// HoldGreeting suppresses the greeting entirely.
	HoldGreeting bool
	CancelReply  CancelReply
	// OnResponseCreate runs after response.created is sent.
	OnResponseCreate func(s *Server, responseID string)
}

// Message is one client event received by the server.
type Message struct {
	Type string
	Raw  json.RawMessage
}

// Server is a fake realtime endpoint.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	opts      Options
	conns     []*serverConn
	received  []Message
	sessions  int
	responses int
	active    string
	refuse    int
}

type serverConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *serverConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *serverConn) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// NewServer starts a server. Call Close when done.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the ws:// endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// SetCancelReply changes the cancel behavior for later cancels.
func (s *Server) SetCancelReply(r CancelReply) {
	s.mu.Lock()
	s.opts.CancelReply = r
	s.mu.Unlock()
}

// Refuse rejects the next n upgrade attempts with 503.
func (s *Server) Refuse(n int) {
	s.mu.Lock()
	s.refuse = n
	s.mu.Unlock()
}

// Connections returns how many sessions were accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// ActiveResponse returns the id of the response in progress, if any.
func (s *Server) ActiveResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Received returns a copy of every client event received so far.
func (s *Server) Received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.received))
	copy(out, s.received)
	return out
}

// ReceivedTypes returns the types of every client event received so far.
func (s *Server) ReceivedTypes() []string {
	msgs := s.Received()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

// Count returns how many events of typ were received.
func (s *Server) Count(typ string) int {
	n := 0
	for _, m := range s.Received() {
		if m.Type == typ {
			n++
		}
	}
	return n
}

// WaitForType waits until at least n events of typ were received.
func (s *Server) WaitForType(typ string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Count(typ) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.Count(typ) >= n
}

// Last returns the most recent event of typ.
func (s *Server) Last(typ string) (Message, bool) {
	msgs := s.Received()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == typ {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// Emit sends v to the newest connection.
func (s *Server) Emit(v any) error {
	c := s.latest()
	if c == nil {
		return fmt.Errorf("no connection")
	}
	return c.writeJSON(v)
}

// EmitRaw sends data verbatim to the newest connection.
func (s *Server) EmitRaw(data []byte) error {
	c := s.latest()
	if c == nil {
		return fmt.Errorf("no connection")
	}
	return c.writeRaw(data)
}

// EmitSpeechStarted sends input_audio_buffer.speech_started.
func (s *Server) EmitSpeechStarted() error {
	return s.Emit(map[string]any{"type": "input_audio_buffer.speech_started", "audio_start_ms": 0})
}

// EmitSpeechStopped sends input_audio_buffer.speech_stopped.
func (s *Server) EmitSpeechStopped() error {
	return s.Emit(map[string]any{"type": "input_audio_buffer.speech_stopped", "audio_end_ms": 0})
}

// EmitAudioDelta sends one response.audio.delta.
func (s *Server) EmitAudioDelta(responseID string, pcm []byte) error {
	return s.Emit(map[string]any{
		"type":        "response.audio.delta",
		"response_id": responseID,
		"delta":       base64.StdEncoding.EncodeToString(pcm),
	})
}

// EmitTranscriptDelta sends one response.audio_transcript.delta.
func (s *Server) EmitTranscriptDelta(responseID, text string) error {
	return s.Emit(map[string]any{
		"type":        "response.audio_transcript.delta",
		"response_id": responseID,
		"delta":       text,
	})
}

// EmitInputTranscript sends a completed user transcription.
func (s *Server) EmitInputTranscript(text string) error {
	return s.Emit(map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"item_id":    "item_user",
		"transcript": text,
	})
}

// EmitError sends an error event.
func (s *Server) EmitError(typ, code, message string) error {
	return s.Emit(errorEvent(typ, code, message))
}

// FinishResponse completes a response with the given transcript.
func (s *Server) FinishResponse(responseID, transcript string) error {
	s.mu.Lock()
	if s.active == responseID {
		s.active = ""
	}
	s.mu.Unlock()

	if err := s.Emit(map[string]any{
		"type":        "response.audio_transcript.done",
		"response_id": responseID,
		"transcript":  transcript,
	}); err != nil {
		return err
	}
	return s.Emit(responseEvent("response.done", responseID, "completed"))
}

// EndResponse sends response.done with status for responseID, as when the
// server ends a response on its own.
func (s *Server) EndResponse(responseID, status string) error {
	s.mu.Lock()
	if s.active == responseID {
		s.active = ""
	}
	s.mu.Unlock()
	return s.Emit(responseEvent("response.done", responseID, status))
}

// DropAll closes every connection without a close frame.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.active = ""
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

func (s *Server) latest() *serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.refuse > 0 {
		s.refuse--
		s.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	opts := s.opts
	s.mu.Unlock()

	if opts.HandshakeStatus != 0 {
		http.Error(w, http.StatusText(opts.HandshakeStatus), opts.HandshakeStatus)
		return
	}
	if opts.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+opts.APIKey {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &serverConn{ws: ws}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.sessions++
	id := fmt.Sprintf("sess_%d", s.sessions)
	s.mu.Unlock()

	switch {
	case opts.FirstEvent != nil:
		_ = c.writeRaw(opts.FirstEvent)
	case !opts.HoldGreeting:
		_ = c.writeJSON(map[string]any{
			"type":    "session.created",
			"session": map[string]any{"id": id, "model": r.URL.Query().Get("model")},
		})
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		s.record(c, data)
	}
}

func (s *Server) record(c *serverConn, data []byte) {
	var base struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &base)

	s.mu.Lock()
	s.received = append(s.received, Message{Type: base.Type, Raw: append(json.RawMessage(nil), data...)})
	s.mu.Unlock()

	switch base.Type {
	case "session.update":
		_ = c.writeJSON(map[string]any{"type": "session.updated", "session": map[string]any{}})
	case "input_audio_buffer.commit":
		_ = c.writeJSON(map[string]any{"type": "input_audio_buffer.committed"})
	case "input_audio_buffer.clear":
		_ = c.writeJSON(map[string]any{"type": "input_audio_buffer.cleared"})
	case "response.create":
		s.mu.Lock()
		s.responses++
		id := fmt.Sprintf("resp_%d", s.responses)
		s.active = id
		hook := s.opts.OnResponseCreate
		s.mu.Unlock()
		_ = c.writeJSON(responseEvent("response.created", id, "in_progress"))
		if hook != nil {
			hook(s, id)
		}
	case "response.cancel":
		s.answerCancel(c)
	}
}

func (s *Server) answerCancel(c *serverConn) {
	s.mu.Lock()
	reply := s.opts.CancelReply
	active := s.active
	if reply == CancelReplyDone || reply == CancelReplyCancelled {
		s.active = ""
	}
	s.mu.Unlock()

	if reply == CancelReplySilent {
		return
	}
	if active == "" || reply == CancelReplyNoActive {
		_ = c.writeJSON(errorEvent("invalid_request_error", "", "Conversation has none active response"))
		return
	}
	if reply == CancelReplyCancelled {
		_ = c.writeJSON(map[string]any{"type": "response.cancelled", "response_id": active})
		return
	}
	_ = c.writeJSON(responseEvent("response.done", active, "cancelled"))
}

func responseEvent(typ, id, status string) map[string]any {
	return map[string]any{
		"type":     typ,
		"response": map[string]any{"id": id, "status": status},
	}
}

func errorEvent(typ, code, message string) map[string]any {
	return map[string]any{
		"type":  "error",
		"error": map[string]any{"type": typ, "code": code, "message": message},
	}
}
