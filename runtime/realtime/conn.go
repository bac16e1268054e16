package realtime

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
)

// Default connection constants.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 64 * 1024 * 1024 // audio deltas can be large
	DefaultCloseGracePeriod = 2 * time.Second
)

// errNotConnected is returned by Conn operations after Close.
var errNotConnected = errors.New("websocket is not connected")

// ConnConfig configures the WebSocket connection behavior.
type ConnConfig struct {
	// URL is the WebSocket endpoint URL.
	URL string

	// Headers are sent during the WebSocket handshake.
	Headers http.Header

	// DialTimeout is the handshake timeout. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// WriteWait is the write deadline for each message. Defaults to DefaultWriteWait.
	WriteWait time.Duration

	// MaxMessageSize is the read limit. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	// CloseGracePeriod is the deadline for writing the close frame.
	CloseGracePeriod time.Duration
}

func (c *ConnConfig) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
}

// HandshakeError is returned by Dial when the HTTP upgrade fails.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("websocket handshake failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("websocket dial failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Conn is one WebSocket connection. Writes and pings are serialized by
// writeMu as gorilla/websocket requires; reads belong to a single goroutine.
type Conn struct {
	cfg ConnConfig

	conn    *websocket.Conn
	mu      sync.Mutex
	writeMu sync.Mutex
	closed  bool
}

// Dial establishes a WebSocket connection.
func Dial(ctx context.Context, cfg ConnConfig) (*Conn, error) {
	cfg.defaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
		Proxy:            http.ProxyFromEnvironment,
	}

	logger.Debug("Realtime: connecting to WebSocket", "url", logger.RedactSensitiveData(cfg.URL))

	ws, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Headers)
	if err != nil {
		herr := &HandshakeError{Err: err}
		if resp != nil {
			herr.StatusCode = resp.StatusCode
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		logger.Error("Realtime: WebSocket dial failed", "error", err, "status", herr.StatusCode)
		return nil, herr
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	ws.SetReadLimit(cfg.MaxMessageSize)
	logger.Debug("Realtime: WebSocket connected")

	return &Conn{cfg: cfg, conn: ws}, nil
}

// Send JSON-encodes msg and writes it to the WebSocket.
func (c *Conn) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.SendRaw(data)
}

// SendRaw writes pre-encoded data to the WebSocket.
func (c *Conn) SendRaw(data []byte) error {
	ws, err := c.live()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Receive blocks until a message arrives or the connection fails.
func (c *Conn) Receive() ([]byte, error) {
	ws, err := c.live()
	if err != nil {
		return nil, err
	}

	msgType, data, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected message type: %d", msgType)
	}
	return data, nil
}

// ReceiveTimeout is Receive with a read deadline. The deadline is cleared
// afterwards so later reads block indefinitely.
func (c *Conn) ReceiveTimeout(timeout time.Duration) ([]byte, error) {
	ws, err := c.live()
	if err != nil {
		return nil, err
	}
	if err := ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	data, err := c.Receive()
	if err != nil {
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})
	return data, nil
}

// Ping writes a ping control frame.
func (c *Conn) Ping() error {
	ws, err := c.live()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a close frame and closes the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.CloseGracePeriod))
	_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	c.writeMu.Unlock()

	return c.conn.Close()
}

// Abort closes the underlying network connection without a close frame.
// A blocked Receive returns an error.
func (c *Conn) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) live() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil, errNotConnected
	}
	return c.conn, nil
}

// isNormalClose reports whether err is a clean close initiated by either side.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
