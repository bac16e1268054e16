package realtime

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/gorilla/websocket"

	pkgerrors "github.com/RRiiiccckkk/FractFlow/pkg/errors"
)

const componentName = "realtime"

// Connect failure sentinels. Connect wraps them in a ContextualError of
// kind "connect"; match with errors.Is.
var (
	// ErrAuthFailed means the server rejected the credentials.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrTimeout means the dial or the session setup did not finish in time.
	ErrTimeout = errors.New("connect timeout")
	// ErrProtocolMismatch means the server did not speak the expected protocol.
	ErrProtocolMismatch = errors.New("protocol mismatch")
)

// Operational errors.
var (
	// ErrNotConnected is returned when no session is active.
	ErrNotConnected = errors.New("realtime session not connected")
	// ErrAlreadyConnected is returned by Connect on an active client.
	ErrAlreadyConnected = errors.New("realtime session already connected")
	// ErrMissingAPIKey is returned by Connect without credentials.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrSendQueueFull is returned by SendAudio when the outbound queue is full.
	// The frame is dropped.
	ErrSendQueueFull = errors.New("outbound queue full")
)

// ServerError is an error event reported by the remote service.
type ServerError struct {
	Type    string
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return "server error " + e.Code + ": " + e.Message
	}
	return "server error: " + e.Message
}

func connectError(sentinel, cause error, status int) error {
	var wrapped error
	switch {
	case sentinel != nil && cause != nil:
		wrapped = errors.Join(sentinel, cause)
	case sentinel != nil:
		wrapped = sentinel
	default:
		wrapped = cause
	}
	return pkgerrors.New(componentName, "Connect", wrapped).
		WithKind(pkgerrors.KindConnect).
		WithStatusCode(status)
}

func transportError(op string, cause error) error {
	return pkgerrors.New(componentName, op, cause).WithKind(pkgerrors.KindTransport)
}

func protocolError(op string, cause error) error {
	return pkgerrors.New(componentName, op, cause).WithKind(pkgerrors.KindProtocol)
}

// classifyDialError maps a Dial failure onto a connect sentinel.
func classifyDialError(err error) (sentinel error, status int) {
	var herr *HandshakeError
	if errors.As(err, &herr) {
		status = herr.StatusCode
	}
	switch {
	case status == 401 || status == 403:
		return ErrAuthFailed, status
	case isTimeout(err):
		return ErrTimeout, status
	case errors.Is(err, websocket.ErrBadHandshake):
		return ErrProtocolMismatch, status
	default:
		return nil, status
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
