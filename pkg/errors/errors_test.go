package errors_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	pkgerrors "github.com/RRiiiccckkk/FractFlow/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := pkgerrors.New("realtime", "Connect", cause)

	assert.Equal(t, "realtime", err.Component)
	assert.Equal(t, "Connect", err.Operation)
	assert.Equal(t, pkgerrors.KindUnknown, err.Kind)
	assert.Equal(t, 0, err.StatusCode)
	assert.Nil(t, err.Details)
	assert.Equal(t, cause, err.Cause)
}

func TestError_BasicMessage(t *testing.T) {
	err := pkgerrors.New("audio", "StartCapture", fmt.Errorf("no input device"))

	assert.Equal(t, "[audio] StartCapture: no input device", err.Error())
}

func TestError_NoCause(t *testing.T) {
	err := pkgerrors.New("coordinator", "Shutdown", nil)

	assert.Equal(t, "[coordinator] Shutdown", err.Error())
}

func TestError_WithKindAndStatus(t *testing.T) {
	err := pkgerrors.New("realtime", "Connect", fmt.Errorf("unauthorized")).
		WithKind(pkgerrors.KindConnect).
		WithStatusCode(401)

	assert.Equal(t, "[realtime] Connect <connect> (status 401): unauthorized", err.Error())
}

func TestBuildersReturnSamePointer(t *testing.T) {
	err := pkgerrors.New("realtime", "Send", fmt.Errorf("timeout"))

	assert.Same(t, err, err.WithStatusCode(504))
	assert.Same(t, err, err.WithKind(pkgerrors.KindTransport))
	assert.Same(t, err, err.WithDetails(map[string]any{"attempt": 2}))
	assert.Equal(t, map[string]any{"attempt": 2}, err.Details)
}

func TestErrorsIsThroughContextualError(t *testing.T) {
	sentinel := fmt.Errorf("sentinel error")
	wrapped := fmt.Errorf("mid-layer: %w", sentinel)
	err := pkgerrors.New("audio", "Read", wrapped)

	assert.True(t, errors.Is(err, sentinel))
	assert.True(t, errors.Is(err, wrapped))
}

func TestErrorsAs(t *testing.T) {
	err := pkgerrors.New("monitor", "Sample", fmt.Errorf("procfs unavailable"))
	outer := fmt.Errorf("outer: %w", err)

	var ctxErr *pkgerrors.ContextualError
	require.True(t, errors.As(outer, &ctxErr))
	assert.Equal(t, "monitor", ctxErr.Component)
	assert.Equal(t, "Sample", ctxErr.Operation)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want pkgerrors.Kind
	}{
		{name: "nil", err: nil, want: pkgerrors.KindUnknown},
		{name: "plain error", err: io.EOF, want: pkgerrors.KindUnknown},
		{
			name: "direct",
			err:  pkgerrors.New("audio", "Write", io.ErrClosedPipe).WithKind(pkgerrors.KindDevice),
			want: pkgerrors.KindDevice,
		},
		{
			name: "wrapped by fmt",
			err: fmt.Errorf("loop: %w",
				pkgerrors.New("realtime", "Receive", io.EOF).WithKind(pkgerrors.KindTransport)),
			want: pkgerrors.KindTransport,
		},
		{
			name: "unclassified outer, classified inner",
			err: pkgerrors.New("coordinator", "Run",
				pkgerrors.New("monitor", "Evaluate", nil).WithKind(pkgerrors.KindResourceExhaustion)),
			want: pkgerrors.KindResourceExhaustion,
		},
		{
			name: "outer classification wins",
			err: pkgerrors.New("coordinator", "Run",
				pkgerrors.New("realtime", "Connect", nil).WithKind(pkgerrors.KindConnect)).
				WithKind(pkgerrors.KindProtocol),
			want: pkgerrors.KindProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pkgerrors.KindOf(tt.err))
		})
	}
}

func TestIsKind(t *testing.T) {
	err := pkgerrors.New("realtime", "Connect", nil).WithKind(pkgerrors.KindConnect)

	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindConnect))
	assert.False(t, pkgerrors.IsKind(err, pkgerrors.KindTransport))
	assert.False(t, pkgerrors.IsKind(nil, pkgerrors.KindUnknown))
}

func TestNestedContextualErrors(t *testing.T) {
	inner := pkgerrors.New("realtime", "Receive", io.ErrUnexpectedEOF).WithStatusCode(1006)
	outer := pkgerrors.New("coordinator", "Run", inner)

	assert.Equal(t, "[coordinator] Run: [realtime] Receive (status 1006): unexpected EOF", outer.Error())
	assert.True(t, errors.Is(outer, io.ErrUnexpectedEOF))
}

func TestDetailsDoNotAffectErrorString(t *testing.T) {
	err := pkgerrors.New("audio", "Open", nil).
		WithDetails(map[string]any{"device": "default"})

	assert.Equal(t, "[audio] Open", err.Error())
}
