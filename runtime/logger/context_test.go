package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = WithSessionID(ctx, "sess_1")
	ctx = WithTurnID(ctx, "turn-1")
	ctx = WithResponseID(ctx, "resp_1")
	ctx = WithMode(ctx, "manual")
	ctx = WithComponent(ctx, "audio")
	ctx = WithEnvironment(ctx, "dev")

	assert.Equal(t, LoggingFields{
		SessionID:   "sess_1",
		TurnID:      "turn-1",
		ResponseID:  "resp_1",
		Mode:        "manual",
		Component:   "audio",
		Environment: "dev",
	}, ExtractLoggingFields(ctx))
}

func TestWithLoggingContext(t *testing.T) {
	ctx := WithLoggingContext(context.Background(), &LoggingFields{
		SessionID: "sess_2",
		Mode:      "continuous",
	})

	fields := ExtractLoggingFields(ctx)
	assert.Equal(t, "sess_2", fields.SessionID)
	assert.Equal(t, "continuous", fields.Mode)
	assert.Empty(t, fields.TurnID)

	assert.Equal(t, context.Background(), WithLoggingContext(context.Background(), nil))
}

func TestExtractLoggingFields_Empty(t *testing.T) {
	assert.Equal(t, LoggingFields{}, ExtractLoggingFields(context.Background()))
}
