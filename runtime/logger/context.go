package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
// These keys are used to store values in context.Context that will be
// automatically extracted and added to log entries.
const (
	// ContextKeySessionID identifies the remote realtime session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyTurnID identifies the current conversation turn.
	ContextKeyTurnID contextKey = "turn_id"

	// ContextKeyResponseID identifies the server-side response being streamed.
	ContextKeyResponseID contextKey = "response_id"

	// ContextKeyMode identifies the interaction mode ("manual" or "continuous").
	ContextKeyMode contextKey = "mode"

	// ContextKeyComponent identifies the emitting component.
	ContextKeyComponent contextKey = "component"

	// ContextKeyEnvironment identifies the deployment environment.
	ContextKeyEnvironment contextKey = "environment"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyTurnID,
	ContextKeyResponseID,
	ContextKeyMode,
	ContextKeyComponent,
	ContextKeyEnvironment,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithTurnID returns a new context with the turn ID set.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, ContextKeyTurnID, turnID)
}

// WithResponseID returns a new context with the response ID set.
func WithResponseID(ctx context.Context, responseID string) context.Context {
	return context.WithValue(ctx, ContextKeyResponseID, responseID)
}

// WithMode returns a new context with the interaction mode set.
func WithMode(ctx context.Context, mode string) context.Context {
	return context.WithValue(ctx, ContextKeyMode, mode)
}

// WithComponent returns a new context with the component name set.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ContextKeyComponent, component)
}

// WithEnvironment returns a new context with the environment set.
func WithEnvironment(ctx context.Context, environment string) context.Context {
	return context.WithValue(ctx, ContextKeyEnvironment, environment)
}

// LoggingFields holds all standard logging context fields.
type LoggingFields struct {
	SessionID   string
	TurnID      string
	ResponseID  string
	Mode        string
	Component   string
	Environment string
}

// WithLoggingContext returns a new context with multiple logging fields set at once.
// Only non-empty values are set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.SessionID != "" {
		ctx = WithSessionID(ctx, fields.SessionID)
	}
	if fields.TurnID != "" {
		ctx = WithTurnID(ctx, fields.TurnID)
	}
	if fields.ResponseID != "" {
		ctx = WithResponseID(ctx, fields.ResponseID)
	}
	if fields.Mode != "" {
		ctx = WithMode(ctx, fields.Mode)
	}
	if fields.Component != "" {
		ctx = WithComponent(ctx, fields.Component)
	}
	if fields.Environment != "" {
		ctx = WithEnvironment(ctx, fields.Environment)
	}
	return ctx
}

// ExtractLoggingFields extracts all logging fields from a context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	str := func(k contextKey) string {
		s, _ := ctx.Value(k).(string)
		return s
	}
	return LoggingFields{
		SessionID:   str(ContextKeySessionID),
		TurnID:      str(ContextKeyTurnID),
		ResponseID:  str(ContextKeyResponseID),
		Mode:        str(ContextKeyMode),
		Component:   str(ContextKeyComponent),
		Environment: str(ContextKeyEnvironment),
	}
}
