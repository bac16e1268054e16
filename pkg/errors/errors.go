// Package errors provides standardized error types for use across FractFlow modules.
//
// ContextualError is the base error type that captures component, operation, kind,
// and optional status code and details. It implements the error and Unwrap interfaces
// for seamless integration with Go's errors package.
//
// Usage:
//
//	err := errors.New("realtime", "Connect", someErr).WithKind(errors.KindConnect)
//	err = err.WithStatusCode(401).WithDetails(map[string]any{"url": url})
//
//	if errors.KindOf(err) == errors.KindTransport {
//	    // reconnect
//	}
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind string

// Error kinds. Each kind maps onto one recovery policy.
const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = ""
	// KindDevice covers audio device open/read/write failures.
	KindDevice Kind = "device"
	// KindConnect covers handshake and authentication failures.
	KindConnect Kind = "connect"
	// KindTransport covers mid-session connection loss.
	KindTransport Kind = "transport"
	// KindProtocol covers malformed or unexpected remote messages.
	KindProtocol Kind = "protocol"
	// KindResourceExhaustion is raised by the resource monitor on critical health.
	KindResourceExhaustion Kind = "resource_exhaustion"
)

// ContextualError is a structured error type that provides consistent context
// about where and why an error occurred across FractFlow modules.
type ContextualError struct {
	// Component identifies the module that produced the error (e.g. "audio", "realtime").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// Kind classifies the error for recovery decisions.
	Kind Kind

	// StatusCode is an optional HTTP or application-level status code.
	StatusCode int

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)

	if e.Kind != KindUnknown {
		base += fmt.Sprintf(" <%s>", e.Kind)
	}

	if e.StatusCode != 0 {
		base += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// WithKind sets the error kind and returns the error for chaining.
func (e *ContextualError) WithKind(kind Kind) *ContextualError {
	e.Kind = kind
	return e
}

// WithStatusCode sets the status code and returns the error for chaining.
func (e *ContextualError) WithStatusCode(code int) *ContextualError {
	e.StatusCode = code
	return e
}

// WithDetails sets the details map and returns the error for chaining.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}

// KindOf returns the kind of the outermost classified ContextualError in err's chain.
func KindOf(err error) Kind {
	for err != nil {
		var ce *ContextualError
		if !stderrors.As(err, &ce) {
			return KindUnknown
		}
		if ce.Kind != KindUnknown {
			return ce.Kind
		}
		err = ce.Cause
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
