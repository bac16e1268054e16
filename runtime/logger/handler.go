package logger

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
)

// moduleRoot prefixes every function name in this module.
const moduleRoot = "github.com/RRiiiccckkk/FractFlow/"

// ContextHandler wraps a slog.Handler. It adds common fields and the
// logging fields carried by the context to every record and, when module
// levels are configured, filters records by the emitting component.
type ContextHandler struct {
	inner        slog.Handler
	commonFields []slog.Attr

	modules      *ModuleConfig
	moduleFields map[string][]slog.Attr
}

// NewContextHandler wraps inner. commonFields are added to every record
// before context fields, so record attributes win on conflict.
func NewContextHandler(inner slog.Handler, commonFields ...slog.Attr) *ContextHandler {
	return &ContextHandler{inner: inner, commonFields: commonFields}
}

func (h *ContextHandler) withModules(m *ModuleConfig, fields map[string][]slog.Attr) *ContextHandler {
	c := *h
	c.modules = m
	c.moduleFields = fields
	return &c
}

// Enabled implements slog.Handler. With module levels the precise check
// happens in Handle, once the caller is known.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	component := componentOf(ctx, r.PC)
	if h.modules != nil && r.Level < h.modules.LevelFor(component) {
		return nil
	}

	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	out.AddAttrs(h.commonFields...)
	if h.modules != nil {
		out.AddAttrs(h.moduleFields[component]...)
	}
	if component != "" && ctx.Value(ContextKeyComponent) == nil {
		out.AddAttrs(slog.String(string(ContextKeyComponent), component))
	}
	for _, key := range allContextKeys {
		if s, ok := ctx.Value(key).(string); ok && s != "" {
			out.AddAttrs(slog.String(string(key), s))
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(a)
		return true
	})
	return h.inner.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.inner = h.inner.WithAttrs(attrs)
	return &c
}

// WithGroup implements slog.Handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.inner = h.inner.WithGroup(name)
	return &c
}

// Unwrap returns the wrapped handler.
func (h *ContextHandler) Unwrap() slog.Handler {
	return h.inner
}

var _ slog.Handler = (*ContextHandler)(nil)

// componentOf names the component for a record: the context value if set,
// otherwise the package of the calling function.
func componentOf(ctx context.Context, pc uintptr) string {
	if c, ok := ctx.Value(ContextKeyComponent).(string); ok && c != "" {
		return c
	}
	if pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return componentFromFunction(frame.Function)
}

// componentFromFunction maps a fully qualified function name to its
// package name, e.g.
// "github.com/RRiiiccckkk/FractFlow/runtime/audio.(*IOManager).StartCapture"
// to "audio". Functions outside this module map to "".
func componentFromFunction(fn string) string {
	idx := strings.Index(fn, moduleRoot)
	if idx == -1 {
		return ""
	}
	path := fn[idx+len(moduleRoot):]
	if slash := strings.LastIndex(path, "/"); slash != -1 {
		path = path[slash+1:]
	}
	if dot := strings.Index(path, "."); dot != -1 {
		path = path[:dot]
	}
	return path
}
