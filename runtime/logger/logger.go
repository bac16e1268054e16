// Package logger provides structured logging with automatic credential redaction.
//
// The package-level functions log through DefaultLogger. Records carry the
// session, turn and response ids stored in the context, and the name of the
// emitting component, which Configure can give its own level.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	// logOutput is where the default handlers write.
	logOutput io.Writer = os.Stderr

	// customHandler is set by SetLogger; Configure leaves it in place.
	customHandler slog.Handler

	setupMu sync.Mutex
)

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = ParseLevel(envLevel)
	}

	DefaultLogger = slog.New(NewContextHandler(slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: level,
	})))
}

// ParseLevel converts a level name into a slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	setupMu.Lock()
	defer setupMu.Unlock()

	if customHandler != nil {
		return
	}
	DefaultLogger = slog.New(NewContextHandler(slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: level,
	})))
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// SetOutput redirects the default handlers to w and rebuilds the logger at level.
func SetOutput(w io.Writer, level slog.Level) {
	setupMu.Lock()
	logOutput = w
	setupMu.Unlock()
	SetLevel(level)
}

// SetLogger installs a caller-provided logger. Later Configure and SetLevel calls
// leave it untouched. Passing nil restores the default text logger.
func SetLogger(l *slog.Logger) {
	setupMu.Lock()
	if l == nil {
		customHandler = nil
		setupMu.Unlock()
		SetLevel(slog.LevelInfo)
		return
	}
	customHandler = l.Handler()
	DefaultLogger = l
	setupMu.Unlock()
}

// emit builds the record itself so its PC is the caller of the exported
// wrapper, which is what the handler maps to a component.
func emit(ctx context.Context, level slog.Level, msg string, args ...any) {
	l := DefaultLogger
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // Callers, emit, wrapper
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.Handler().Handle(ctx, r)
}

// Info logs at info level. Args are key-value pairs.
func Info(msg string, args ...any) {
	emit(context.Background(), slog.LevelInfo, msg, args...)
}

// InfoContext logs at info level with the logging fields carried by ctx.
func InfoContext(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelInfo, msg, args...)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	emit(context.Background(), slog.LevelDebug, msg, args...)
}

// DebugContext logs at debug level with context fields.
func DebugContext(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelDebug, msg, args...)
}

// Warn logs at warn level. Use it for recoverable faults.
func Warn(msg string, args ...any) {
	emit(context.Background(), slog.LevelWarn, msg, args...)
}

// WarnContext logs at warn level with context fields.
func WarnContext(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	emit(context.Background(), slog.LevelError, msg, args...)
}

// ErrorContext logs at error level with context fields.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelError, msg, args...)
}

// DebugEnabled reports whether debug records would be emitted.
func DebugEnabled() bool {
	return DefaultLogger.Enabled(context.Background(), slog.LevelDebug)
}

var (
	// apiKeyPatterns contains compiled regular expressions for detecting sensitive data.
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`sk-[a-zA-Z0-9]{16,}`),            // OpenAI / DashScope API keys
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),       // Bearer tokens
		regexp.MustCompile(`(?i)api[_-]?key=[a-zA-Z0-9_-]+`), // query-string keys
	}
)

// RedactSensitiveData removes API keys and other sensitive information from strings.
// It replaces matched patterns with a redacted form that preserves the first few characters
// for debugging while hiding the sensitive portion.
//
// Supported patterns:
//   - API keys (sk-...): Shows first 4 chars
//   - Bearer tokens: Shows only "Bearer [REDACTED]"
//   - api_key=... query parameters
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer") {
				return "Bearer [REDACTED]"
			}
			if idx := strings.Index(match, "="); idx != -1 {
				return match[:idx+1] + "[REDACTED]"
			}
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}
