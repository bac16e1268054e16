package config

import (
	"strconv"
	"strings"

	"github.com/RRiiiccckkk/FractFlow/runtime/logger"
)

// LoggingConfigSpec is the logging section of a VoiceAgent manifest.
type LoggingConfigSpec struct {
	// DefaultLevel is the default log level for all modules.
	// Supported values: trace, debug, info, warn, error.
	DefaultLevel string `yaml:"defaultLevel,omitempty" jsonschema:"enum=trace,enum=debug,enum=info,enum=warn,enum=error"`

	// Format is "json" for machine-parseable logs or "text" for humans.
	Format string `yaml:"format,omitempty" jsonschema:"enum=json,enum=text"`

	// CommonFields are added to every log entry.
	CommonFields map[string]string `yaml:"commonFields,omitempty"`

	// Modules sets per-component levels, e.g. realtime or coordinator.
	Modules []ModuleLoggingConfig `yaml:"modules,omitempty"`
}

// ModuleLoggingConfig configures logging for a specific module.
type ModuleLoggingConfig struct {
	Name   string            `yaml:"name" jsonschema:"minLength=1"`
	Level  string            `yaml:"level,omitempty" jsonschema:"enum=trace,enum=debug,enum=info,enum=warn,enum=error"`
	Fields map[string]string `yaml:"fields,omitempty"`
}

// LogLevel constants for programmatic use.
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogFormat constants for programmatic use.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// DefaultLoggingConfig returns a LoggingConfigSpec with sensible defaults.
func DefaultLoggingConfig() LoggingConfigSpec {
	return LoggingConfigSpec{
		DefaultLevel: LogLevelInfo,
		Format:       LogFormatText,
	}
}

// Validate validates the LoggingConfigSpec.
func (c *LoggingConfigSpec) Validate() error {
	if c.DefaultLevel != "" && !isValidLogLevel(c.DefaultLevel) {
		return &ValidationError{
			Field:   "logging.defaultLevel",
			Message: "must be one of: trace, debug, info, warn, error",
			Value:   c.DefaultLevel,
		}
	}

	if c.Format != "" && c.Format != LogFormatJSON && c.Format != LogFormatText {
		return &ValidationError{
			Field:   "logging.format",
			Message: "must be one of: json, text",
			Value:   c.Format,
		}
	}

	for i, mod := range c.Modules {
		if mod.Name == "" {
			return &ValidationError{
				Field:   "logging.modules[" + strconv.Itoa(i) + "].name",
				Message: "module name is required",
			}
		}
		if !logger.IsComponent(mod.Name) {
			return &ValidationError{
				Field:   "logging.modules[" + strconv.Itoa(i) + "].name",
				Message: "must be one of: " + strings.Join(logger.Components, ", "),
				Value:   mod.Name,
			}
		}
		if mod.Level != "" && !isValidLogLevel(mod.Level) {
			return &ValidationError{
				Field:   "logging.modules[" + mod.Name + "].level",
				Message: "must be one of: trace, debug, info, warn, error",
				Value:   mod.Level,
			}
		}
	}

	return nil
}

// LoggerSpec converts the section for logger.Configure.
func (c *LoggingConfigSpec) LoggerSpec() *logger.LoggingConfigSpec {
	if c == nil {
		return nil
	}
	out := &logger.LoggingConfigSpec{
		DefaultLevel: c.DefaultLevel,
		Format:       c.Format,
		CommonFields: c.CommonFields,
	}
	for _, m := range c.Modules {
		out.Modules = append(out.Modules, logger.ModuleLoggingSpec{
			Name:   m.Name,
			Level:  m.Level,
			Fields: m.Fields,
		})
	}
	return out
}

// isValidLogLevel checks if a log level string is valid.
func isValidLogLevel(level string) bool {
	switch level {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}
