package logger

import (
	"log/slog"
	"sync"
)

// Component names. Module levels and the "component" log attribute use
// these; they are the last element of the emitting package path.
const (
	ComponentAudio        = "audio"
	ComponentRealtime     = "realtime"
	ComponentCoordinator  = "coordinator"
	ComponentMonitor      = "monitor"
	ComponentConversation = "conversation"
	ComponentConfig       = "config"
	ComponentMetrics      = "prometheus"
	ComponentTelemetry    = "telemetry"
)

// Components lists every component that accepts a module level.
var Components = []string{
	ComponentAudio,
	ComponentRealtime,
	ComponentCoordinator,
	ComponentMonitor,
	ComponentConversation,
	ComponentConfig,
	ComponentMetrics,
	ComponentTelemetry,
}

// IsComponent reports whether name is a known component.
func IsComponent(name string) bool {
	for _, c := range Components {
		if c == name {
			return true
		}
	}
	return false
}

// ModuleConfig holds a default level and per-component overrides.
type ModuleConfig struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	levels       map[string]slog.Level
}

// NewModuleConfig returns a config where every component logs at
// defaultLevel.
func NewModuleConfig(defaultLevel slog.Level) *ModuleConfig {
	return &ModuleConfig{defaultLevel: defaultLevel, levels: make(map[string]slog.Level)}
}

// SetModuleLevel overrides the level of one component.
func (m *ModuleConfig) SetModuleLevel(component string, level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[component] = level
}

// SetDefaultLevel changes the level of components without an override.
func (m *ModuleConfig) SetDefaultLevel(level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultLevel = level
}

// LevelFor returns the level for component. Unknown and empty names get
// the default.
func (m *ModuleConfig) LevelFor(component string) slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if level, ok := m.levels[component]; ok {
		return level
	}
	return m.defaultLevel
}

// minLevel is the most verbose level any component may log at.
func (m *ModuleConfig) minLevel() slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lowest := m.defaultLevel
	for _, l := range m.levels {
		if l < lowest {
			lowest = l
		}
	}
	return lowest
}

func (m *ModuleConfig) hasOverrides() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.levels) > 0
}

var globalModuleConfig = NewModuleConfig(slog.LevelInfo)

// LoggingConfigSpec is the logger's view of the manifest logging section.
type LoggingConfigSpec struct {
	DefaultLevel string
	Format       string // "json" or "text"
	CommonFields map[string]string
	Modules      []ModuleLoggingSpec
}

// ModuleLoggingSpec overrides the level of one component. Fields are added
// to that component's records.
type ModuleLoggingSpec struct {
	Name   string
	Level  string
	Fields map[string]string
}

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Configure rebuilds the global logger from cfg. A logger installed with
// SetLogger is left in place.
func Configure(cfg *LoggingConfigSpec) error {
	if cfg == nil {
		return nil
	}

	setupMu.Lock()
	defer setupMu.Unlock()
	if customHandler != nil {
		return nil
	}

	defaultLevel := slog.LevelInfo
	if cfg.DefaultLevel != "" {
		defaultLevel = ParseLevel(cfg.DefaultLevel)
	}

	common := make([]slog.Attr, 0, len(cfg.CommonFields))
	for k, v := range cfg.CommonFields {
		common = append(common, slog.String(k, v))
	}

	modules := NewModuleConfig(defaultLevel)
	fields := make(map[string][]slog.Attr)
	for _, mod := range cfg.Modules {
		modules.SetModuleLevel(mod.Name, ParseLevel(mod.Level))
		for k, v := range mod.Fields {
			fields[mod.Name] = append(fields[mod.Name], slog.String(k, v))
		}
	}
	globalModuleConfig = modules

	// The base handler must pass everything a component override allows;
	// Handler does the per-component filtering.
	opts := &slog.HandlerOptions{Level: modules.minLevel()}
	var base slog.Handler
	if cfg.Format == FormatJSON {
		base = slog.NewJSONHandler(logOutput, opts)
	} else {
		base = slog.NewTextHandler(logOutput, opts)
	}

	h := NewContextHandler(base, common...)
	if modules.hasOverrides() {
		h = h.withModules(modules, fields)
	}
	DefaultLogger = slog.New(h)
	slog.SetDefault(DefaultLogger)
	return nil
}

// GetModuleConfig returns the active module configuration.
func GetModuleConfig() *ModuleConfig {
	setupMu.Lock()
	defer setupMu.Unlock()
	return globalModuleConfig
}
