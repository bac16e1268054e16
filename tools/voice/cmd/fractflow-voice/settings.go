package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/RRiiiccckkk/FractFlow/pkg/config"
	"github.com/RRiiiccckkk/FractFlow/runtime/realtime"
)

// Viper keys. Flags and FRACTFLOW_* environment variables share them.
const (
	keyConfig       = "config"
	keyMode         = "mode"
	keyDryRun       = "dry-run"
	keyMetricsAddr  = "metrics-addr"
	keyPrintMetrics = "print-metrics"
	keyHistoryDir   = "dir"
)

const (
	defaultAgentName = "fractflow-voice"
	defaultEnvFile   = ".env"
)

var envKeyReplacer = strings.NewReplacer("-", "_")

// loadAgent resolves the manifest: the --config file if given, otherwise
// defaults, with flag and environment overrides applied before defaulting.
func loadAgent(v *viper.Viper) (*config.VoiceAgentConfig, error) {
	if err := loadEnvFile(v.GetString(keyEnvFile)); err != nil {
		return nil, err
	}
	opts := []config.Option{
		config.WithMode(realtime.Mode(v.GetString(keyMode))),
		config.WithMetricsAddr(v.GetString(keyMetricsAddr)),
	}
	if v.GetBool(keyDryRun) {
		opts = append(opts, config.WithDevice(config.DeviceMemory))
	}

	if path := v.GetString(keyConfig); path != "" {
		return config.LoadConfig(path, opts...)
	}
	return config.Default(defaultAgentName, opts...)
}

// loadEnvFile exports the variables in path that are not already set. A
// missing default file is not an error.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("env file %s: %w", path, err)
}
