// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/JorgeSuarezV/argos/internal/validation"
)

// DefaultSettingsPaths lists where the runtime settings file is searched,
// in priority order. The first file found wins. The settings file is
// optional; defaults plus environment variables are enough to run.
var DefaultSettingsPaths = []string{
	"argos.yaml",
	"argos.yml",
	"/etc/argos/argos.yaml",
	"/etc/argos/argos.yml",
}

// SettingsPathEnvVar overrides the settings file path.
const SettingsPathEnvVar = "ARGOS_SETTINGS"

// envPrefix namespaces environment overrides, e.g.
// ARGOS_LOGGING_LEVEL=debug maps to logging.level.
const envPrefix = "ARGOS_"

// Settings holds runtime configuration that is not part of the monitor
// document: logging, the status listener, the optional broker bridge, and
// shutdown bounds.
type Settings struct {
	Logging  LoggingSettings  `koanf:"logging"`
	Status   StatusSettings   `koanf:"status"`
	Bridge   BridgeSettings   `koanf:"bridge"`
	Shutdown ShutdownSettings `koanf:"shutdown"`
}

// LoggingSettings configures the global zerolog logger.
type LoggingSettings struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StatusSettings configures the health/metrics/status HTTP listener.
type StatusSettings struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// BridgeSettings configures the optional NATS JetStream envelope bridge.
type BridgeSettings struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url" validate:"required_if=Enabled true,omitempty,uri"`
	SubjectPrefix string        `koanf:"subject_prefix"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	InboxSize     int           `koanf:"inbox_size" validate:"min=1"`
}

// ShutdownSettings bounds the cancellation cascade.
type ShutdownSettings struct {
	// WorkerWait bounds how long a coordinator waits for its worker to
	// terminate after a shutdown command before proceeding with its own
	// cleanup.
	WorkerWait time.Duration `koanf:"worker_wait" validate:"min=100ms"`

	// TreeTimeout bounds graceful shutdown of the whole supervisor tree.
	TreeTimeout time.Duration `koanf:"tree_timeout" validate:"min=1s"`
}

// DefaultSettings returns production-ready defaults.
func DefaultSettings() Settings {
	return Settings{
		Logging: LoggingSettings{
			Level:  "info",
			Format: "json",
		},
		Status: StatusSettings{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    4819,
			Timeout: 30 * time.Second,
		},
		Bridge: BridgeSettings{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "argos.envelopes",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			InboxSize:     1024,
		},
		Shutdown: ShutdownSettings{
			WorkerWait:  5 * time.Second,
			TreeTimeout: 10 * time.Second,
		},
	}
}

// LoadSettings builds runtime settings from defaults, an optional YAML
// file, and ARGOS_* environment variables, in that override order. An
// explicit path of "" triggers the default search.
func LoadSettings(path string) (Settings, error) {
	k := koanf.New(".")

	defaults := DefaultSettings()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return Settings{}, fmt.Errorf("load default settings: %w", err)
	}

	resolved := resolveSettingsPath(path)
	if resolved != "" {
		if err := k.Load(file.Provider(resolved), yaml.Parser()); err != nil {
			return Settings{}, fmt.Errorf("load settings file %s: %w", resolved, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return Settings{}, fmt.Errorf("load settings from environment: %w", err)
	}

	var settings Settings
	if err := k.Unmarshal("", &settings); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := validation.ValidateStruct(&settings); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

// resolveSettingsPath picks the settings file: explicit path, then the
// ARGOS_SETTINGS env var, then the default search list.
func resolveSettingsPath(path string) string {
	if path != "" {
		return path
	}
	if p := os.Getenv(SettingsPathEnvVar); p != "" {
		return p
	}
	for _, candidate := range DefaultSettingsPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
