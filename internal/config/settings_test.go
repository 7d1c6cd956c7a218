// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSettingsDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // avoid picking up a stray argos.yaml

	settings, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}

	if settings.Logging.Level != "info" || settings.Logging.Format != "json" {
		t.Errorf("logging = %+v", settings.Logging)
	}
	if settings.Status.Port != 4819 || !settings.Status.Enabled {
		t.Errorf("status = %+v", settings.Status)
	}
	if settings.Bridge.Enabled {
		t.Error("bridge enabled by default")
	}
	if settings.Shutdown.WorkerWait != 5*time.Second {
		t.Errorf("worker_wait = %v", settings.Shutdown.WorkerWait)
	}
	if settings.Shutdown.TreeTimeout != 10*time.Second {
		t.Errorf("tree_timeout = %v", settings.Shutdown.TreeTimeout)
	}
}

func TestLoadSettingsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argos.yaml")
	content := []byte(`
logging:
  level: debug
  format: console
status:
  port: 9100
bridge:
  enabled: true
  url: nats://broker:4222
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings.Logging.Level != "debug" || settings.Logging.Format != "console" {
		t.Errorf("logging = %+v", settings.Logging)
	}
	if settings.Status.Port != 9100 {
		t.Errorf("port = %d", settings.Status.Port)
	}
	if !settings.Bridge.Enabled || settings.Bridge.URL != "nats://broker:4222" {
		t.Errorf("bridge = %+v", settings.Bridge)
	}
	// Untouched keys keep their defaults.
	if settings.Bridge.SubjectPrefix != "argos.envelopes" {
		t.Errorf("subject_prefix = %q", settings.Bridge.SubjectPrefix)
	}
}

func TestLoadSettingsEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argos.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARGOS_LOGGING_LEVEL", "warn")

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings.Logging.Level != "warn" {
		t.Errorf("level = %q, want env override", settings.Logging.Level)
	}
}

func TestLoadSettingsRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad level": "logging:\n  level: shout\n",
		"bad port":  "status:\n  port: 99999\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "argos.yaml")
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadSettings(path); err == nil {
				t.Error("invalid settings accepted")
			}
		})
	}
}

func TestLoadSettingsMissingExplicitFile(t *testing.T) {
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing explicit settings file accepted")
	}
}
