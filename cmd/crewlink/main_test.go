package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("CREWLINK_CONFIG")
	defer os.Setenv("CREWLINK_CONFIG", originalEnv)

	os.Setenv("CREWLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("CREWLINK_CONFIG")
	defer os.Setenv("CREWLINK_CONFIG", originalEnv)

	os.Unsetenv("CREWLINK_CONFIG")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("CREWLINK_CONFIG")
	defer os.Setenv("CREWLINK_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("CREWLINK_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_StartupAndShutdown boots the full server with the optional
// integrations disabled, then lets the context deadline trigger a
// graceful shutdown.
func TestRun_StartupAndShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "data", "crewlink.db")

	configContent := `
server:
  host: "127.0.0.1"
  port: 18099
  timeouts:
    read: 30
    write: 60
    idle: 120

socket:
  host: "127.0.0.1"
  port: 16099
  ping_interval: 30
  max_message_size: 65536

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

registration:
  token_ttl: 300

backup:
  data_dir: "` + filepath.Join(tmpDir, "data") + `"
  archive_dir: "` + filepath.Join(tmpDir, "backups") + `"

mqtt:
  enabled: false

telemetry:
  enabled: false

logging:
  level: error
  format: text
  output: stderr
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("CREWLINK_CONFIG")
	defer os.Setenv("CREWLINK_CONFIG", originalEnv)
	os.Setenv("CREWLINK_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() = %v, want clean shutdown", err)
	}
}
