package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SINRICBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_BootAndShutdown boots the daemon against an unreachable portal
// and verifies it starts from an empty store and shuts down cleanly.
// MQTT and InfluxDB are disabled; the API binds a loopback port.
func TestRun_BootAndShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
cloud:
  api_key: test-api-key
  api_base_url: http://127.0.0.1:1/api/v1
  sse_url: http://127.0.0.1:1/sse/stream
  request_timeout: 1
  stream:
    reconnect:
      initial_delay: 1
      max_delay: 1
      max_attempts: 1
    idle_timeout: 5

database:
  path: ` + filepath.Join(tmpDir, "bridge.db") + `
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

api:
  host: 127.0.0.1
  port: 18093

security:
  jwt:
    secret: 0123456789abcdef0123456789abcdef

logging:
  level: error
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("SINRICBRIDGE_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// The portal is unreachable: inventory sync warns, the stream gives up
	// after its one reconnect attempt, and the daemon still serves.
	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

// TestGetConfigPath verifies the environment override and the default.
func TestGetConfigPath(t *testing.T) {
	t.Setenv("SINRICBRIDGE_CONFIG", "/etc/sinricbridge/config.yaml")
	if got := getConfigPath(); got != "/etc/sinricbridge/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}

	t.Setenv("SINRICBRIDGE_CONFIG", "")
	if got := getConfigPath(); !strings.HasSuffix(got, "config.yaml") {
		t.Errorf("getConfigPath() = %q, want default", got)
	}
}
