package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/playout-core/internal/auth"
)

const testSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes a minimal config with every optional backend disabled
// and points PLAYOUT_CONFIG at it.
func writeConfig(t *testing.T, dbPath string, port int) {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := fmt.Sprintf(`
studios:
  - id: studio-a
    name: Studio A
  - id: studio-b

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

redis:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stderr

api:
  host: "127.0.0.1"
  port: %d

security:
  jwt:
    secret: %q
    issuer: newsroom
`, dbPath, port, testSecret)
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("PLAYOUT_CONFIG", configPath)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// ─── run ──────────────────────────────────────────────────────────

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("PLAYOUT_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails validation with an empty database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, "", 8080)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want mention of database.path", err)
	}
}

// TestRun_StartsAndStops brings the engine up against a temporary database,
// checks the API answers and shuts it down through the context.
func TestRun_StartsAndStops(t *testing.T) {
	port := freePort(t)
	writeConfig(t, filepath.Join(t.TempDir(), "playout.db"), port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:gosec,noctx // test against a local server
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("API did not come up: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() = %v, want nil on shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

// ─── config path ──────────────────────────────────────────────────

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("PLAYOUT_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("PLAYOUT_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// ─── mint-token ───────────────────────────────────────────────────

func TestMintToken(t *testing.T) {
	writeConfig(t, filepath.Join(t.TempDir(), "playout.db"), 8080)

	var out bytes.Buffer
	err := mintToken([]string{"-subject", "gallery-1", "-role", "director", "-studios", "studio-a, studio-b"}, &out)
	if err != nil {
		t.Fatalf("mintToken() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret, "newsroom")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	p := claims.Principal()
	if p.Subject != "gallery-1" || p.Role != auth.RoleDirector {
		t.Errorf("principal = %+v, want gallery-1/director", p)
	}
	if len(p.Studios) != 2 || p.Studios[1] != "studio-b" {
		t.Errorf("studios = %v, want [studio-a studio-b]", p.Studios)
	}
}

func TestMintToken_Errors(t *testing.T) {
	writeConfig(t, filepath.Join(t.TempDir(), "playout.db"), 8080)

	tests := []struct {
		name string
		args []string
	}{
		{"missing subject", []string{"-role", "viewer"}},
		{"unknown studio", []string{"-subject", "x", "-studios", "studio-z"}},
		{"unknown flag", []string{"-subject", "x", "-colour", "red"}},
		{"invalid role", []string{"-subject", "x", "-role", "janitor"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := mintToken(tt.args, &out); err == nil {
				t.Errorf("mintToken(%v) should fail", tt.args)
			}
		})
	}
}
