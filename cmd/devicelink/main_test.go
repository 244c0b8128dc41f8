package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	mochiauth "github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/devicelink/internal/auth"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// freePort returns a loopback port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// startBroker runs an embedded MQTT broker and returns its port.
func startBroker(t *testing.T) int {
	t.Helper()
	port := freePort(t)

	server := mochi.New(&mochi.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err := server.AddHook(new(mochiauth.AllowHook), nil); err != nil {
		t.Fatalf("adding auth hook: %v", err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "main-test",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})); err != nil {
		t.Fatalf("adding listener: %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("starting broker: %v", err)
	}
	t.Cleanup(func() { server.Close() }) //nolint:errcheck // Test cleanup
	return port
}

// writeConfig writes a config file and points DEVICELINK_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("DEVICELINK_CONFIG", path)
}

func TestRun_InvalidConfigPath(t *testing.T) {
	t.Setenv("DEVICELINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an explicit missing config path")
	}
}

func TestRun_ValidationFailure(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
database:
  path: ""
`)

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

func TestGetConfigPath(t *testing.T) {
	t.Setenv("DEVICELINK_CONFIG", "")
	if path, explicit := getConfigPath(); path != defaultConfigPath || explicit {
		t.Errorf("getConfigPath() = %q, %v; want %q, false", path, explicit, defaultConfigPath)
	}

	t.Setenv("DEVICELINK_CONFIG", "/custom/path/config.yaml")
	if path, explicit := getConfigPath(); path != "/custom/path/config.yaml" || !explicit {
		t.Errorf("getConfigPath() = %q, %v; want override, true", path, explicit)
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	brokerPort := startBroker(t)
	apiPort := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "devicelink.db")

	writeConfig(t, fmt.Sprintf(`
site:
  id: test-site
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "127.0.0.1"
    port: %d
    client_id: "devicelink-main-test"
  qos: 1
session:
  operation_timeout: 2
  auto_connect: true
api:
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
`, dbPath, brokerPort, apiPort))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/session", apiPort)
	deadline := time.Now().Add(5 * time.Second)
	var body string
	for time.Now().Before(deadline) {
		resp, err := http.Get(healthURL)
		if err == nil {
			b, _ := io.ReadAll(resp.Body) //nolint:errcheck // Test read
			resp.Body.Close()
			body = string(b)
			if strings.Contains(body, `"state":"connected"`) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !strings.Contains(body, `"state":"connected"`) {
		t.Errorf("session status = %q, want connected after auto connect", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestRunToken(t *testing.T) {
	writeConfig(t, "site:\n  id: test-site\n")
	t.Setenv("DEVICELINK_JWT_SECRET", testJWTSecret)

	var out bytes.Buffer
	if err := runToken([]string{"-subject", "dashboard", "-role", "operator", "-ttl", "1h"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testJWTSecret, "devicelink")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "dashboard" || claims.Role != auth.RoleOperator {
		t.Errorf("claims = %+v", claims)
	}
}

func TestRunToken_Errors(t *testing.T) {
	writeConfig(t, "site:\n  id: test-site\n")

	t.Setenv("DEVICELINK_JWT_SECRET", "")
	if err := runToken([]string{"-subject", "x"}, io.Discard); err == nil {
		t.Error("runToken() without secret should fail")
	}

	t.Setenv("DEVICELINK_JWT_SECRET", testJWTSecret)
	if err := runToken(nil, io.Discard); err == nil {
		t.Error("runToken() without subject should fail")
	}
	if err := runToken([]string{"-subject", "x", "-role", "root"}, io.Discard); err == nil {
		t.Error("runToken() with unknown role should fail")
	}
}
