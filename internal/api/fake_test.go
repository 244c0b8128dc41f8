package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicelink/internal/audit"
	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/infrastructure/database"
	"github.com/nerrad567/devicelink/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink/internal/monitor"
	"github.com/nerrad567/devicelink/internal/session"
	_ "github.com/nerrad567/devicelink/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeTransport acknowledges every operation asynchronously, failing the
// operations listed in fail.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	fail      map[string]error
	onMessage func(topic string, payload []byte)
}

func (f *fakeTransport) Connect(_, _ string, onResult func(err error)) {
	f.do("connect", onResult)
}

func (f *fakeTransport) Disconnect(onResult func(err error)) { f.do("disconnect", onResult) }

func (f *fakeTransport) Subscribe(_ string, _ byte, onResult func(err error)) {
	f.do("subscribe", onResult)
}

func (f *fakeTransport) Unsubscribe(_ string, onResult func(err error)) {
	f.do("unsubscribe", onResult)
}

func (f *fakeTransport) Publish(_ string, _ []byte, _ byte, _ bool, onResult func(err error)) {
	f.do("publish", onResult)
}

func (f *fakeTransport) SetCallback(onMessage func(string, []byte), _ func(error), _ func(string)) {
	f.mu.Lock()
	f.onMessage = onMessage
	f.mu.Unlock()
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) failOn(op string) {
	f.mu.Lock()
	if f.fail == nil {
		f.fail = make(map[string]error)
	}
	f.fail[op] = errors.New(op + " refused")
	f.mu.Unlock()
}

func (f *fakeTransport) deliver(topic, body string) {
	f.mu.Lock()
	cb := f.onMessage
	f.mu.Unlock()
	if cb != nil {
		cb(topic, []byte(body))
	}
}

func (f *fakeTransport) do(op string, onResult func(err error)) {
	f.mu.Lock()
	err := f.fail[op]
	if err == nil {
		switch op {
		case "connect":
			f.connected = true
		case "disconnect":
			f.connected = false
		}
	}
	f.mu.Unlock()
	go onResult(err)
}

// testEnv is a Server wired to a real Service over an in-memory database.
type testEnv struct {
	srv       *Server
	svc       *monitor.Service
	repo      *device.SQLiteRepository
	transport *fakeTransport
	hub       *Hub
}

type envOption func(d *Deps, db *database.DB)

func withAuth() envOption {
	return func(d *Deps, _ *database.DB) {
		d.Security = config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, Issuer: "devicelink"}}
	}
}

func withCheck(name string, c HealthChecker) envOption {
	return func(d *Deps, _ *database.DB) {
		if d.Checks == nil {
			d.Checks = make(map[string]HealthChecker)
		}
		d.Checks[name] = c
	}
}

func withAudit() envOption {
	return func(d *Deps, db *database.DB) {
		d.Audit = audit.NewSQLiteRepository(db.DB)
	}
}

func withDeps(f func(d *Deps)) envOption {
	return func(d *Deps, _ *database.DB) { f(d) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating database: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	wsCfg := config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	env := &testEnv{
		repo:      device.NewSQLiteRepository(db.DB),
		transport: &fakeTransport{},
		hub:       NewHub(wsCfg, log),
	}
	go env.hub.Run(ctx)

	manager := session.NewManager(env.transport, session.Options{OperationTimeout: time.Second, Logger: log})
	env.svc, err = monitor.NewService(monitor.ServiceOptions{
		Session:     manager,
		Repository:  env.repo,
		History:     device.NewSQLiteHistoryRepository(db.DB),
		Broadcaster: env.hub,
		Logger:      log,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	go env.svc.Run(ctx) //nolint:errcheck // ends with ctx
	select {
	case <-env.svc.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("service not ready")
	}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:      wsCfg,
		Logger:  log,
		Service: env.svc,
		Hub:     env.hub,
		Version: "test",
	}
	for _, o := range opts {
		o(&deps, db)
	}

	env.srv, err = New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return env
}

// addDevice stores a device directly through the repository.
func (e *testEnv) addDevice(t *testing.T, name, topic string) *device.Device {
	t.Helper()
	d := device.NewDevice(name, "Acme", "sensor", topic)
	if err := e.repo.Insert(context.Background(), d); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return d
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("unreachable") }

type okCheck struct{}

func (okCheck) HealthCheck(context.Context) error { return nil }
