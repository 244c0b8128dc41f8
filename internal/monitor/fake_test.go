package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/infrastructure/database"
	"github.com/nerrad567/devicelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicelink/internal/session"
	_ "github.com/nerrad567/devicelink/migrations"
)

const testWait = 2 * time.Second

// fakeTransport answers every operation on a new goroutine with the result
// configured for it.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	results   map[string]error
	calls     []string

	onMessage        func(topic string, payload []byte)
	onConnectionLost func(err error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{results: make(map[string]error)}
}

func (f *fakeTransport) Connect(_, _ string, onResult func(err error)) {
	f.do("connect", "", onResult)
}

func (f *fakeTransport) Disconnect(onResult func(err error)) {
	f.do("disconnect", "", onResult)
}

func (f *fakeTransport) Subscribe(topic string, _ byte, onResult func(err error)) {
	f.do("subscribe", topic, onResult)
}

func (f *fakeTransport) Unsubscribe(topic string, onResult func(err error)) {
	f.do("unsubscribe", topic, onResult)
}

func (f *fakeTransport) Publish(topic string, _ []byte, _ byte, _ bool, onResult func(err error)) {
	f.do("publish", topic, onResult)
}

func (f *fakeTransport) SetCallback(onMessage func(string, []byte), onConnectionLost func(error), _ func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = onMessage
	f.onConnectionLost = onConnectionLost
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setResult(op string, err error) {
	f.mu.Lock()
	f.results[op] = err
	f.mu.Unlock()
}

func (f *fakeTransport) called(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeTransport) deliver(topic, body string) {
	f.mu.Lock()
	cb := f.onMessage
	f.mu.Unlock()
	if cb != nil {
		cb(topic, []byte(body))
	}
}

func (f *fakeTransport) loseConnection() {
	f.mu.Lock()
	f.connected = false
	cb := f.onConnectionLost
	f.mu.Unlock()
	if cb != nil {
		cb(context.DeadlineExceeded)
	}
}

func (f *fakeTransport) do(op, topic string, onResult func(err error)) {
	f.mu.Lock()
	f.calls = append(f.calls, op+":"+topic)
	err := f.results[op]
	if err == nil {
		switch op {
		case "connect":
			f.connected = true
		case "disconnect":
			f.connected = false
		}
	}
	f.mu.Unlock()
	if onResult != nil {
		go onResult(err)
	}
}

// recorder captures broadcasts and sink writes.
type recorder struct {
	mu        sync.Mutex
	events    map[string][]any
	telemetry []influxdb.TelemetryPoint
	states    []string
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]any)}
}

func (r *recorder) Broadcast(channel string, payload any) {
	r.mu.Lock()
	r.events[channel] = append(r.events[channel], payload)
	r.mu.Unlock()
}

func (r *recorder) WriteTelemetry(p influxdb.TelemetryPoint) {
	r.mu.Lock()
	r.telemetry = append(r.telemetry, p)
	r.mu.Unlock()
}

func (r *recorder) WriteSessionState(from, to string, _ time.Time) {
	r.mu.Lock()
	r.states = append(r.states, from+"->"+to)
	r.mu.Unlock()
}

func (r *recorder) count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[channel])
}

// harness wires a Service to a fake transport and an in-memory store.
type harness struct {
	transport *fakeTransport
	manager   *session.Manager
	repo      *device.SQLiteRepository
	history   *device.SQLiteHistoryRepository
	rec       *recorder
	svc       *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating database: %v", err)
	}

	h := &harness{
		transport: newFakeTransport(),
		repo:      device.NewSQLiteRepository(db.DB),
		history:   device.NewSQLiteHistoryRepository(db.DB),
		rec:       newRecorder(),
	}
	h.manager = session.NewManager(h.transport, session.Options{OperationTimeout: time.Second})

	h.svc, err = NewService(ServiceOptions{
		Session:          h.manager,
		Repository:       h.repo,
		History:          h.history,
		HistoryRetention: 24 * time.Hour,
		Sink:             h.rec,
		Broadcaster:      h.rec,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return h
}

// run starts the consumer loop and waits until it is attached.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-h.svc.Ready():
	case <-time.After(testWait):
		t.Fatal("monitor never became ready")
	}
}

func (h *harness) addDevice(t *testing.T, name, topic string) *device.Device {
	t.Helper()
	d := device.NewDevice(name, "Acme", "sensor", topic)
	if err := h.svc.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("CreateDevice(%s) error = %v", name, err)
	}
	return d
}

func (h *harness) get(t *testing.T, id int64) *device.Device {
	t.Helper()
	d, err := h.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%d) error = %v", id, err)
	}
	return d
}

// waitFor polls cond until it holds or the test wait elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
