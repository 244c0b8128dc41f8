package session

import (
	"sync"
)

type heldOp struct {
	op       string
	topic    string
	onResult func(err error)
}

// MockTransport is an in-memory Transport. Results are delivered on a new
// goroutine, like a client library's callback thread. Operations named in
// hold are parked until Release.
type MockTransport struct {
	mu        sync.Mutex
	connected bool
	results   map[string]error
	hold      map[string]bool
	held      []heldOp
	calls     []string
	panicOn   string

	onMessage          func(topic string, payload []byte)
	onConnectionLost   func(err error)
	onDeliveryComplete func(topic string)

	registrations   int
	unregistrations int
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		results: make(map[string]error),
		hold:    make(map[string]bool),
	}
}

func (m *MockTransport) Connect(_, _ string, onResult func(err error)) {
	m.start("connect", "", onResult)
}

func (m *MockTransport) Disconnect(onResult func(err error)) {
	m.start("disconnect", "", onResult)
}

func (m *MockTransport) Subscribe(topic string, _ byte, onResult func(err error)) {
	m.start("subscribe", topic, onResult)
}

func (m *MockTransport) Unsubscribe(topic string, onResult func(err error)) {
	m.start("unsubscribe", topic, onResult)
}

func (m *MockTransport) Publish(topic string, _ []byte, _ byte, _ bool, onResult func(err error)) {
	m.start("publish", topic, onResult)
}

func (m *MockTransport) SetCallback(
	onMessage func(topic string, payload []byte),
	onConnectionLost func(err error),
	onDeliveryComplete func(topic string),
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if onMessage != nil {
		m.registrations++
	} else if m.onMessage != nil {
		m.unregistrations++
	}
	m.onMessage = onMessage
	m.onConnectionLost = onConnectionLost
	m.onDeliveryComplete = onDeliveryComplete
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SetResult makes every later op of that name fail with err (nil = succeed).
func (m *MockTransport) SetResult(op string, err error) {
	m.mu.Lock()
	m.results[op] = err
	m.mu.Unlock()
}

// Hold parks later ops of that name until Release.
func (m *MockTransport) Hold(op string) {
	m.mu.Lock()
	m.hold[op] = true
	m.mu.Unlock()
}

// Unhold stops parking ops of that name. Already parked ops stay parked.
func (m *MockTransport) Unhold(op string) {
	m.mu.Lock()
	delete(m.hold, op)
	m.mu.Unlock()
}

// PanicOn makes the named op panic when issued.
func (m *MockTransport) PanicOn(op string) {
	m.mu.Lock()
	m.panicOn = op
	m.mu.Unlock()
}

// Release completes the oldest parked op of that name with err. It reports
// whether one was parked.
func (m *MockTransport) Release(op string, err error) bool {
	m.mu.Lock()
	var found *heldOp
	for i := range m.held {
		if m.held[i].op == op {
			h := m.held[i]
			found = &h
			m.held = append(m.held[:i], m.held[i+1:]...)
			break
		}
	}
	if found != nil && err == nil {
		m.applyLocked(op)
	}
	m.mu.Unlock()

	if found == nil {
		return false
	}
	if found.onResult != nil {
		go found.onResult(err)
	}
	return true
}

// HeldCount returns the number of parked ops of that name.
func (m *MockTransport) HeldCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.held {
		if h.op == op {
			n++
		}
	}
	return n
}

// Calls returns "op:topic" for every op issued so far.
func (m *MockTransport) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many times op was issued.
func (m *MockTransport) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if len(c) >= len(op) && c[:len(op)] == op {
			n++
		}
	}
	return n
}

// Deliver hands an inbound message to the registered message callback on
// the calling goroutine. It reports whether a callback was registered.
func (m *MockTransport) Deliver(topic string, body []byte) bool {
	m.mu.Lock()
	cb := m.onMessage
	m.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(topic, body)
	return true
}

// LoseConnection simulates an unsolicited connection drop.
func (m *MockTransport) LoseConnection(err error) {
	m.mu.Lock()
	m.connected = false
	cb := m.onConnectionLost
	m.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (m *MockTransport) Registrations() (registered, unregistered int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registrations, m.unregistrations
}

func (m *MockTransport) start(op, topic string, onResult func(err error)) {
	m.mu.Lock()
	m.calls = append(m.calls, op+":"+topic)
	if m.panicOn == op {
		m.mu.Unlock()
		panic("mock transport: " + op)
	}
	if m.hold[op] {
		m.held = append(m.held, heldOp{op: op, topic: topic, onResult: onResult})
		m.mu.Unlock()
		return
	}
	err := m.results[op]
	if err == nil {
		m.applyLocked(op)
	}
	m.mu.Unlock()

	if onResult != nil {
		go onResult(err)
	}
}

func (m *MockTransport) applyLocked(op string) {
	switch op {
	case "connect":
		m.connected = true
	case "disconnect":
		m.connected = false
	}
}
