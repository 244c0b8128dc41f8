package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultOperationTimeout bounds every transport operation.
	DefaultOperationTimeout = 10 * time.Second

	// DefaultStreamBuffer is the per-consumer channel size.
	DefaultStreamBuffer = 16

	maxQoS = 2
)

// Transport is the callback-style client the Manager drives.
//
// Each operation must call onResult exactly once, on any goroutine, with
// nil on success. The Manager tolerates a transport that never answers.
type Transport interface {
	Connect(username, password string, onResult func(err error))
	Disconnect(onResult func(err error))
	Subscribe(topic string, qos byte, onResult func(err error))
	Unsubscribe(topic string, onResult func(err error))
	Publish(topic string, payload []byte, qos byte, retained bool, onResult func(err error))
	SetCallback(onMessage func(topic string, payload []byte), onConnectionLost func(err error), onDeliveryComplete func(topic string))
	IsConnected() bool
}

// Logger is the logging surface used by the session package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	OperationTimeout time.Duration
	StreamBuffer     int
	Logger           Logger
}

// StateListener is notified after every state transition.
type StateListener func(from, to State)

// Manager owns one broker connection and its subscriptions.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Transport callbacks may arrive on any goroutine.
type Manager struct {
	transport Transport
	timeout   time.Duration
	buffer    int
	logger    Logger

	mu    sync.Mutex
	state State
	// epoch increments on every connect, so a subscribe acknowledged for an
	// earlier connection is not recorded against the current one.
	epoch   uint64
	active  map[string]byte
	pending map[string]struct{}
	// gen counts operations issued per topic. A late acknowledgement only
	// acts when no newer operation on its topic has started.
	gen    map[string]uint64
	stream *Stream

	listeners   []StateListener
	listenersMu sync.RWMutex
}

// NewManager creates a Disconnected session over transport and installs
// its connection-loss callback.
func NewManager(transport Transport, opts Options) *Manager {
	m := &Manager{
		transport: transport,
		timeout:   opts.OperationTimeout,
		buffer:    opts.StreamBuffer,
		logger:    opts.Logger,
		state:     StateDisconnected,
		active:    make(map[string]byte),
		pending:   make(map[string]struct{}),
		gen:       make(map[string]uint64),
	}
	if m.timeout <= 0 {
		m.timeout = DefaultOperationTimeout
	}
	if m.buffer <= 0 {
		m.buffer = DefaultStreamBuffer
	}
	if m.logger == nil {
		m.logger = nopLogger{}
	}

	transport.SetCallback(nil, m.handleConnectionLost, m.handleDeliveryComplete)
	return m
}

// OnStateChange registers a listener for state transitions. Listeners
// run synchronously on the goroutine that caused the transition.
func (m *Manager) OnStateChange(fn StateListener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Epoch identifies the current connection. It increments on every
// connect attempt.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Connected reports whether the session is Connected.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Subscriptions returns the acknowledged subscriptions, sorted.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, 0, len(m.active))
	for t := range m.active {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// IsSubscribed reports whether topic has an acknowledged subscription.
func (m *Manager) IsSubscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[topic]
	return ok
}

// Connect opens the broker connection.
//
// It fails fast with ErrAlreadyConnected when Connected and with
// ErrOperationInProgress while connecting or disconnecting. On success
// any subscription state left from an earlier connection is cleared.
//
// Returns:
//   - error: nil when Connected; ErrTransportFailure, ErrTimeout or
//     ctx.Err() otherwise, leaving the session Disconnected
func (m *Manager) Connect(ctx context.Context, username, password string) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateConnecting, StateDisconnecting:
		m.mu.Unlock()
		return ErrOperationInProgress
	}
	m.epoch++
	epoch := m.epoch
	from := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	m.notify(from, StateConnecting)

	// A connect that completes after we gave up would leave the transport
	// connected behind a Disconnected session.
	late := func(err error) {
		if err != nil {
			return
		}
		m.mu.Lock()
		stale := m.epoch == epoch && m.state == StateDisconnected
		m.mu.Unlock()
		if stale {
			m.logger.Warn("late connect acknowledgement, disconnecting transport")
			m.transport.Disconnect(nil)
		}
	}

	err := m.await(ctx, "connect", func(done func(error)) {
		m.transport.Connect(username, password, done)
	}, late)

	m.mu.Lock()
	var to State
	if err == nil {
		clear(m.active)
		clear(m.pending)
		to = StateConnected
	} else {
		to = StateDisconnected
	}
	from = m.setStateLocked(to)
	m.mu.Unlock()
	m.notify(from, to)

	if err != nil {
		m.logger.Warn("connect failed", "error", err)
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransportFailure) || isContextErr(err) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}
	m.logger.Info("session connected")
	return nil
}

// Disconnect closes the broker connection.
//
// The session ends Disconnected whatever the transport reports; a
// transport error or timeout is logged, not returned. Disconnecting a
// Disconnected session is a no-op. While a connect or disconnect is
// outstanding ErrOperationInProgress is returned.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateDisconnected:
		m.mu.Unlock()
		return nil
	case StateConnecting, StateDisconnecting:
		m.mu.Unlock()
		return ErrOperationInProgress
	}
	from := m.setStateLocked(StateDisconnecting)
	m.mu.Unlock()
	m.notify(from, StateDisconnecting)

	err := m.await(ctx, "disconnect", m.transport.Disconnect, nil)

	m.mu.Lock()
	clear(m.active)
	clear(m.pending)
	from = m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	m.notify(from, StateDisconnected)

	if err != nil {
		m.logger.Warn("disconnect not acknowledged, session marked disconnected", "error", err)
	} else {
		m.logger.Info("session disconnected")
	}
	return nil
}

// Subscribe subscribes to topic.
//
// The boolean is true only when the broker acknowledged the subscription.
// Transport failures and timeouts yield false with a nil error; the error
// is reserved for requests that were never issued.
//
// Returns:
//   - bool: whether topic is now subscribed
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected or
//     ErrOperationInProgress
func (m *Manager) Subscribe(ctx context.Context, topic string, qos byte) (bool, error) {
	if topic == "" {
		return false, ErrInvalidTopic
	}
	if qos > maxQoS {
		return false, ErrInvalidQoS
	}

	op, err := m.beginTopicOp(topic)
	if err != nil {
		return false, err
	}

	// A subscription acknowledged after we reported failure is removed so
	// the broker matches what the caller was told, unless a newer operation
	// on the topic has been issued since.
	late := func(err error) {
		if err != nil {
			return
		}
		m.mu.Lock()
		current := m.state == StateConnected && m.isCurrentLocked(topic, op)
		var undo topicOp
		if current {
			undo = m.markPendingLocked(topic)
		}
		m.mu.Unlock()

		if !current {
			m.logger.Debug("late subscribe acknowledgement superseded", "topic", topic)
			return
		}
		m.logger.Warn("late subscribe acknowledgement, unsubscribing", "topic", topic)
		m.transport.Unsubscribe(topic, func(error) { m.endTopicOp(topic, undo) })
	}

	err = m.await(ctx, "subscribe", func(done func(error)) {
		m.transport.Subscribe(topic, qos, done)
	}, late)

	m.mu.Lock()
	m.endTopicOpLocked(topic, op)
	ok := err == nil && m.state == StateConnected && m.epoch == op.epoch
	if ok {
		m.active[topic] = qos
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("subscribe failed", "topic", topic, "error", err)
	} else if !ok {
		m.logger.Warn("subscribe acknowledged after connection ended", "topic", topic)
	} else {
		m.logger.Info("subscribed", "topic", topic, "qos", qos)
	}
	return ok, nil
}

// Unsubscribe removes the subscription to topic.
//
// The boolean is true only when the broker acknowledged the unsubscribe.
// Error semantics match Subscribe.
func (m *Manager) Unsubscribe(ctx context.Context, topic string) (bool, error) {
	if topic == "" {
		return false, ErrInvalidTopic
	}

	op, err := m.beginTopicOp(topic)
	if err != nil {
		return false, err
	}

	late := func(err error) {
		if err != nil {
			return
		}
		m.mu.Lock()
		current := m.isCurrentLocked(topic, op)
		if current {
			delete(m.active, topic)
		}
		m.mu.Unlock()
		m.logger.Warn("late unsubscribe acknowledgement", "topic", topic, "applied", current)
	}

	err = m.await(ctx, "unsubscribe", func(done func(error)) {
		m.transport.Unsubscribe(topic, done)
	}, late)

	m.mu.Lock()
	if err == nil && m.isCurrentLocked(topic, op) {
		delete(m.active, topic)
	}
	m.endTopicOpLocked(topic, op)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		return false, nil
	}
	m.logger.Info("unsubscribed", "topic", topic)
	return true, nil
}

// Publish sends payload to topic and waits for the transport to confirm.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !m.Connected() {
		return ErrNotConnected
	}

	err := m.await(ctx, "publish", func(done func(error)) {
		m.transport.Publish(topic, payload, qos, retained, done)
	}, nil)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransportFailure) || isContextErr(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransportFailure, err)
}

// ObserveMessages returns the standing message stream, creating it and
// registering the transport message callback if there is none or the
// previous one was closed.
func (m *Manager) ObserveMessages() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil && !m.stream.Closed() {
		return m.stream
	}

	var s *Stream
	s = newStream(m.buffer, func() { m.detachStream(s) })
	m.stream = s
	m.transport.SetCallback(
		func(topic string, body []byte) { m.handleMessage(s, topic, body) },
		m.handleConnectionLost,
		m.handleDeliveryComplete,
	)
	return s
}

// detachStream unregisters the message callback of a closed stream.
func (m *Manager) detachStream(s *Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != s {
		return
	}
	m.stream = nil
	m.transport.SetCallback(nil, m.handleConnectionLost, m.handleDeliveryComplete)
}

// topicOp identifies one operation on a topic within a connection.
type topicOp struct {
	epoch uint64
	gen   uint64
}

// beginTopicOp checks preconditions and marks topic as having an
// outstanding operation.
func (m *Manager) beginTopicOp(topic string) (topicOp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return topicOp{}, ErrNotConnected
	}
	if _, busy := m.pending[topic]; busy {
		return topicOp{}, ErrOperationInProgress
	}
	return m.markPendingLocked(topic), nil
}

func (m *Manager) markPendingLocked(topic string) topicOp {
	m.gen[topic]++
	m.pending[topic] = struct{}{}
	return topicOp{epoch: m.epoch, gen: m.gen[topic]}
}

// isCurrentLocked reports whether op is the latest operation on topic in
// the current connection.
func (m *Manager) isCurrentLocked(topic string, op topicOp) bool {
	return m.epoch == op.epoch && m.gen[topic] == op.gen
}

// endTopicOpLocked clears the pending mark if op still owns it.
func (m *Manager) endTopicOpLocked(topic string, op topicOp) {
	if m.isCurrentLocked(topic, op) {
		delete(m.pending, topic)
	}
}

func (m *Manager) endTopicOp(topic string, op topicOp) {
	m.mu.Lock()
	m.endTopicOpLocked(topic, op)
	m.mu.Unlock()
}

func (m *Manager) handleMessage(s *Stream, topic string, body []byte) {
	p, err := DecodePayload(topic, body)
	if err != nil {
		m.logger.Warn("dropping malformed payload", "topic", topic, "error", err)
		return
	}
	p.Epoch = m.Epoch()
	s.publish(p)
}

// handleConnectionLost moves a Connected session straight to Disconnected
// and announces the loss on the stream. Loss reported while disconnecting
// is part of the voluntary disconnect and ignored.
func (m *Manager) handleConnectionLost(err error) {
	m.mu.Lock()
	if m.state != StateConnected {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("connection loss ignored", "state", state, "error", err)
		return
	}
	clear(m.active)
	clear(m.pending)
	from := m.setStateLocked(StateDisconnected)
	stream := m.stream
	lost := ConnectionLostPayload()
	lost.Epoch = m.epoch
	m.mu.Unlock()

	m.logger.Warn("connection lost", "error", err, "epoch", lost.Epoch)
	if stream != nil {
		stream.publish(lost)
	}
	m.notify(from, StateDisconnected)
}

func (m *Manager) handleDeliveryComplete(topic string) {
	m.logger.Debug("delivery complete", "topic", topic)
}

func (m *Manager) setStateLocked(to State) State {
	from := m.state
	m.state = to
	return from
}

func (m *Manager) notify(from, to State) {
	if from == to {
		return
	}
	m.listenersMu.RLock()
	listeners := append([]StateListener(nil), m.listeners...)
	m.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(from, to)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
