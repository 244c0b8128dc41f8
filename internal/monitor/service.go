package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicelink/internal/session"
)

const (
	// DefaultQoS is used for device subscriptions.
	DefaultQoS = 1

	// pruneInterval is how often Run prunes telemetry history.
	pruneInterval = time.Hour
)

// Session is the subset of *session.Manager the Service drives.
type Session interface {
	Connect(ctx context.Context, username, password string) error
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte) (bool, error)
	Unsubscribe(ctx context.Context, topic string) (bool, error)
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	ObserveMessages() *session.Stream
	OnStateChange(fn session.StateListener)
	State() session.State
	Epoch() uint64
	Subscriptions() []string
}

// TelemetrySink receives applied payloads and state transitions.
// *influxdb.Client satisfies it.
type TelemetrySink interface {
	WriteTelemetry(p influxdb.TelemetryPoint)
	WriteSessionState(from, to string, at time.Time)
}

// Broadcaster pushes events to live clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger is the logging surface used by the monitor package.
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

// ServiceOptions holds configuration for creating a Service.
type ServiceOptions struct {
	// Session is the session manager. Required.
	Session Session

	// Repository persists devices. Required.
	Repository device.Repository

	// History records applied payloads. Optional.
	History device.HistoryRepository

	// HistoryRetention enables hourly pruning in Run when positive.
	HistoryRetention time.Duration

	// Sink exports telemetry, typically to InfluxDB. Optional.
	Sink TelemetrySink

	// Broadcaster pushes events to WebSocket clients. Optional.
	Broadcaster Broadcaster

	// QoS for device subscriptions; zero selects DefaultQoS.
	QoS byte

	// Username and Password are the configured broker credentials.
	Username string
	Password string

	// Logger is optional structured logger.
	Logger Logger
}

// Service applies session events to the Persistence Gateway and exposes
// the application commands.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	session     Session
	repo        device.Repository
	history     device.HistoryRepository
	retention   time.Duration
	sink        TelemetrySink
	broadcaster Broadcaster
	qos         byte
	username    string
	password    string
	logger      Logger

	// reconcileMu orders bulk resets (connect, disconnect, connection
	// loss) against per-device subscription changes, which hold it shared.
	reconcileMu sync.RWMutex

	ready     chan struct{}
	readyOnce sync.Once

	applied   atomic.Uint64
	unmatched atomic.Uint64
	losses    atomic.Uint64
}

// Metrics is a snapshot of Service counters.
type Metrics struct {
	PayloadsApplied   uint64 `json:"payloads_applied"`
	PayloadsUnmatched uint64 `json:"payloads_unmatched"`
	ConnectionLosses  uint64 `json:"connection_losses"`
}

// NewService creates a Service and registers its state listener on the
// session. Call Run to start applying payloads.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Session == nil {
		return nil, ErrSessionRequired
	}
	if opts.Repository == nil {
		return nil, ErrRepositoryRequired
	}

	s := &Service{
		session:     opts.Session,
		repo:        opts.Repository,
		history:     opts.History,
		retention:   opts.HistoryRetention,
		sink:        opts.Sink,
		broadcaster: opts.Broadcaster,
		qos:         opts.QoS,
		username:    opts.Username,
		password:    opts.Password,
		logger:      opts.Logger,
		ready:       make(chan struct{}),
	}
	if s.qos == 0 {
		s.qos = DefaultQoS
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}

	s.session.OnStateChange(s.handleStateChange)
	return s, nil
}

// Run consumes the session's message stream until ctx ends or the stream
// is closed.
func (s *Service) Run(ctx context.Context) error {
	consumer, err := s.session.ObserveMessages().Subscribe()
	if err != nil {
		return fmt.Errorf("observing messages: %w", err)
	}
	defer consumer.Close()
	s.readyOnce.Do(func() { close(s.ready) })

	var prune <-chan time.Time
	if s.history != nil && s.retention > 0 {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		prune = ticker.C
		s.pruneHistory(ctx)
	}

	s.logger.Info("monitor started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor stopped")
			return nil
		case p, ok := <-consumer.C:
			if !ok {
				s.logger.Info("message stream closed, monitor stopped")
				return nil
			}
			s.apply(ctx, p)
		case <-prune:
			s.pruneHistory(ctx)
		}
	}
}

// Ready is closed once Run is consuming the message stream.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Metrics returns current counters.
func (s *Service) Metrics() Metrics {
	return Metrics{
		PayloadsApplied:   s.applied.Load(),
		PayloadsUnmatched: s.unmatched.Load(),
		ConnectionLosses:  s.losses.Load(),
	}
}

// apply reconciles one stream payload.
func (s *Service) apply(ctx context.Context, p session.Payload) {
	if p.ConnectionLost {
		s.losses.Add(1)
		s.reconcileConnectionLost(ctx, p)
		return
	}

	d, err := s.repo.FindByTopic(ctx, p.Topic)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			s.unmatched.Add(1)
			s.logger.Debug("dropping payload", "topic", p.Topic, "error", session.ErrUnmatchedTopic)
			return
		}
		s.logger.Error("looking up device by topic", "topic", p.Topic, "error", err)
		return
	}

	t := telemetryOf(p)
	if err := s.repo.UpdatePayload(ctx, d.ID, t); err != nil {
		s.logger.Error("applying payload", "device_id", d.ID, "topic", p.Topic, "error", err)
		return
	}
	s.applied.Add(1)
	s.logger.Debug("payload applied", "device_id", d.ID, "topic", p.Topic, "status", t.Status)

	if s.history != nil {
		if err := s.history.Record(ctx, d.ID, p.Topic, t, p.ReceivedAt); err != nil {
			s.logger.Error("recording telemetry history", "device_id", d.ID, "error", err)
		}
	}
	if s.sink != nil {
		s.sink.WriteTelemetry(influxdb.TelemetryPoint{
			DeviceID:    d.ID,
			DeviceName:  d.Name,
			Topic:       p.Topic,
			Time:        t.Time,
			Status:      t.Status,
			Temperature: t.Temperature,
			Message:     t.Message,
			ReceivedAt:  p.ReceivedAt,
		})
	}
	s.broadcast(ChannelTelemetry, TelemetryEvent{
		DeviceID:   d.ID,
		Topic:      p.Topic,
		Telemetry:  t,
		ReceivedAt: p.ReceivedAt,
	})
}

// reconcileConnectionLost applies the synthetic loss payload to every
// subscribed device, then resets all devices. A loss from an earlier
// connection is skipped once the session has reconnected, since the
// connect already reset the devices.
func (s *Service) reconcileConnectionLost(ctx context.Context, p session.Payload) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	if s.superseded(p.Epoch) {
		s.logger.Info("connection loss superseded by reconnect", "epoch", p.Epoch)
		return
	}
	s.logger.Warn("reconciling devices after connection loss")

	s.setConnected(ctx, false)
	n, err := s.repo.UpdateOnConnectionLost(ctx, telemetryOf(p))
	if err != nil {
		s.logger.Error("marking devices connection lost", "error", err)
	}
	s.resetAll(ctx)

	s.logger.Info("devices reconciled after connection loss", "previously_subscribed", n)
	s.broadcast(ChannelDeviceChanged, DeviceEvent{Action: ActionReconciled, Reason: "connection_lost"})
}

// superseded reports whether the session has reconnected since epoch.
// A connect still in flight or one that failed does not count.
func (s *Service) superseded(epoch uint64) bool {
	if s.session.Epoch() == epoch {
		return false
	}
	switch s.session.State() {
	case session.StateConnected, session.StateDisconnecting:
		return true
	}
	return false
}

// resetAll clears every subscribed flag and sets every status to Offline.
func (s *Service) resetAll(ctx context.Context) {
	if _, err := s.repo.UnsubscribeAll(ctx); err != nil {
		s.logger.Error("clearing subscriptions", "error", err)
	}
	if _, err := s.repo.SetStatusToAll(ctx, device.StatusOffline); err != nil {
		s.logger.Error("setting devices offline", "error", err)
	}
}

func (s *Service) setConnected(ctx context.Context, connected bool) {
	if err := s.repo.ChangeConnectionStatus(ctx, connected); err != nil {
		s.logger.Error("storing connection status", "connected", connected, "error", err)
	}
}

func (s *Service) handleStateChange(from, to session.State) {
	now := time.Now().UTC()
	s.logger.Info("session state changed", "from", from, "to", to)
	if s.sink != nil {
		s.sink.WriteSessionState(from.String(), to.String(), now)
	}
	s.broadcast(ChannelSessionState, StateEvent{
		From:      from.String(),
		To:        to.String(),
		Connected: to == session.StateConnected,
		At:        now,
	})
}

func (s *Service) pruneHistory(ctx context.Context) {
	n, err := s.history.Prune(ctx, s.retention)
	if err != nil {
		s.logger.Error("pruning telemetry history", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("telemetry history pruned", "rows", n)
	}
}

func (s *Service) broadcast(channel string, payload any) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(channel, payload)
	}
}

func telemetryOf(p session.Payload) device.Telemetry {
	return device.Telemetry{
		Time:        p.Time,
		Status:      p.Status,
		Temperature: p.Temperature,
		Message:     p.Message,
	}
}
