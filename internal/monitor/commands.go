package monitor

import (
	"context"
	"fmt"

	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/session"
)

// DeviceUpdate holds the user-editable fields of a device. Nil fields are
// left unchanged.
type DeviceUpdate struct {
	Name    *string `json:"name,omitempty"`
	Brand   *string `json:"brand,omitempty"`
	Type    *string `json:"type,omitempty"`
	TopicID *string `json:"topic_id,omitempty"`
}

// Connect opens the session with the configured credentials.
func (s *Service) Connect(ctx context.Context) error {
	return s.ConnectWithCredentials(ctx, s.username, s.password)
}

// ConnectWithCredentials opens the session with explicit credentials.
//
// On success the stored connection flag is set and subscribed flags left
// by an earlier process are cleared. Stored telemetry is kept as last
// known.
func (s *Service) ConnectWithCredentials(ctx context.Context, username, password string) error {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	if err := s.session.Connect(ctx, username, password); err != nil {
		return err
	}

	s.setConnected(ctx, true)
	if n, err := s.repo.UnsubscribeAll(ctx); err != nil {
		s.logger.Error("clearing stale subscriptions", "error", err)
	} else if n > 0 {
		s.logger.Info("cleared stale subscriptions", "devices", n)
		s.broadcast(ChannelDeviceChanged, DeviceEvent{Action: ActionReconciled, Reason: "connected"})
	}
	return nil
}

// Disconnect closes the session and resets every device.
func (s *Service) Disconnect(ctx context.Context) error {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	if err := s.session.Disconnect(ctx); err != nil {
		return err
	}

	s.setConnected(ctx, false)
	s.resetAll(ctx)
	s.broadcast(ChannelDeviceChanged, DeviceEvent{Action: ActionReconciled, Reason: "disconnected"})
	return nil
}

// SubscribeDevice subscribes to a device's topic and stores the outcome.
//
// Returns:
//   - bool: whether the broker acknowledged the subscription
//   - error: device.ErrDeviceNotFound or a session precondition error
func (s *Service) SubscribeDevice(ctx context.Context, id int64) (bool, error) {
	s.reconcileMu.RLock()
	defer s.reconcileMu.RUnlock()

	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	ok, err := s.session.Subscribe(ctx, d.TopicID, s.qos)
	if err != nil {
		return false, err
	}

	if err := s.repo.ChangeSubscribed(ctx, id, ok); err != nil {
		s.logger.Error("storing subscription", "device_id", id, "subscribed", ok, "error", err)
	}
	if ok {
		s.broadcast(ChannelDeviceChanged, DeviceEvent{Action: ActionSubscribed, DeviceID: id})
	}
	return ok, nil
}

// UnsubscribeDevice removes a device's subscription.
//
// When another subscribed device shares the topic the broker subscription
// is kept and only this device is marked unsubscribed.
func (s *Service) UnsubscribeDevice(ctx context.Context, id int64) (bool, error) {
	s.reconcileMu.RLock()
	defer s.reconcileMu.RUnlock()

	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	shared, err := s.topicShared(ctx, d.TopicID, id)
	if err != nil {
		return false, err
	}
	if !shared {
		ok, err := s.session.Unsubscribe(ctx, d.TopicID)
		if err != nil || !ok {
			return false, err
		}
	}

	if err := s.repo.MarkUnsubscribed(ctx, id); err != nil {
		s.logger.Error("storing unsubscription", "device_id", id, "error", err)
	}
	s.broadcast(ChannelDeviceChanged, DeviceEvent{Action: ActionUnsubscribed, DeviceID: id})
	return true, nil
}

// Publish sends a message through the session.
func (s *Service) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if err := mqtt.ValidateTopicName(topic); err != nil {
		return fmt.Errorf("%w: %w", session.ErrInvalidTopic, err)
	}
	return s.session.Publish(ctx, topic, payload, qos, retained)
}

// CreateDevice stores a new device. It starts unsubscribed.
func (s *Service) CreateDevice(ctx context.Context, d *device.Device) error {
	d.Subscribed = false
	if err := s.repo.Insert(ctx, d); err != nil {
		return err
	}
	s.logger.Info("device created", "device_id", d.ID, "topic", d.TopicID)
	s.broadcast(ChannelDeviceChanged, DeviceEvent{Action: ActionCreated, DeviceID: d.ID, Device: d})
	return nil
}

// UpdateDevice applies u to a device. Moving a subscribed device to a new
// topic drops its subscription; the old topic is unsubscribed when no
// other subscribed device uses it.
func (s *Service) UpdateDevice(ctx context.Context, id int64, u DeviceUpdate) (*device.Device, error) {
	s.reconcileMu.RLock()
	defer s.reconcileMu.RUnlock()

	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oldTopic, wasSubscribed := d.TopicID, d.Subscribed

	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Brand != nil {
		d.Brand = *u.Brand
	}
	if u.Type != nil {
		d.Type = *u.Type
	}
	if u.TopicID != nil {
		d.TopicID = *u.TopicID
	}
	if err := device.ValidateDevice(d); err != nil {
		return nil, err
	}

	retopic := d.TopicID != oldTopic
	if retopic && wasSubscribed {
		s.releaseTopic(ctx, oldTopic, id)
		d.Subscribed = false
	}

	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	s.broadcast(ChannelDeviceChanged, DeviceEvent{Action: ActionUpdated, DeviceID: id, Device: d})
	return d, nil
}

// DeleteDevice removes a device, releasing its topic if it was the last
// subscribed device using it.
func (s *Service) DeleteDevice(ctx context.Context, id int64) error {
	s.reconcileMu.RLock()
	defer s.reconcileMu.RUnlock()

	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Subscribed {
		s.releaseTopic(ctx, d.TopicID, id)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("device deleted", "device_id", id)
	s.broadcast(ChannelDeviceChanged, DeviceEvent{Action: ActionDeleted, DeviceID: id})
	return nil
}

// SessionStatus describes the session for the API.
type SessionStatus struct {
	State         session.State `json:"state"`
	Connected     bool          `json:"connected"`
	Subscriptions []string      `json:"subscriptions"`
	Metrics       Metrics       `json:"metrics"`
}

// Status returns the current session state and counters.
func (s *Service) Status() SessionStatus {
	state := s.session.State()
	return SessionStatus{
		State:         state,
		Connected:     state == session.StateConnected,
		Subscriptions: s.session.Subscriptions(),
		Metrics:       s.Metrics(),
	}
}

// Devices returns every device ordered by id.
func (s *Service) Devices(ctx context.Context) ([]device.Device, error) {
	return s.repo.GetAll(ctx)
}

// Device returns one device.
func (s *Service) Device(ctx context.Context, id int64) (*device.Device, error) {
	return s.repo.GetByID(ctx, id)
}

// DeviceHistory returns recent telemetry for a device, newest first.
func (s *Service) DeviceHistory(ctx context.Context, id int64, limit int) ([]device.HistoryEntry, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.history.GetHistory(ctx, id, limit)
}

// releaseTopic unsubscribes topic unless another subscribed device uses
// it. Failures are logged; the caller proceeds regardless.
func (s *Service) releaseTopic(ctx context.Context, topic string, exceptID int64) {
	shared, err := s.topicShared(ctx, topic, exceptID)
	if err != nil || shared {
		return
	}
	if s.session.State() != session.StateConnected {
		return
	}

	ok, err := s.session.Unsubscribe(ctx, topic)
	if err != nil || !ok {
		s.logger.Warn("releasing topic failed", "topic", topic, "error", err)
	}
}

// topicShared reports whether a subscribed device other than exceptID
// uses topic.
func (s *Service) topicShared(ctx context.Context, topic string, exceptID int64) (bool, error) {
	devices, err := s.repo.GetAll(ctx)
	if err != nil {
		return false, fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if d.ID != exceptID && d.Subscribed && d.TopicID == topic {
			return true, nil
		}
	}
	return false, nil
}
