package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
)

// Client adapts paho.mqtt.golang to a callback-style transport.
//
// Every operation returns immediately and reports its outcome exactly once
// through an onResult callback invoked on a library-owned goroutine.
// Inbound messages, unsolicited connection loss and publish completion are
// reported through the callbacks installed with SetCallback.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Callbacks may run concurrently with any method call.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	clientID string

	// credentials for the next connect, read by paho's credentials provider.
	username string
	password string
	credMu   sync.RWMutex

	onMessage          func(topic string, payload []byte)
	onConnectionLost   func(err error)
	onDeliveryComplete func(topic string)
	callbackMu         sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// New builds a client for the configured broker without connecting.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Disconnected client ready for Connect
func New(cfg config.MQTTConfig) *Client {
	c := &Client{
		cfg:      cfg,
		clientID: ClientID(cfg),
	}

	opts := buildClientOptions(cfg, c.clientID)
	opts.SetCredentialsProvider(c.credentials)
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.handleMessage(msg)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// ClientID returns the MQTT client identifier presented to the broker.
func (c *Client) ClientID() string {
	return c.clientID
}

// BrokerURI returns the broker address this client connects to.
func (c *Client) BrokerURI() string {
	return c.cfg.BrokerURI()
}

// Connect opens the connection using the given credentials.
// Empty username and password connect anonymously.
func (c *Client) Connect(username, password string, onResult func(err error)) {
	c.credMu.Lock()
	c.username = username
	c.password = password
	c.credMu.Unlock()

	token, err := c.call(func() pahomqtt.Token { return c.client.Connect() })
	if err != nil {
		c.complete("connect", onResult, fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		return
	}
	go func() {
		<-token.Done()
		err := token.Error()
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		c.complete("connect", onResult, err)
	}()
}

// Disconnect closes the connection. When the client is not connected the
// result is ErrNotConnected.
func (c *Client) Disconnect(onResult func(err error)) {
	if !c.client.IsConnectionOpen() {
		c.complete("disconnect", onResult, ErrNotConnected)
		return
	}
	go func() {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrClientPanic, r)
				}
			}()
			c.client.Disconnect(defaultDisconnectQuiesce)
		}()
		c.complete("disconnect", onResult, err)
	}()
}

// Close disconnects if connected and waits for the disconnect to finish.
func (c *Client) Close() error {
	if c.client == nil || !c.client.IsConnectionOpen() {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// SetCallback installs the inbound callbacks. Any of them may be nil, and
// SetCallback(nil, nil, nil) removes all of them.
func (c *Client) SetCallback(
	onMessage func(topic string, payload []byte),
	onConnectionLost func(err error),
	onDeliveryComplete func(topic string),
) {
	c.callbackMu.Lock()
	c.onMessage = onMessage
	c.onConnectionLost = onConnectionLost
	c.onDeliveryComplete = onDeliveryComplete
	c.callbackMu.Unlock()
}

// IsConnected reports whether the connection to the broker is up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnectionOpen()
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetLogger sets a logger for callback panics and dropped results.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) credentials() (string, string) {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.username, c.password
}

// handleMessage forwards an inbound message to the message callback.
// It runs on paho's router goroutine, so a slow callback holds back
// later messages rather than reordering them.
func (c *Client) handleMessage(msg pahomqtt.Message) {
	c.callbackMu.RLock()
	callback := c.onMessage
	c.callbackMu.RUnlock()
	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT message callback panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}
	}()
	callback(msg.Topic(), msg.Payload())
}

func (c *Client) handleConnectionLost(err error) {
	c.callbackMu.RLock()
	callback := c.onConnectionLost
	c.callbackMu.RUnlock()
	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT connection-lost callback panic recovered", "panic", r)
			}
		}
	}()
	callback(err)
}

func (c *Client) handleDeliveryComplete(topic string) {
	c.callbackMu.RLock()
	callback := c.onDeliveryComplete
	c.callbackMu.RUnlock()
	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT delivery callback panic recovered", "topic", topic, "panic", r)
			}
		}
	}()
	callback(topic)
}

// call invokes a paho method, turning a panic into an error.
func (c *Client) call(fn func() pahomqtt.Token) (token pahomqtt.Token, err error) {
	defer func() {
		if r := recover(); r != nil {
			token = nil
			err = fmt.Errorf("%w: %v", ErrClientPanic, r)
		}
	}()
	return fn(), nil
}

// complete delivers an operation result. A nil onResult drops it.
func (c *Client) complete(op string, onResult func(err error), err error) {
	if onResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT result callback panic recovered", "operation", op, "panic", r)
			}
		}
	}()
	onResult(err)
}
