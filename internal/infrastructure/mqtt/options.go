package mqtt

import (
	"crypto/tls"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending work on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	defaultKeepAlive = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// subackFailure is the SUBACK return code for a rejected subscription.
	subackFailure = 0x80

	tlsMinVersion = tls.VersionTLS12

	clientIDPrefix = "devicelink-"
)

// ClientID returns the configured client id, or a generated one when the
// configuration leaves it empty.
func ClientID(cfg config.MQTTConfig) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	return clientIDPrefix + uuid.NewString()[:8]
}

// buildClientOptions creates paho options for a session-managed client.
//
// Reconnection is disabled: a lost connection is reported once through
// the connection-lost callback and the owner decides whether to connect
// again. Handlers run in arrival order on a single goroutine.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURI())
	opts.SetClientID(clientID)

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)
	opts.SetResumeSubs(false)

	connectTimeout := defaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		connectTimeout = time.Duration(cfg.ConnectTimeout) * time.Second
	}
	opts.SetConnectTimeout(connectTimeout)

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
