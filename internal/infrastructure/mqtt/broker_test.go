package mqtt

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
)

// testBroker is an embedded MQTT broker on a free loopback port.
type testBroker struct {
	server *mochi.Server
	host   string
	port   int
	once   sync.Once
}

// startTestBroker starts an embedded broker that accepts any client.
func startTestBroker(t *testing.T) *testBroker {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() //nolint:errcheck // Port handed to the broker below

	host, portStr, _ := net.SplitHostPort(addr) //nolint:errcheck // Address from net.Listen
	port, _ := strconv.Atoi(portStr)             //nolint:errcheck // Numeric port from net.Listen

	server := mochi.New(&mochi.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("adding auth hook: %v", err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "test", Address: addr})); err != nil {
		t.Fatalf("adding listener: %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("starting broker: %v", err)
	}

	b := &testBroker{server: server, host: host, port: port}
	t.Cleanup(b.Stop)
	return b
}

// Stop shuts the broker down, dropping every client connection.
func (b *testBroker) Stop() {
	b.once.Do(func() {
		b.server.Close() //nolint:errcheck // Test cleanup
	})
}

func (b *testBroker) config(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     b.host,
			Port:     b.port,
			ClientID: clientID,
		},
		QoS:            1,
		KeepAlive:      5,
		ConnectTimeout: 2,
	}
}
