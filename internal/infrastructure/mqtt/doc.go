// Package mqtt adapts the Eclipse Paho client into a callback-style
// transport for the session manager.
//
// Operations (Connect, Disconnect, Subscribe, Unsubscribe, Publish) return
// at once and report their outcome through an onResult callback. Inbound
// messages and connection loss arrive through the callbacks installed
// with SetCallback. Subscriptions carry no per-topic handler; every
// message goes to the one message callback.
//
// Automatic reconnection is off. A dropped connection is reported once and
// it is up to the owner to connect again, since subscriptions do not
// survive it (clean session).
//
// Usage:
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetCallback(onMessage, onLost, nil)
//	client.Connect("", "", func(err error) {
//	    if err != nil {
//	        log.Printf("connect failed: %v", err)
//	    }
//	})
package mqtt
