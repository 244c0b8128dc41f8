// Package config loads and validates DeviceLink configuration.
//
// Configuration is layered: built-in defaults, then the YAML file, then
// DEVICELINK_* environment variables. Broker credentials and the JWT secret
// should come from the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.BrokerURI())
package config
