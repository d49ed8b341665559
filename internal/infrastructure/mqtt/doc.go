// Package mqtt connects the X10 bridge to an MQTT broker.
//
// It wraps paho.mqtt.golang with what the bridge needs and nothing more:
// publish with a bounded wait, subscriptions that survive reconnects, and a
// retained status topic doubling as the Last Will so a crashed bridge shows
// as offline.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, bridge.HealthTopic())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(bridge.CommandSubscribeTopic(), 1, handleCommand)
//
// Enable TLS (broker.tls) whenever the broker is not on the same host.
package mqtt
