// Package mqtt connects SprayCell Core to an external MQTT broker.
//
// The in-process message broker stays the system's backbone; MQTT is the
// plant-facing edge. It carries three kinds of traffic:
//   - mirrored broker events and command replies (bridges/mqttbus)
//   - inbound state and tag commands (bridges/mqttbus)
//   - field values for MQTT-backed hardware adapters (hardware/mqttio)
//
// The client reconnects with backoff, restores subscriptions after each
// reconnect, and keeps a retained {prefix}/status message current: online
// on connect, offline on Close, and offline via Last Will on a crash.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
