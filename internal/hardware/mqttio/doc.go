// Package mqttio provides a tag.Adapter fed by MQTT.
//
// Field devices (or a gateway in front of them) publish values to
// {prefix}/hardware/{adapter}/{address}. The adapter keeps the last value
// per address and serves Read from that cache, so a poll cycle never
// waits on the network. Payloads may be a JSON object with a "value"
// field, a bare JSON scalar, or plain text.
package mqttio
