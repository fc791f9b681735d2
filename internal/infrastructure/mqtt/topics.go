package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "spraycell"

// Topics builds SprayCell MQTT topics under a prefix.
//
//	{prefix}/status                         retained online/offline (LWT)
//	{prefix}/event/{broker topic as path}   mirrored broker events
//	{prefix}/command/{kind}                 inbound commands (state, tag)
//	{prefix}/response/{kind}/{request_id}   command replies
//	{prefix}/hardware/{adapter}/{address}   field values for MQTT-backed adapters
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Status returns the retained status topic.
//
// Example: spraycell/status
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// Event maps a dot-separated broker topic to its mirror topic.
//
// Example: tag.gas.pressure.changed -> spraycell/event/tag/gas/pressure/changed
func (t Topics) Event(brokerTopic string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix(), strings.ReplaceAll(brokerTopic, ".", "/"))
}

// BrokerTopic is the inverse of Event. ok is false when mqttTopic is not
// an event topic under this prefix.
func (t Topics) BrokerTopic(mqttTopic string) (string, bool) {
	rest, ok := strings.CutPrefix(mqttTopic, t.prefix()+"/event/")
	if !ok || rest == "" {
		return "", false
	}
	return strings.ReplaceAll(rest, "/", "."), true
}

// Command returns the inbound command topic for kind.
//
// Example: spraycell/command/state
func (t Topics) Command(kind string) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), kind)
}

// AllCommands matches every command topic.
//
// Pattern: spraycell/command/+
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+"
}

// CommandKind extracts kind from a command topic.
func (t Topics) CommandKind(mqttTopic string) (string, bool) {
	kind, ok := strings.CutPrefix(mqttTopic, t.prefix()+"/command/")
	if !ok || kind == "" || strings.Contains(kind, "/") {
		return "", false
	}
	return kind, true
}

// Response returns the reply topic for a command.
//
// Example: spraycell/response/state/req-42
func (t Topics) Response(kind, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", t.prefix(), kind, requestID)
}

// Hardware returns the value topic of one address on an MQTT-backed adapter.
//
// Example: spraycell/hardware/plc/DB1/pressure
func (t Topics) Hardware(adapter, address string) string {
	return fmt.Sprintf("%s/hardware/%s/%s", t.prefix(), adapter, address)
}

// AllHardware matches every value topic of one adapter.
//
// Pattern: spraycell/hardware/plc/#
func (t Topics) AllHardware(adapter string) string {
	return fmt.Sprintf("%s/hardware/%s/#", t.prefix(), adapter)
}

// HardwareAddress extracts the address from a value topic of adapter.
func (t Topics) HardwareAddress(adapter, mqttTopic string) (string, bool) {
	addr, ok := strings.CutPrefix(mqttTopic, fmt.Sprintf("%s/hardware/%s/", t.prefix(), adapter))
	if !ok || addr == "" {
		return "", false
	}
	return addr, true
}
