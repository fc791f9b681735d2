// Package mqttbus bridges the in-process message broker and MQTT.
//
// Outbound, every broker event is mirrored as JSON to
// {prefix}/event/{topic with dots as slashes}. Replies to bus requests are
// private to the requester and never reach the mirror.
//
// Inbound, messages on {prefix}/command/state and {prefix}/command/tag are
// turned into "state.request", "tag.get" or "tag.set" bus requests. The
// reply is published on {prefix}/response/{kind}/{request_id}.
//
//	{"request_id": "r-1", "target": "RUNNING", "reason": "operator"}
//	{"request_id": "r-2", "op": "set", "name": "recipe.id", "value": 7}
//	{"request_id": "r-3", "op": "get", "name": "gas.pressure"}
//
// A command without request_id gets a generated one.
package mqttbus
