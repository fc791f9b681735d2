// Package api implements the read-only HTTP status API and WebSocket relay
// for SprayCell Core.
//
// This package provides:
//   - REST endpoints for health, status, tags and the state machine
//   - Prometheus exposition at /metrics
//   - WebSocket hub relaying broker events to clients by topic pattern
//   - Middleware: request ids, access logging with panic recovery, CORS
//
// # Architecture
//
// The API never changes process state. Transition requests and tag writes
// go over the message broker (or MQTT via bridges/mqttbus); the API only
// reads the tag registry, the coordinator and the transition audit log.
//
// # WebSocket protocol
//
//	-> {"type":"subscribe","id":"1","payload":{"channels":["tag.**","state.changed"]}}
//	<- {"type":"response","id":"1","payload":{"subscribed":["tag.**","state.changed"]}}
//	<- {"type":"event","event_type":"state.changed","payload":{...}}
//
// Channels are broker topic patterns: "*" matches one segment and "**"
// matches the rest of the topic.
package api
