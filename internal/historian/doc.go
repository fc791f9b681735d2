// Package historian records tag values and state transitions outside the
// process.
//
// It subscribes to the message broker like any other component:
//   - tag.<name>.changed   -> InfluxDB "tag_values"
//   - state.changed        -> SQLite transition_log and InfluxDB "state_transitions"
//   - state.rejected       -> the same sinks, with accepted=false
//
// Writes are best-effort. Each subscription has its own delivery goroutine
// and bounded queue in the broker, so a slow sink drops history instead of
// slowing down publishers. InfluxDB writes are batched asynchronously by
// the client; SQLite inserts run with a short per-write timeout.
package historian
