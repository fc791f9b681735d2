// Package tag implements the tag registry: the bridge between logical tag
// names and live hardware or software values.
//
// Each tag has a declared type (bool, float, int, string), a source
// (hardware or virtual) and a write policy. Hardware tags are populated by
// the poll cycle through a pluggable Adapter and are never writable from
// outside. Virtual tags are written with Set.
//
// Every write that changes a value beyond tolerance publishes one
// "tag.<name>.changed" event carrying a ChangeEvent. After each poll cycle
// the aggregate adapter status is published on "hardware.status" whenever
// it differs from the previous cycle.
//
// Reads never block writers: each tag keeps an immutable snapshot that is
// swapped atomically under a per-tag writer lock.
package tag
