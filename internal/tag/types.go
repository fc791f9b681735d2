package tag

import (
	"context"
	"strings"
	"time"
)

// Type is the declared value type of a tag.
type Type string

// Tag value types. Values are stored as bool, float64, int64 and string.
const (
	TypeBool   Type = "bool"
	TypeFloat  Type = "float"
	TypeInt    Type = "int"
	TypeString Type = "string"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeBool, TypeFloat, TypeInt, TypeString:
		return true
	}
	return false
}

// Source says where a tag's value comes from.
type Source string

const (
	// SourceHardware tags are read from an Adapter by the poll cycle.
	SourceHardware Source = "hardware"

	// SourceVirtual tags are held in memory and written with Set.
	SourceVirtual Source = "virtual"
)

// Access is a tag's external write policy.
type Access string

const (
	AccessReadOnly Access = "read_only"
	AccessWritable Access = "writable"
)

// Adapter reads values from field hardware.
//
// Read must honour ctx cancellation. The registry also enforces its own
// read timeout, so a Read that ignores ctx only leaks its goroutine.
type Adapter interface {
	Read(ctx context.Context, address string) (any, error)
	IsConnected() bool
}

// Tag is an immutable snapshot of one tag.
type Tag struct {
	Name        string    `json:"name"`
	Type        Type      `json:"type"`
	Value       any       `json:"value"`
	UpdatedAt   time.Time `json:"updated_at"`
	Source      Source    `json:"source"`
	Access      Access    `json:"access"`
	Adapter     string    `json:"adapter,omitempty"`
	Address     string    `json:"address,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	Description string    `json:"description,omitempty"`

	Stale               bool   `json:"stale"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
}

// ChangeEvent is the payload of "tag.<name>.changed".
// Old is nil for the first value a tag receives.
type ChangeEvent struct {
	Name      string    `json:"name"`
	Old       any       `json:"old"`
	New       any       `json:"new"`
	Timestamp time.Time `json:"timestamp"`
}

// HardwareStatus is the payload of "hardware.status".
type HardwareStatus struct {
	Adapters  map[string]bool `json:"adapters"`
	Connected bool            `json:"connected"`
	StaleTags []string        `json:"stale_tags"`
	Timestamp time.Time       `json:"timestamp"`
}

// Status summarises registry health.
type Status struct {
	Tags         int             `json:"tags"`
	HardwareTags int             `json:"hardware_tags"`
	StaleTags    []string        `json:"stale_tags"`
	Adapters     map[string]bool `json:"adapters"`
	Connected    bool            `json:"connected"`
	Polling      bool            `json:"polling"`
	Cycles       uint64          `json:"cycles"`
	LastPoll     time.Time       `json:"last_poll,omitzero"`
	LastDuration time.Duration   `json:"last_duration"`
}

// Topics published by the registry.
const (
	TopicHardwareStatus = "hardware.status"
	topicPrefix         = "tag."
	changedSuffix       = ".changed"
)

// ChangedTopic returns the change-event topic for a tag name.
func ChangedTopic(name string) string {
	return topicPrefix + name + changedSuffix
}

// NameFromChangedTopic extracts the tag name from a change-event topic.
func NameFromChangedTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, changedSuffix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
