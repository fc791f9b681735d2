package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by SprayCell.
const (
	MeasurementTagValues   = "tag_values"
	MeasurementTransitions = "state_transitions"
)

// WriteTagValue records one tag value. Values that are not bool, numeric
// or string are skipped. The write is non-blocking.
func (c *Client) WriteTagValue(name string, value any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	if p := tagValuePoint(name, value, ts); p != nil {
		c.writeAPI.WritePoint(p)
		c.points.Add(1)
	}
}

// WriteTransition records one transition outcome. The write is non-blocking.
func (c *Client) WriteTransition(from, to, reason string, accepted, forced bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(transitionPoint(from, to, reason, accepted, forced, ts))
	c.points.Add(1)
}

// tagValuePoint builds a tag_values point. The value lands in a field
// named after its kind so that a measurement never mixes field types.
func tagValuePoint(name string, value any, ts time.Time) *write.Point {
	var field string
	var v any
	switch x := value.(type) {
	case bool:
		field, v = "bool", x
	case float64:
		field, v = "float", x
	case float32:
		field, v = "float", float64(x)
	case int64:
		field, v = "int", x
	case int:
		field, v = "int", int64(x)
	case int32:
		field, v = "int", int64(x)
	case string:
		field, v = "string", x
	default:
		return nil
	}
	return write.NewPoint(MeasurementTagValues,
		map[string]string{"tag": name},
		map[string]any{field: v},
		ts,
	)
}

// transitionPoint builds a state_transitions point. An initial entry has
// no from state and is tagged from="-".
func transitionPoint(from, to, reason string, accepted, forced bool, ts time.Time) *write.Point {
	if from == "" {
		from = "-"
	}
	return write.NewPoint(MeasurementTransitions,
		map[string]string{"from": from, "to": to},
		map[string]any{
			"accepted": accepted,
			"forced":   forced,
			"reason":   reason,
		},
		ts,
	)
}
