package mqttbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/spraycell-core/internal/state"
	"github.com/nerrad567/spraycell-core/internal/tag"
)

// Command kinds accepted on {prefix}/command/{kind}.
const (
	KindState = "state"
	KindTag   = "tag"
)

// Command is an inbound command. Fields not used by its kind are ignored.
type Command struct {
	RequestID string `json:"request_id"`

	// state
	Target string `json:"target"`
	Reason string `json:"reason"`
	Force  bool   `json:"force"`

	// tag: op is "get" or "set" (default "set" when value is present)
	Op    string `json:"op"`
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Response is published on {prefix}/response/{kind}/{request_id}.
type Response struct {
	RequestID string    `json:"request_id"`
	OK        bool      `json:"ok"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// handleCommand runs on a paho goroutine; the bus request runs on its own
// goroutine so a slow handler never stalls MQTT delivery.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	kind, ok := b.mqtt.Topics().CommandKind(topic)
	if !ok {
		return fmt.Errorf("not a command topic: %s", topic)
	}
	b.commands.Add(1)

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.commandErrors.Add(1)
		b.logger.Warn("invalid command payload", "topic", topic, "error", err)
		b.respond(kind, Response{RequestID: uuid.NewString(), Error: fmt.Sprintf("invalid command payload: %v", err)})
		return nil
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}

	b.inflightMu.Lock()
	defer b.inflightMu.Unlock()
	if b.stopped {
		return nil
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		resp := b.execute(kind, cmd)
		if !resp.OK {
			b.commandErrors.Add(1)
		}
		b.respond(kind, resp)
	}()
	return nil
}

// execute turns cmd into a bus request and waits for the reply.
func (b *Bridge) execute(kind string, cmd Command) Response {
	resp := Response{RequestID: cmd.RequestID}

	var (
		busTopic string
		request  any
	)
	switch kind {
	case KindState:
		busTopic = state.TopicRequest
		request = state.TransitionRequest{Target: cmd.Target, Reason: cmd.Reason, Force: cmd.Force}
	case KindTag:
		op := cmd.Op
		if op == "" && cmd.Value != nil {
			op = "set"
		}
		switch op {
		case "get":
			busTopic = tag.TopicGet
			request = tag.GetRequest{Name: cmd.Name}
		case "set":
			busTopic = tag.TopicSet
			request = tag.SetRequest{Name: cmd.Name, Value: cmd.Value}
		default:
			resp.Error = fmt.Sprintf("unknown tag op %q", cmd.Op)
			return resp
		}
	default:
		resp.Error = fmt.Sprintf("unknown command kind %q", kind)
		return resp
	}

	reply, err := b.bus.Request(b.ctx, busTopic, request, b.opts.CommandTimeout)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	resp.Result = reply.Payload
	switch r := reply.Payload.(type) {
	case state.TransitionRecord:
		resp.OK = r.Accepted
		resp.Error = r.Rejection
	case tag.Response:
		resp.OK = r.OK
		resp.Error = r.Error
	default:
		resp.OK = true
	}
	return resp
}

func (b *Bridge) respond(kind string, resp Response) {
	resp.Timestamp = time.Now().UTC()
	data, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("encoding command response", "request_id", resp.RequestID, "error", err)
		return
	}
	topic := b.mqtt.Topics().Response(kind, resp.RequestID)
	if err := b.mqtt.Publish(topic, data, b.mqtt.QoS(), false); err != nil {
		b.logger.Warn("publishing command response failed", "topic", topic, "error", err)
	}
}
