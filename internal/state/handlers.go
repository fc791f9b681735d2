package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/spraycell-core/internal/broker"
)

// TopicRequest is the bus topic served for transition requests.
const TopicRequest = "state.request"

// TransitionRequest is the payload of a "state.request" request.
type TransitionRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
	Force  bool   `json:"force"`
}

// Bus is the part of the broker the coordinator's handlers need.
type Bus interface {
	Subscribe(pattern string, h broker.Handler) (string, error)
	Reply(req broker.Message, payload any) error
	PublishError(source, topic string, err error)
}

// Serve subscribes the transition request handler and the tag-change
// watcher that drives auto_from transitions. It returns the subscription ids.
func (c *Coordinator) Serve(bus Bus) ([]string, error) {
	reqID, err := bus.Subscribe(TopicRequest, &requestHandler{coord: c, bus: bus})
	if err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", TopicRequest, err)
	}
	ids := []string{reqID}

	autoID, err := bus.Subscribe("tag.**", &autoHandler{coord: c})
	if err != nil {
		return ids, fmt.Errorf("subscribing tag changes: %w", err)
	}
	return append(ids, autoID), nil
}

type requestHandler struct {
	coord *Coordinator
	bus   Bus
}

func (h *requestHandler) Handle(ctx context.Context, msg broker.Message) error {
	req, err := decodeRequest(msg.Payload)
	if err != nil {
		h.bus.PublishError("state", msg.Topic, err)
		if msg.IsRequest() {
			return h.bus.Reply(msg, TransitionRecord{
				Timestamp:        msg.Timestamp,
				FailedConditions: []string{},
				Rejection:        err.Error(),
			})
		}
		return err
	}

	reason := req.Reason
	if reason == "" {
		reason = "bus request"
	}
	rec := h.coord.RequestTransition(ctx, req.Target, reason, req.Force)
	if !msg.IsRequest() {
		return nil
	}
	return h.bus.Reply(msg, rec)
}

func decodeRequest(payload any) (TransitionRequest, error) {
	var req TransitionRequest
	switch p := payload.(type) {
	case TransitionRequest:
		req = p
	case *TransitionRequest:
		if p != nil {
			req = *p
		}
	case map[string]any:
		req.Target, _ = p["target"].(string)
		req.Reason, _ = p["reason"].(string)
		req.Force, _ = p["force"].(bool)
	case string:
		req.Target = p
	default:
		return req, fmt.Errorf("%w: unsupported payload %T", ErrInvalidRequest, payload)
	}
	if strings.TrimSpace(req.Target) == "" {
		return req, fmt.Errorf("%w: target is required", ErrInvalidRequest)
	}
	return req, nil
}

// autoHandler re-checks auto_from transitions whenever a tag changes.
type autoHandler struct {
	coord *Coordinator
}

func (h *autoHandler) Handle(ctx context.Context, msg broker.Message) error {
	if !strings.HasSuffix(msg.Topic, ".changed") {
		return nil
	}
	if rec, ok := h.coord.CheckAuto(ctx); ok {
		h.coord.logger.Debug("automatic transition", "from", rec.From, "to", rec.To, "trigger", msg.Topic)
	}
	return nil
}
