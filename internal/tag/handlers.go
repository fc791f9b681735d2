package tag

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/spraycell-core/internal/broker"
)

// Request topics served by Serve.
const (
	TopicGet = "tag.get"
	TopicSet = "tag.set"
)

// GetRequest is the payload of a "tag.get" request.
type GetRequest struct {
	Name string `json:"name"`
}

// SetRequest is the payload of a "tag.set" request.
type SetRequest struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Response is the reply to "tag.get" and "tag.set" requests.
type Response struct {
	OK    bool   `json:"ok"`
	Tag   *Tag   `json:"tag,omitempty"`
	Error string `json:"error,omitempty"`
}

// Bus is the part of the broker the request handlers need.
type Bus interface {
	Subscribe(pattern string, h broker.Handler) (string, error)
	Reply(req broker.Message, payload any) error
	PublishError(source, topic string, err error)
}

// Serve subscribes the registry's request handlers on bus and returns
// the subscription ids.
func (r *Registry) Serve(bus Bus) ([]string, error) {
	getID, err := bus.Subscribe(TopicGet, &getHandler{reg: r, bus: bus})
	if err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", TopicGet, err)
	}
	setID, err := bus.Subscribe(TopicSet, &setHandler{reg: r, bus: bus})
	if err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", TopicSet, err)
	}
	return []string{getID, setID}, nil
}

type getHandler struct {
	reg *Registry
	bus Bus
}

func (h *getHandler) Handle(_ context.Context, msg broker.Message) error {
	var name string
	switch p := msg.Payload.(type) {
	case GetRequest:
		name = p.Name
	case *GetRequest:
		name = p.Name
	case map[string]any:
		name, _ = p["name"].(string)
	case string:
		name = p
	}

	t, err := h.reg.Tag(name)
	return respond(h.bus, msg, t, err)
}

type setHandler struct {
	reg *Registry
	bus Bus
}

func (h *setHandler) Handle(ctx context.Context, msg broker.Message) error {
	req, err := decodeSetRequest(msg.Payload)
	if err == nil {
		err = h.reg.Set(ctx, req.Name, req.Value)
	}

	var t Tag
	if err == nil {
		t, err = h.reg.Tag(req.Name)
	}
	return respond(h.bus, msg, t, err)
}

func decodeSetRequest(payload any) (SetRequest, error) {
	switch p := payload.(type) {
	case SetRequest:
		return p, nil
	case *SetRequest:
		return *p, nil
	case map[string]any:
		name, _ := p["name"].(string)
		return SetRequest{Name: name, Value: p["value"]}, nil
	}
	return SetRequest{}, fmt.Errorf("%w: unsupported %s payload %T", ErrType, TopicSet, payload)
}

// respond replies to requests and reports failures on the error topic.
func respond(bus Bus, msg broker.Message, t Tag, err error) error {
	if err != nil {
		bus.PublishError("tag", msg.Topic, err)
	}
	if !msg.IsRequest() {
		return err
	}

	resp := Response{OK: err == nil}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Tag = &t
	}
	if rerr := bus.Reply(msg, resp); rerr != nil {
		return errors.Join(err, rerr)
	}
	return nil
}
