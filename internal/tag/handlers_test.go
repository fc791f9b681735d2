package tag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/spraycell-core/internal/broker"
)

func TestServe_GetAndSetOverBus(t *testing.T) {
	b := broker.New(broker.Config{QueueSize: 16})
	t.Cleanup(b.Close)

	reg, err := New(testDefinitions(), map[string]Adapter{
		"plc": newFakeAdapter(nil), "motion": newFakeAdapter(nil),
	}, Options{Publisher: b})
	require.NoError(t, err)

	ids, err := reg.Serve(b)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	errorsSeen := make(chan broker.ErrorEvent, 4)
	_, err = b.Subscribe(broker.TopicError, broker.HandlerFunc(func(_ context.Context, msg broker.Message) error {
		errorsSeen <- msg.Payload.(broker.ErrorEvent)
		return nil
	}))
	require.NoError(t, err)

	ctx := context.Background()

	reply, err := b.Request(ctx, TopicSet, SetRequest{Name: "sequence.step", Value: 7}, time.Second)
	require.NoError(t, err)
	resp := reply.Payload.(Response)
	assert.True(t, resp.OK)
	require.NotNil(t, resp.Tag)
	assert.Equal(t, int64(7), resp.Tag.Value)

	reply, err = b.Request(ctx, TopicGet, GetRequest{Name: "sequence.step"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(7), reply.Payload.(Response).Tag.Value)

	// Map payloads, as decoded from JSON.
	reply, err = b.Request(ctx, TopicSet, map[string]any{"name": "spray.pressure", "value": 1.0}, time.Second)
	require.NoError(t, err)
	resp = reply.Payload.(Response)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "read-only")

	select {
	case ev := <-errorsSeen:
		assert.Equal(t, "tag", ev.Source)
		assert.Equal(t, TopicSet, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("no error event published")
	}

	reply, err = b.Request(ctx, TopicGet, GetRequest{Name: "missing"}, time.Second)
	require.NoError(t, err)
	assert.Contains(t, reply.Payload.(Response).Error, "not found")
}
