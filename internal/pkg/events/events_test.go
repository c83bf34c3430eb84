package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter is a test writer that records messages written.
type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherKeysByExpedition(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(fw)

	err := p.Publish(context.Background(), Event{
		Type:         Joined,
		ExpeditionID: "exp-1",
		CharacterID:  "char-9",
		Data:         map[string]any{"members": 3},
	})
	require.NoError(t, err)
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, "exp-1", string(fw.msgs[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &decoded))
	assert.Equal(t, Joined, decoded.Type)
	assert.Equal(t, "char-9", decoded.CharacterID)
	assert.EqualValues(t, 3, decoded.Data["members"])

	require.NoError(t, p.Close())
	assert.True(t, fw.closed)
}

func TestKafkaPublisherWriteError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisherWithWriter(fw)

	err := p.Publish(context.Background(), Event{Type: Left, ExpeditionID: "exp-1"})
	assert.ErrorContains(t, err, "broker down")
}

func TestEmitSwallowsPublishFailure(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisherWithWriter(fw)

	assert.NotPanics(t, func() {
		Emit(context.Background(), p, Event{Type: Terminated, ExpeditionID: "exp-1"})
		Emit(context.Background(), nil, Event{Type: Terminated, ExpeditionID: "exp-1"})
		Emit(context.Background(), LogPublisher{}, Event{Type: Created, ExpeditionID: "exp-2", Data: map[string]any{"name": "Nord"}})
	})
}

func TestEmitStampsTime(t *testing.T) {
	fw := &fakeWriter{}
	Emit(context.Background(), NewKafkaPublisherWithWriter(fw), Event{Type: Locked, ExpeditionID: "exp-3"})

	require.Len(t, fw.msgs, 1)
	var decoded Event
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &decoded))
	assert.False(t, decoded.At.IsZero())
}
