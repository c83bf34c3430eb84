// Package events publishes expedition lifecycle events to an external stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Type names one lifecycle event.
type Type string

// Lifecycle events.
const (
	Created         Type = "created"
	Joined          Type = "joined"
	Left            Type = "left"
	Terminated      Type = "terminated"
	Transferred     Type = "transferred"
	PartialTransfer Type = "partial_transfer"
	VoteToggled     Type = "vote_toggled"
	ThresholdMet    Type = "threshold_reached"
	Locked          Type = "locked"
	Departed        Type = "departed"
	Returned        Type = "returned"
	DurationEdited  Type = "duration_edited"
)

// Event is one lifecycle fact about an expedition.
type Event struct {
	Type         Type           `json:"type"`
	ExpeditionID string         `json:"expeditionId"`
	ActorID      string         `json:"actorId,omitempty"`
	CharacterID  string         `json:"characterId,omitempty"`
	At           time.Time      `json:"at"`
	Data         map[string]any `json:"data,omitempty"`
}

// Publisher is used by services to publish events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON events keyed by expedition id, so events of one
// expedition land on the same partition in order.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w}
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{Key: []byte(e.ExpeditionID), Value: b}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the global logger only.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(ctx context.Context, e Event) error {
	ev := log.Debug().
		Str("event", string(e.Type)).
		Str("expedition_id", e.ExpeditionID)
	if len(e.Data) > 0 {
		ev = ev.Dict("data", zerolog.Dict().Fields(e.Data))
	}
	ev.Msg("published event")
	return nil
}

// Close implements Publisher.
func (LogPublisher) Close() error { return nil }

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = LogPublisher{}
)

// Emit logs e as an expedition_event and publishes it. A publish failure is
// logged and swallowed: the action that produced the event already happened.
func Emit(ctx context.Context, p Publisher, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	ev := log.Info().
		Str("event", string(e.Type)).
		Str("expedition_id", e.ExpeditionID)
	if e.ActorID != "" {
		ev = ev.Str("user_id", e.ActorID)
	}
	if e.CharacterID != "" {
		ev = ev.Str("character_id", e.CharacterID)
	}
	if len(e.Data) > 0 {
		ev = ev.Fields(e.Data)
	}
	ev.Msg("expedition_event")

	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("event", string(e.Type)).Str("expedition_id", e.ExpeditionID).Msg("Failed to publish event")
	}
}
