package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	// StreamName is the JetStream stream carrying room events.
	StreamName = "ROOM_EVENTS"
	// SubjectPrefix is the subject namespace; one subject per room.
	SubjectPrefix = "room.events"
)

// Subject returns the bus subject for a room.
func Subject(roomID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, roomID)
}

// Publisher writes room events to the JetStream bus for fan-out to the
// gateway and any other consumer.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates the publisher and ensures the stream exists.
func NewPublisher(nc *nats.Conn) (*Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Room chat, auction and presence events",
		Subjects:    []string{SubjectPrefix + ".*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	return &Publisher{js: js}, nil
}

// Publish wraps payload in an envelope and writes it to the room's subject.
// JetStream publish waits for the server ack, so an event that returns nil
// is durably on the bus.
func (p *Publisher) Publish(ctx context.Context, roomID string, typ Type, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}

	env := Envelope{
		EventID:   uuid.New().String(),
		RoomID:    roomID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", typ, err)
	}

	ack, err := p.js.Publish(ctx, Subject(roomID), data)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", typ, err)
	}

	log.Debug().
		Str("room_id", roomID).
		Str("event_type", string(typ)).
		Uint64("seq", ack.Sequence).
		Msg("room event published")
	return nil
}
