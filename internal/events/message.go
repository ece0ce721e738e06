// Package events delivers custody domain events: an in-memory recorder, a
// log-only publisher, a postgres transactional outbox, a Kafka producer and
// the relay that drains the outbox into Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	domain "pharmatrace/internal/custody/domain/events"
)

// Message is the wire form of one event. Key is the aggregate id so every
// event of one aggregate lands on the same partition.
type Message struct {
	ID            uuid.UUID
	Type          string
	AggregateType string
	Key           string
	Payload       []byte
	CreatedAt     time.Time
}

func toMessage(e domain.Event) (Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Message{}, fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	return Message{
		ID:            e.ID,
		Type:          string(e.Type),
		AggregateType: string(e.AggregateType),
		Key:           e.AggregateID,
		Payload:       payload,
		CreatedAt:     e.OccurredAt,
	}, nil
}

func toMessages(evts []domain.Event) ([]Message, error) {
	out := make([]Message, 0, len(evts))
	for _, e := range evts {
		m, err := toMessage(e)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
