package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	domain "pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/ports"
)

var _ ports.EventPublisher = (*KafkaPublisher)(nil)

const (
	headerEventType     = "event_type"
	headerAggregateType = "aggregate_type"
	headerEventID       = "event_id"
)

// KafkaPublisher produces events synchronously; Publish returns once every
// record is acknowledged or the first failure is known.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(client *kgo.Client, topic string) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evts ...domain.Event) error {
	if len(evts) == 0 {
		return nil
	}
	msgs, err := toMessages(evts)
	if err != nil {
		return err
	}
	return p.Send(ctx, msgs...)
}

// Send produces pre-encoded messages. The outbox relay uses it directly.
func (p *KafkaPublisher) Send(ctx context.Context, msgs ...Message) error {
	records := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		records[i] = &kgo.Record{
			Topic: p.topic,
			Key:   []byte(m.Key),
			Value: m.Payload,
			Headers: []kgo.RecordHeader{
				{Key: headerEventType, Value: []byte(m.Type)},
				{Key: headerAggregateType, Value: []byte(m.AggregateType)},
				{Key: headerEventID, Value: []byte(m.ID.String())},
			},
			Timestamp: m.CreatedAt,
		}
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	return nil
}

// EnsureTopic creates the topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicas int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, partitions, replicas, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}
