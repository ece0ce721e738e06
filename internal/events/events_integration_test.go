//go:build integration

package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	domain "pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/events"
	"pharmatrace/pkg/platform/tx"
	"pharmatrace/pkg/testutil/containers"
)

type DeliverySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	producer *kgo.Client
	outbox   *events.Outbox
	topic    string
}

func TestDeliverySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(DeliverySuite))
}

func (s *DeliverySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
	s.topic = "custody-events-test"

	client, err := kgo.NewClient(kgo.SeedBrokers(s.redpanda.Brokers...))
	s.Require().NoError(err)
	s.producer = client
	s.Require().NoError(events.EnsureTopic(context.Background(), client, s.topic, 1, 1))
	s.Require().NoError(events.EnsureTopic(context.Background(), client, s.topic, 1, 1), "existing topic is not an error")

	s.outbox = events.NewOutbox(s.postgres.DB)
}

func (s *DeliverySuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *DeliverySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "outbox"))
}

func (s *DeliverySuite) consume(n int) []*kgo.Record {
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	var out []*kgo.Record
	for len(out) < n {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "timed out waiting for records")
		fetches.EachRecord(func(r *kgo.Record) { out = append(out, r) })
	}
	return out
}

func (s *DeliverySuite) TestOutboxRollsBackWithTransaction() {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	err := tx.Run(ctx, s.postgres.DB, func(ctx context.Context) error {
		s.Require().NoError(s.outbox.Publish(ctx, domain.New(domain.TypeUnitMinted, domain.AggregateUnit, "T1", at, nil)))
		return context.Canceled
	})
	s.ErrorIs(err, context.Canceled)

	pending, err := s.outbox.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *DeliverySuite) TestRelayDeliversOutboxToKafka() {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Require().NoError(s.outbox.Publish(ctx,
		domain.New(domain.TypeUnitMinted, domain.AggregateUnit, "T1", at, nil),
		domain.New(domain.TypeUnitMinted, domain.AggregateUnit, "T2", at.Add(time.Second), nil),
	))

	relay := events.NewRelay(s.outbox, events.NewKafkaPublisher(s.producer, s.topic))
	n, err := relay.DrainOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	pending, err := s.outbox.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)

	records := s.consume(2)
	keys := []string{string(records[0].Key), string(records[1].Key)}
	s.ElementsMatch([]string{"T1", "T2"}, keys)
	s.Equal("event_type", records[0].Headers[0].Key)
	s.Equal("unit.minted", string(records[0].Headers[0].Value))
}
