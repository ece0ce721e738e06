package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRelayInterval = time.Second
	defaultRelayBatch    = 100
)

// OutboxSource is the read side of the outbox the relay drains.
type OutboxSource interface {
	Pending(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Sender delivers encoded messages to the broker.
type Sender interface {
	Send(ctx context.Context, msgs ...Message) error
}

// Relay moves outbox entries to the broker. Delivery is at-least-once: a
// crash between Send and MarkPublished resends the batch.
type Relay struct {
	source   OutboxSource
	sender   Sender
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func NewRelay(source OutboxSource, sender Sender, opts ...RelayOption) *Relay {
	r := &Relay{
		source:   source,
		sender:   sender,
		interval: defaultRelayInterval,
		batch:    defaultRelayBatch,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains the outbox until ctx is cancelled. Failed batches are logged
// and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.DrainOnce(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.logger.WarnContext(ctx, "outbox relay batch failed", "error", err)
				break
			}
			if n < r.batch {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DrainOnce sends one batch and returns how many entries it published.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	msgs, err := r.source.Pending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := r.sender.Send(ctx, msgs...); err != nil {
		return 0, err
	}
	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := r.source.MarkPublished(ctx, ids); err != nil {
		return 0, err
	}
	r.logger.DebugContext(ctx, "outbox relay published", "count", len(msgs))
	return len(msgs), nil
}
