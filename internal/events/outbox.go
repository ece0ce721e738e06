package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	domain "pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/ports"
	"pharmatrace/pkg/platform/tx"
)

var _ ports.EventPublisher = (*Outbox)(nil)

// Outbox writes events to the outbox table. When the caller's context
// carries a transaction the rows commit with it; the relay publishes them
// to Kafka afterwards.
type Outbox struct {
	db  *sql.DB
	now func() time.Time
}

func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db, now: time.Now}
}

func (o *Outbox) Publish(ctx context.Context, evts ...domain.Event) error {
	if len(evts) == 0 {
		return nil
	}
	msgs, err := toMessages(evts)
	if err != nil {
		return err
	}
	return tx.Run(ctx, o.db, func(ctx context.Context) error {
		exec := tx.Exec(ctx, o.db)
		for _, m := range msgs {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO outbox (id, event_type, aggregate_type, aggregate_id, payload, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO NOTHING`,
				m.ID, m.Type, m.AggregateType, m.Key, m.Payload, m.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert outbox entry %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

// Pending returns up to limit unpublished entries, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Message, error) {
	rows, err := tx.Exec(ctx, o.db).QueryContext(ctx, `
		SELECT id, event_type, aggregate_type, aggregate_id, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Type, &m.AggregateType, &m.Key, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (o *Outbox) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, v := range ids {
		raw[i] = v.String()
	}
	_, err := tx.Exec(ctx, o.db).ExecContext(ctx,
		`UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`,
		o.now().UTC(), pq.Array(raw),
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
