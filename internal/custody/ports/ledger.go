package ports

import (
	"context"
	"errors"
	"time"

	"pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
)

// ErrLedgerRejected marks a definite ledger failure: the handoff was not
// recorded and retrying the same request will not help. Indeterminate
// outcomes are reported with sentinel.ErrIndeterminate instead.
var ErrLedgerRejected = errors.New("ledger rejected request")

// HandoffRegistration is one custody handoff to record on the ledger.
// IdempotencyKey is stable across retries of the same handoff so the ledger
// can answer a repeat with the transaction it already recorded.
type HandoffRegistration struct {
	IdempotencyKey string
	From           shared.LedgerAddress
	To             shared.LedgerAddress
	UnitIDs        []id.TokenID
}

// Ledger is the external append-only transaction log. Calls block until the
// ledger answers or the context expires.
type Ledger interface {
	RegisterHandoff(ctx context.Context, h HandoffRegistration) (shared.TransactionReference, error)
	EventLog(ctx context.Context, token id.TokenID) ([]LedgerEvent, error)
}

// LedgerEvent is one entry of the ledger's own history for a token.
type LedgerEvent struct {
	TxRef       string    `json:"tx_ref"`
	Kind        string    `json:"kind"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	BlockNumber uint64    `json:"block_number"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// EventPublisher hands domain events to subscribers with at-least-once delivery.
type EventPublisher interface {
	Publish(ctx context.Context, evts ...events.Event) error
}
