package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/ports"
	id "pharmatrace/pkg/domain"
)

var _ ports.Ledger = (*Memory)(nil)

// Memory is a deterministic in-process ledger. Transaction references are
// the keccak-256 of the request and a block counter, so identical scenarios
// produce identical references. A repeated idempotency key returns the
// transaction recorded for it without appending history.
type Memory struct {
	mu       sync.Mutex
	block    uint64
	events   map[id.TokenID][]ports.LedgerEvent
	recorded map[string]shared.TransactionReference
	fail     []error
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		events:   make(map[id.TokenID][]ports.LedgerEvent),
		recorded: make(map[string]shared.TransactionReference),
		now:      time.Now,
	}
}

// FailNext queues errors returned by the next RegisterHandoff calls, in order.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = append(m.fail, errs...)
}

func (m *Memory) RegisterHandoff(ctx context.Context, h ports.HandoffRegistration) (shared.TransactionReference, error) {
	if err := ctx.Err(); err != nil {
		return shared.TransactionReference{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.fail) > 0 {
		err := m.fail[0]
		m.fail = m.fail[1:]
		return shared.TransactionReference{}, err
	}
	if h.IdempotencyKey == "" {
		return shared.TransactionReference{}, fmt.Errorf("handoff has no idempotency key: %w", ports.ErrLedgerRejected)
	}
	if len(h.UnitIDs) == 0 {
		return shared.TransactionReference{}, fmt.Errorf("handoff names no units: %w", ports.ErrLedgerRejected)
	}
	if ref, ok := m.recorded[h.IdempotencyKey]; ok {
		return ref, nil
	}

	m.block++
	sum := sha3.NewLegacyKeccak256()
	fmt.Fprintf(sum, "%d|%s|%s|", m.block, strings.ToLower(h.From.String()), strings.ToLower(h.To.String()))
	for _, u := range h.UnitIDs {
		sum.Write([]byte(u))
		sum.Write([]byte{0})
	}
	ref, err := shared.NewTransactionReference("0x" + hex.EncodeToString(sum.Sum(nil)))
	if err != nil {
		return shared.TransactionReference{}, err
	}
	m.recorded[h.IdempotencyKey] = ref

	at := m.now().UTC()
	for _, u := range h.UnitIDs {
		m.events[u] = append(m.events[u], ports.LedgerEvent{
			TxRef:       ref.String(),
			Kind:        "handoff",
			From:        h.From.String(),
			To:          h.To.String(),
			BlockNumber: m.block,
			RecordedAt:  at,
		})
	}
	return ref, nil
}

func (m *Memory) EventLog(ctx context.Context, token id.TokenID) ([]ports.LedgerEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	evts := m.events[token]
	out := make([]ports.LedgerEvent, len(evts))
	copy(out, evts)
	return out, nil
}
